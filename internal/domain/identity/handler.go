package identity

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := auth.RequireRole(auth.RoleSecretary, auth.RoleDoctor)

	api.GET("/patients", h.ListPatients, staff)
	api.GET("/patients/:id", h.GetPatient)
	api.POST("/patients", h.CreatePatient, staff)
	api.DELETE("/patients/:id", h.DeletePatient, staff)

	api.GET("/users", h.ListUsers)
}

func (h *Handler) toHTTPError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNameRequired), errors.Is(err, ErrInvalidGender), errors.Is(err, ErrInvalidDOB):
		return echo.NewHTTPError(http.StatusBadRequest, UserMessage(err))
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, UserMessage(err))
	}
	rid, _ := c.Get("request_id").(string)
	h.logger.Error().Err(err).Str("request_id", rid).Str("path", c.Path()).Msg("identity request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) ListPatients(c echo.Context) error {
	items, err := h.svc.ListPatients(c.Request().Context())
	if err != nil {
		return h.toHTTPError(c, err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.CreatePatient(c.Request().Context(), in)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Patient and all related records deleted successfully"})
}

func (h *Handler) ListUsers(c echo.Context) error {
	items, err := h.svc.ListUsers(c.Request().Context(), c.QueryParam("role"))
	if err != nil {
		return h.toHTTPError(c, err)
	}
	if items == nil {
		items = []*User{}
	}
	return c.JSON(http.StatusOK, items)
}
