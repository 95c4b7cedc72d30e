package visit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/scheduling"
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
	clinician := auth.RequireRole(auth.RoleDoctor)

	api.GET("/appointments/:id/details", h.GetDetails)
	api.GET("/appointments/:id/causes", h.ListCauses)
	api.GET("/appointments/:id/prescriptions", h.ListPrescriptions)

	api.GET("/appointment-causes", h.ListAllCauses)
	api.POST("/appointment-causes", h.AddCause, clinician)
	api.DELETE("/appointment-causes/:key", h.RemoveCause, clinician)
	api.POST("/appointment-medications", h.AddPrescription, clinician)
	api.PUT("/appointment-medications/:id", h.UpdatePrescription, clinician)
	api.DELETE("/appointment-medications/:id", h.DeletePrescription, clinician)
	api.POST("/documents", h.AddReport, clinician)
}

func (h *Handler) toHTTPError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrCauseRequired),
		errors.Is(err, ErrInvalidCause),
		errors.Is(err, ErrDuplicateCause),
		errors.Is(err, ErrInvalidCauseKey),
		errors.Is(err, ErrMedicationRequired),
		errors.Is(err, ErrMedicationIDRequired),
		errors.Is(err, ErrInvalidMedication),
		errors.Is(err, ErrReportRequired):
		return echo.NewHTTPError(http.StatusBadRequest, UserMessage(err))
	case errors.Is(err, scheduling.ErrAppointmentNotFound),
		errors.Is(err, ErrPrescriptionNotFound),
		errors.Is(err, ErrCauseNotFound):
		return echo.NewHTTPError(http.StatusNotFound, UserMessage(err))
	}
	rid, _ := c.Get("request_id").(string)
	h.logger.Error().Err(err).Str("request_id", rid).Str("path", c.Path()).Msg("visit request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) GetDetails(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Details(c.Request().Context(), id)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListAllCauses(c echo.Context) error {
	items, err := h.svc.AllCauses(c.Request().Context())
	if err != nil {
		return h.toHTTPError(c, err)
	}
	if items == nil {
		items = []*Cause{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListCauses(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Causes(c.Request().Context(), id)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	if items == nil {
		items = []*Cause{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Prescriptions(c.Request().Context(), id)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	if items == nil {
		items = []*Prescription{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddCause(c echo.Context) error {
	var in CauseInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cause, err := h.svc.AddCause(c.Request().Context(), in)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, cause)
}

func (h *Handler) RemoveCause(c echo.Context) error {
	if err := h.svc.RemoveCause(c.Request().Context(), c.Param("key")); err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Cause deleted"})
}

func (h *Handler) AddPrescription(c echo.Context) error {
	var in PrescriptionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.AddPrescription(c.Request().Context(), in)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdatePrescription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in PrescriptionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.UpdatePrescription(c.Request().Context(), id, in)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePrescription(c.Request().Context(), id); err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Prescription deleted"})
}

func (h *Handler) AddReport(c echo.Context) error {
	var in ReportInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rep, err := h.svc.AddReport(c.Request().Context(), in)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, rep)
}
