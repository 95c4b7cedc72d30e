package scheduling

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/calendar"
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

	api.GET("/scheduleconfig", h.ListConfigs)
	api.GET("/scheduleconfig/by-date/:date", h.GetConfigByDate)
	api.POST("/scheduleconfig", h.UpsertConfig, staff)
	api.DELETE("/scheduleconfig/id/:id", h.DeleteConfigByID, staff)
	api.DELETE("/scheduleconfig/:date", h.DeleteConfigByDate, staff)

	api.GET("/availability/:date", h.GetAvailability)

	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments", h.CreateAppointment)
	api.PUT("/appointments/:id", h.UpdateAppointment, staff)
	api.DELETE("/appointments/:id", h.DeleteAppointment)
}

// toHTTPError maps rejections to their staff-facing text and hides storage
// errors.
func (h *Handler) toHTTPError(c echo.Context, err error) error {
	switch {
	case IsBookingRejection(err),
		errors.Is(err, ErrInvalidSchedule),
		errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidTimeFormat),
		errors.Is(err, ErrScheduleInUse):
		return echo.NewHTTPError(http.StatusBadRequest, UserMessage(err))
	case errors.Is(err, ErrScheduleNotFound), errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, UserMessage(err))
	}
	rid, _ := c.Get("request_id").(string)
	h.logger.Error().Err(err).Str("request_id", rid).Str("path", c.Path()).Msg("scheduling request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// bindError names the offending field when the body parsed but a value had
// the wrong type.
func bindError(err error) error {
	var field *FieldError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &field):
	case errors.As(err, &typeErr) && typeErr.Field != "":
		field = typeFieldError(typeErr)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return echo.NewHTTPError(http.StatusBadRequest, UserMessage(field))
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseDateParam(raw string) (calendar.Date, error) {
	d, err := calendar.NormalizeDate(raw)
	if err != nil {
		return calendar.Date{}, echo.NewHTTPError(http.StatusBadRequest, UserMessage(ErrInvalidDate))
	}
	return d, nil
}

// -- Schedule config handlers --

func (h *Handler) ListConfigs(c echo.Context) error {
	items, err := h.svc.ListConfigs(c.Request().Context())
	if err != nil {
		return h.toHTTPError(c, err)
	}
	if items == nil {
		items = []*ScheduleConfig{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetConfigByDate(c echo.Context) error {
	date, err := parseDateParam(c.Param("date"))
	if err != nil {
		return err
	}
	cfg, err := h.svc.GetConfigByDate(c.Request().Context(), date)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	// A date without a config answers 200 with a null body.
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) UpsertConfig(c echo.Context) error {
	var in ScheduleConfigInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	cfg, err := h.svc.UpsertConfig(c.Request().Context(), in)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) DeleteConfigByID(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cfg, err := h.svc.DeleteConfigByID(c.Request().Context(), id)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      cfg.ID,
		"date":    cfg.Date,
	})
}

func (h *Handler) DeleteConfigByDate(c echo.Context) error {
	date, err := parseDateParam(c.Param("date"))
	if err != nil {
		return err
	}
	if err := h.svc.DeleteConfigByDate(c.Request().Context(), date); err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"date":    date,
	})
}

// -- Availability --

func (h *Handler) GetAvailability(c echo.Context) error {
	date, err := parseDateParam(c.Param("date"))
	if err != nil {
		return err
	}
	slots, err := h.svc.SlotsForDate(c.Request().Context(), date)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, slots)
}

// -- Appointment handlers --

func (h *Handler) ListAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		items []*Appointment
		err   error
	)
	if raw := c.QueryParam("date"); raw != "" {
		date, perr := parseDateParam(raw)
		if perr != nil {
			return perr
		}
		items, err = h.svc.ListAppointmentsByDate(ctx, date)
	} else {
		items, err = h.svc.ListAppointments(ctx)
	}
	if err != nil {
		return h.toHTTPError(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	a, err := h.svc.BookAppointment(c.Request().Context(), req)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), id, req)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAppointment(c.Request().Context(), id); err != nil {
		return h.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Appointment deleted"})
}
