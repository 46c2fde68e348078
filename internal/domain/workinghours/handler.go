package workinghours

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/auth"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/db"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/validation"
)

// ValidationRules registers the "weekday" request tag.
func ValidationRules() []validation.Rule {
	return []validation.Rule{
		{Tag: "weekday", Message: "must be a day of week", Valid: func(s string) bool {
			return Day(s).Valid()
		}},
	}
}

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	read.GET("/doctors/:id/working-hours", h.GetTemplate)

	write := api.Group("", auth.RequireRole(auth.RoleDoctor))
	write.PUT("/doctors/:id/working-hours", h.SaveTemplate)
	write.PATCH("/doctors/:id/working-hours/:day/:index", h.SetBlockActive)
}

type saveTemplateRequest struct {
	DefaultSlotDurationMinutes int                 `json:"default_slot_duration_minutes" validate:"required,min=15"`
	BufferMinutes              int                 `json:"buffer_minutes" validate:"min=0"`
	TypeDurations              map[string]int      `json:"type_durations" validate:"omitempty,dive,min=15"`
	Days                       map[Day][]TimeBlock `json:"days" validate:"required,min=1,dive,keys,weekday,endkeys"`
}

type setBlockActiveRequest struct {
	Day    Day   `json:"-" param:"day" validate:"required,weekday"`
	Active *bool `json:"active" validate:"required"`
}

// GetTemplate returns the doctor's template. A doctor without one gets the
// default template with configured=false so onboarding can prefill it.
func (h *Handler) GetTemplate(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	t, configured, err := h.svc.GetOrDefault(c.Request().Context(), doctorID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"configured": configured,
		"template":   t,
	})
}

func (h *Handler) SaveTemplate(c echo.Context) error {
	doctorID, err := h.ownDoctorID(c)
	if err != nil {
		return err
	}
	var req saveTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	t := &Template{
		DoctorID:                   doctorID,
		DefaultSlotDurationMinutes: req.DefaultSlotDurationMinutes,
		BufferMinutes:              req.BufferMinutes,
		TypeDurations:              req.TypeDurations,
		Days:                       req.Days,
	}
	if err := h.svc.Save(c.Request().Context(), t); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) SetBlockActive(c echo.Context) error {
	doctorID, err := h.ownDoctorID(c)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid block index")
	}
	var req setBlockActiveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	t, err := h.svc.SetBlockActive(c.Request().Context(), doctorID, req.Day, index, *req.Active)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// ownDoctorID parses :id and checks the caller is that doctor (or an admin).
func (h *Handler) ownDoctorID(c echo.Context) (uuid.UUID, error) {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	if !auth.CanActFor(c.Request().Context(), doctorID) {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "cannot edit another doctor's working hours")
	}
	return doctorID, nil
}

// httpError keeps storage detail out of responses. Only validation messages
// are echoed back.
func (h *Handler) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case db.IsPermissionDenied(err):
		return echo.NewHTTPError(http.StatusUnauthorized, "sign in to continue")
	}
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("working hours request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
