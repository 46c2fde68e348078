package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/auth"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/pkg/pagination"
)

const dateLayout = "2006-01-02"

type Handler struct {
	facade   *Facade
	holds    *HoldManager
	booking  *BookingService
	waitlist *WaitlistService
	logger   zerolog.Logger
}

func NewHandler(facade *Facade, holds *HoldManager, booking *BookingService, waitlist *WaitlistService, logger zerolog.Logger) *Handler {
	return &Handler{facade: facade, holds: holds, booking: booking, waitlist: waitlist, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	read.GET("/doctors/:id/available-dates", h.AvailableDates)
	read.GET("/doctors/:id/slots", h.AvailableSlots)
	read.GET("/doctors/:id/slots/by-location", h.SlotsByLocation)
	read.GET("/appointments", h.ListAppointments)
	read.GET("/appointments/:id", h.GetAppointment)
	read.POST("/appointments/:id/cancel", h.CancelAppointment)
	read.POST("/appointments/:id/reschedule", h.RescheduleAppointment)

	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/holds", h.CreateHold)
	patient.GET("/holds/:session", h.GetHold)
	patient.POST("/holds/:session/extend", h.ExtendHold)
	patient.DELETE("/holds/:session", h.ReleaseHold)
	patient.POST("/appointments", h.CreateAppointment)
	patient.POST("/waitlist", h.JoinWaitlist)
	patient.GET("/waitlist/:id/position", h.WaitlistPosition)
	patient.DELETE("/waitlist/:id", h.LeaveWaitlist)
}

// -- Availability --

func (h *Handler) AvailableDates(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	from, err := h.optionalDate(c, "start")
	if err != nil {
		return err
	}
	to, err := h.optionalDate(c, "end")
	if err != nil {
		return err
	}

	dates, err := h.facade.AvailableDates(c.Request().Context(), doctorID, from, to)
	if err != nil {
		return h.httpError(c, err)
	}
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(dateLayout))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id": doctorID,
		"dates":     out,
	})
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	date, err := h.requiredDate(c)
	if err != nil {
		return err
	}

	q := SlotQuery{
		DoctorID:        doctorID,
		Date:            date,
		Location:        AnyLocation(),
		AppointmentType: c.QueryParam("type"),
	}
	if v := c.QueryParam("location_id"); v != "" {
		loc, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid location_id")
		}
		q.Location = AtLocation(loc)
	} else if tele, _ := strconv.ParseBool(c.QueryParam("teleconsultation")); tele {
		q.Location = Teleconsultation()
	}
	if v := c.QueryParam("duration"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid duration")
		}
		q.DurationMinutes = d
	}
	q.IncludeUnavailable, _ = strconv.ParseBool(c.QueryParam("include_unavailable"))

	slots, err := h.facade.AvailableSlots(c.Request().Context(), q)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id": doctorID,
		"date":      date.Format(dateLayout),
		"slots":     slots,
	})
}

func (h *Handler) SlotsByLocation(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	date, err := h.requiredDate(c)
	if err != nil {
		return err
	}
	groups, err := h.facade.SlotsByLocation(c.Request().Context(), doctorID, date, c.QueryParam("type"))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id": doctorID,
		"date":      date.Format(dateLayout),
		"locations": groups,
	})
}

// -- Holds --

type createHoldRequest struct {
	DoctorID   uuid.UUID  `json:"doctor_id" validate:"required"`
	SlotAt     time.Time  `json:"slot_at" validate:"required"`
	LocationID *uuid.UUID `json:"location_id"`
}

type holdResponse struct {
	SessionID  string     `json:"session_id"`
	DoctorID   uuid.UUID  `json:"doctor_id"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
	SlotAt     time.Time  `json:"slot_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

func toHoldResponse(hold *Hold) holdResponse {
	return holdResponse{
		SessionID:  hold.SessionID,
		DoctorID:   hold.DoctorID,
		LocationID: hold.LocationID,
		SlotAt:     hold.SlotAt,
		ExpiresAt:  hold.ExpiresAt,
	}
}

// CreateHold marks the slot held in cached listings before the store
// answers and rolls the mark back when the hold is refused.
func (h *Handler) CreateHold(c echo.Context) error {
	var req createHoldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	in := CreateHoldInput{DoctorID: req.DoctorID, SlotAt: req.SlotAt, LocationID: req.LocationID}
	if id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
		in.PatientID = &id
	}

	pending := h.facade.MarkHeld(req.DoctorID, req.SlotAt)
	hold, err := h.holds.CreateHold(c.Request().Context(), in)
	if err != nil {
		pending.Rollback()
		return h.httpError(c, err)
	}
	pending.Confirm()
	return c.JSON(http.StatusCreated, toHoldResponse(hold))
}

func (h *Handler) GetHold(c echo.Context) error {
	hold, err := h.holds.GetHold(c.Request().Context(), c.Param("session"))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, toHoldResponse(hold))
}

func (h *Handler) ExtendHold(c echo.Context) error {
	hold, err := h.holds.ExtendHold(c.Request().Context(), c.Param("session"))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, toHoldResponse(hold))
}

// ReleaseHold always answers 204; releasing an unknown session is not an error.
func (h *Handler) ReleaseHold(c echo.Context) error {
	ctx := c.Request().Context()
	session := c.Param("session")
	hold, _ := h.holds.GetHold(ctx, session)
	if err := h.holds.ReleaseHold(ctx, session); err != nil {
		return h.httpError(c, err)
	}
	if hold != nil {
		h.facade.Invalidate(hold.DoctorID)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointments --

type bookRequest struct {
	DoctorID        uuid.UUID  `json:"doctor_id" validate:"required"`
	PatientID       *uuid.UUID `json:"patient_id"`
	StartAt         time.Time  `json:"start_at" validate:"required"`
	Type            string     `json:"type" validate:"omitempty,oneof=presencial teleconsulta"`
	LocationID      *uuid.UUID `json:"location_id"`
	Specialty       *string    `json:"specialty" validate:"omitempty,max=120"`
	DurationMinutes int        `json:"duration_minutes" validate:"omitempty,min=15"`
	Notes           *string    `json:"notes" validate:"omitempty,max=2000"`
	SessionID       string     `json:"session_id"`
}

// CreateAppointment commits the booking, then releases the caller's hold and
// drops cached availability for the doctor.
func (h *Handler) CreateAppointment(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	var patientID uuid.UUID
	if req.PatientID != nil {
		patientID = *req.PatientID
	} else if id, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
		patientID = id
	} else {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if !auth.CanActFor(ctx, patientID) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot book for another patient")
	}

	a, err := h.booking.Book(ctx, BookingRequest{
		DoctorID:        req.DoctorID,
		PatientID:       patientID,
		StartAt:         req.StartAt,
		Type:            req.Type,
		LocationID:      req.LocationID,
		Specialty:       req.Specialty,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	})
	if err != nil {
		return h.httpError(c, err)
	}

	if req.SessionID != "" {
		if err := h.holds.ReleaseHold(ctx, req.SessionID); err != nil {
			h.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("hold release after booking failed")
		}
	}
	h.facade.Invalidate(a.DoctorID)
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.ownAppointment(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

// ListAppointments lists a doctor's agenda when doctor_id is given, the
// patient's appointments otherwise.
func (h *Handler) ListAppointments(c echo.Context) error {
	ctx := c.Request().Context()

	if v := c.QueryParam("doctor_id"); v != "" {
		doctorID, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		if !auth.CanActFor(ctx, doctorID) {
			return echo.NewHTTPError(http.StatusForbidden, "cannot read another doctor's agenda")
		}
		from, err := h.optionalDate(c, "start")
		if err != nil {
			return err
		}
		to, err := h.optionalDate(c, "end")
		if err != nil {
			return err
		}
		start := h.facade.Today()
		if from != nil {
			start = *from
		}
		end := start.AddDate(0, 0, DefaultDatesHorizonDays)
		if to != nil {
			end = to.AddDate(0, 0, 1)
		}
		items, err := h.booking.ListByDoctor(ctx, doctorID, start, end)
		if err != nil {
			return h.httpError(c, err)
		}
		if items == nil {
			items = []*Appointment{}
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
	}

	raw := c.QueryParam("patient_id")
	if raw == "" {
		raw = auth.UserIDFromContext(ctx)
	}
	patientID, err := uuid.Parse(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if !auth.CanActFor(ctx, patientID) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot read another patient's appointments")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.booking.ListByPatient(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL, pg))
}

type cancelRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	a, err := h.ownAppointment(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	cancelled, err := h.booking.Cancel(ctx, a.ID, req.Reason)
	if err != nil {
		return h.httpError(c, err)
	}
	h.facade.Invalidate(cancelled.DoctorID)
	if h.waitlist != nil {
		day := cancelled.StartAt.In(h.facade.Location())
		if _, err := h.waitlist.NotifyNext(ctx, cancelled.DoctorID, day); err != nil {
			h.logger.Warn().Err(err).Str("doctor_id", cancelled.DoctorID.String()).Msg("waitlist notification failed")
		}
	}
	return c.JSON(http.StatusOK, cancelled)
}

type rescheduleRequest struct {
	StartAt time.Time `json:"start_at" validate:"required"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	a, err := h.ownAppointment(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	moved, err := h.booking.Reschedule(c.Request().Context(), a.ID, req.StartAt)
	if err != nil {
		return h.httpError(c, err)
	}
	h.facade.Invalidate(moved.DoctorID)
	return c.JSON(http.StatusOK, moved)
}

// ownAppointment loads :id and checks the caller is its patient or doctor.
func (h *Handler) ownAppointment(c echo.Context) (*Appointment, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	ctx := c.Request().Context()
	a, err := h.booking.Get(ctx, id)
	if err != nil {
		return nil, h.httpError(c, err)
	}
	if !auth.CanActFor(ctx, a.PatientID) && !auth.CanActFor(ctx, a.DoctorID) {
		return nil, echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return a, nil
}

// -- Waitlist --

type waitlistRequest struct {
	DoctorID      uuid.UUID  `json:"doctor_id" validate:"required"`
	PatientID     *uuid.UUID `json:"patient_id"`
	PreferredDate string     `json:"preferred_date" validate:"required,datetime=2006-01-02"`
	Period        string     `json:"period" validate:"omitempty,oneof=morning afternoon evening any"`
	Specialty     *string    `json:"specialty" validate:"omitempty,max=120"`
}

func (h *Handler) JoinWaitlist(c echo.Context) error {
	var req waitlistRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	var patientID uuid.UUID
	if req.PatientID != nil {
		patientID = *req.PatientID
	} else if id, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
		patientID = id
	} else {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if !auth.CanActFor(ctx, patientID) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot join the waiting list for another patient")
	}
	date, err := time.ParseInLocation(dateLayout, req.PreferredDate, h.facade.Location())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "preferred_date must be YYYY-MM-DD")
	}

	e, err := h.waitlist.Add(ctx, WaitlistRequest{
		PatientID:     patientID,
		DoctorID:      req.DoctorID,
		PreferredDate: date,
		Period:        req.Period,
		Specialty:     req.Specialty,
	})
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) WaitlistPosition(c echo.Context) error {
	e, err := h.ownWaitlistEntry(c)
	if err != nil {
		return err
	}
	pos, err := h.waitlist.Position(c.Request().Context(), e.ID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":       e.ID,
		"position": pos,
	})
}

func (h *Handler) LeaveWaitlist(c echo.Context) error {
	e, err := h.ownWaitlistEntry(c)
	if err != nil {
		return err
	}
	if err := h.waitlist.Cancel(c.Request().Context(), e.ID); err != nil {
		return h.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ownWaitlistEntry(c echo.Context) (*WaitlistEntry, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid waitlist id")
	}
	e, err := h.waitlist.Get(c.Request().Context(), id)
	if err != nil {
		return nil, h.httpError(c, err)
	}
	if !auth.CanActFor(c.Request().Context(), e.PatientID) {
		return nil, echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return e, nil
}

// -- helpers --

func (h *Handler) requiredDate(c echo.Context) (time.Time, error) {
	raw := c.QueryParam("date")
	if raw == "" {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	d, err := time.ParseInLocation(dateLayout, raw, h.facade.Location())
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	return d, nil
}

func (h *Handler) optionalDate(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation(dateLayout, raw, h.facade.Location())
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be YYYY-MM-DD")
	}
	return &d, nil
}

// httpError maps the domain taxonomy to status codes. Messages come from the
// sentinels; storage errors are logged and never echoed.
func (h *Handler) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrSlotUnavailable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidSchedulingTime):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ErrInvalidSchedulingTime.Error())
	case errors.Is(err, ErrHoldNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTransientSource):
		var se *SourceError
		if errors.As(err, &se) {
			h.logger.Error().Err(se.Err).Str("op", se.Op).Int("attempts", se.Attempts).Msg("scheduling source unavailable")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrTransientSource.Error())
	case errors.Is(err, ErrAuthorization):
		return echo.NewHTTPError(http.StatusUnauthorized, ErrAuthorization.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrAlreadyWaitlisted), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("scheduling request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
