package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/domain/workinghours"
)

type BookingRequest struct {
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	StartAt         time.Time
	Type            string
	LocationID      *uuid.UUID
	Specialty       *string
	DurationMinutes int
	Notes           *string
}

// BookingService commits appointments. At most one occupying appointment can
// exist per (doctor, start time); the store's unique index decides races.
type BookingService struct {
	appts     AppointmentRepository
	tx        TxRunner
	templates workinghours.Source
	events    EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

type BookingOption func(*BookingService)

func WithBookingTx(tx TxRunner) BookingOption {
	return func(s *BookingService) { s.tx = tx }
}

// WithDurationSource resolves a missing duration from the doctor's
// template for the appointment type.
func WithDurationSource(src workinghours.Source) BookingOption {
	return func(s *BookingService) { s.templates = src }
}

func WithBookingEvents(p EventPublisher) BookingOption {
	return func(s *BookingService) { s.events = p }
}

func WithBookingLogger(l zerolog.Logger) BookingOption {
	return func(s *BookingService) { s.logger = l }
}

func WithBookingClock(now func() time.Time) BookingOption {
	return func(s *BookingService) { s.now = now }
}

func NewBookingService(appts AppointmentRepository, opts ...BookingOption) *BookingService {
	s := &BookingService{
		appts:  appts,
		tx:     noTx{},
		events: NopPublisher{},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Book re-validates the slot and writes the appointment. It does not touch
// holds; callers release theirs after a successful commit.
func (s *BookingService) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	a, err := s.book(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Time("start_at", a.StartAt).
		Msg("appointment booked")
	e := newEvent(EventAppointmentBooked, a.DoctorID, s.now())
	e.AppointmentID, e.PatientID, e.SlotAt = &a.ID, &a.PatientID, &a.StartAt
	publish(ctx, s.events, s.logger, e)
	return a, nil
}

func (s *BookingService) book(ctx context.Context, req BookingRequest, rescheduledFrom *uuid.UUID) (*Appointment, error) {
	if req.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	}
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if req.Type == "" {
		req.Type = TypeInPerson
	}

	occupied, err := s.appts.Occupied(ctx, req.DoctorID, req.StartAt)
	if err != nil {
		return nil, translate("check occupancy", err)
	}
	if occupied {
		return nil, ErrSlotUnavailable
	}
	if !req.StartAt.After(s.now()) {
		return nil, ErrInvalidSchedulingTime
	}

	a := &Appointment{
		ID:              uuid.New(),
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		StartAt:         req.StartAt,
		DurationMinutes: s.duration(ctx, req),
		Type:            req.Type,
		LocationID:      copyID(req.LocationID),
		Specialty:       req.Specialty,
		Status:          StatusScheduled,
		Notes:           req.Notes,
		RescheduledFrom: rescheduledFrom,
	}
	if err := s.appts.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrSlotTaken
		}
		return nil, translate("create appointment", err)
	}
	return a, nil
}

func (s *BookingService) duration(ctx context.Context, req BookingRequest) int {
	if req.DurationMinutes > 0 {
		return req.DurationMinutes
	}
	if s.templates != nil {
		t, err := s.templates.Get(ctx, req.DoctorID)
		if err == nil {
			if d := t.DurationFor(req.Type); d > 0 {
				return d
			}
		} else if !errors.Is(err, workinghours.ErrNotFound) {
			s.logger.Warn().Err(err).Str("doctor_id", req.DoctorID.String()).Msg("duration lookup failed, using default")
		}
	}
	return workinghours.DefaultAppointmentMinutes
}

func (s *BookingService) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, translate("get appointment", err)
	}
	return a, nil
}

func (s *BookingService) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	items, total, err := s.appts.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, translate("list appointments", err)
	}
	return items, total, nil
}

func (s *BookingService) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	items, err := s.appts.ListByDoctor(ctx, doctorID, from, to)
	if err != nil {
		return nil, translate("list appointments", err)
	}
	return items, nil
}

// Cancel frees the slot. Only occupying appointments can be cancelled.
func (s *BookingService) Cancel(ctx context.Context, id uuid.UUID, reason *string) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, translate("get appointment", err)
	}
	if !Occupies(a.Status) {
		return nil, ErrInvalidTransition
	}
	if err := s.appts.UpdateStatus(ctx, id, StatusCancelled, reason); err != nil {
		return nil, translate("cancel appointment", err)
	}
	now := s.now()
	a.Status, a.CancelledAt, a.CancelReason = StatusCancelled, &now, reason

	s.logger.Info().Str("appointment_id", id.String()).Msg("appointment cancelled")
	e := newEvent(EventAppointmentCancelled, a.DoctorID, now)
	e.AppointmentID, e.PatientID, e.SlotAt = &a.ID, &a.PatientID, &a.StartAt
	publish(ctx, s.events, s.logger, e)
	return a, nil
}

// Reschedule books newStart and retires the old appointment in one
// transaction. A taken target slot leaves the original untouched.
func (s *BookingService) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time) (*Appointment, error) {
	var old, created *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		old, err = s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !Occupies(old.Status) {
			return ErrInvalidTransition
		}
		if newStart.Equal(old.StartAt) {
			return fmt.Errorf("%w: new time must differ from the current one", ErrInvalidInput)
		}
		created, err = s.book(ctx, BookingRequest{
			DoctorID:        old.DoctorID,
			PatientID:       old.PatientID,
			StartAt:         newStart,
			Type:            old.Type,
			LocationID:      old.LocationID,
			Specialty:       old.Specialty,
			DurationMinutes: old.DurationMinutes,
			Notes:           old.Notes,
		}, &old.ID)
		if err != nil {
			return err
		}
		return s.appts.UpdateStatus(ctx, old.ID, StatusRescheduled, nil)
	})
	if err != nil {
		return nil, translate("reschedule appointment", err)
	}

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("rescheduled_from", old.ID.String()).
		Time("start_at", created.StartAt).
		Msg("appointment rescheduled")
	e := newEvent(EventAppointmentRescheduled, created.DoctorID, s.now())
	e.AppointmentID, e.PatientID, e.SlotAt = &created.ID, &created.PatientID, &created.StartAt
	publish(ctx, s.events, s.logger, e)
	return created, nil
}
