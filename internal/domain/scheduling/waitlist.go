package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type WaitlistRequest struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	PreferredDate time.Time
	Period        string
	Specialty     *string
}

// WaitlistService queues patients for a doctor's fully booked day.
type WaitlistService struct {
	repo   WaitlistRepository
	events EventPublisher
	logger zerolog.Logger
	now    func() time.Time
	loc    *time.Location
}

type WaitlistOption func(*WaitlistService)

// WithWaitlistTimezone sets the zone calendar days are taken in. It should
// match the facade's zone so "today" agrees across both.
func WithWaitlistTimezone(loc *time.Location) WaitlistOption {
	return func(s *WaitlistService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewWaitlistService(repo WaitlistRepository, events EventPublisher, logger zerolog.Logger, opts ...WaitlistOption) *WaitlistService {
	if events == nil {
		events = NopPublisher{}
	}
	s := &WaitlistService{repo: repo, events: events, logger: logger, now: time.Now, loc: time.UTC}
	for _, o := range opts {
		o(s)
	}
	return s
}

// calendarDay maps t to its date in the service zone, stored as UTC midnight.
func (s *WaitlistService) calendarDay(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validPeriod(p string) bool {
	switch p {
	case PeriodMorning, PeriodAfternoon, PeriodEvening, PeriodAny:
		return true
	}
	return false
}

// Add queues the patient. A second active entry for the same doctor and
// date is rejected with ErrAlreadyWaitlisted.
func (s *WaitlistService) Add(ctx context.Context, req WaitlistRequest) (*WaitlistEntry, error) {
	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id and doctor_id are required", ErrInvalidInput)
	}
	if req.Period == "" {
		req.Period = PeriodAny
	}
	if !validPeriod(req.Period) {
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidInput, req.Period)
	}
	date := s.calendarDay(req.PreferredDate)
	if date.Before(s.calendarDay(s.now())) {
		return nil, ErrInvalidSchedulingTime
	}

	e := &WaitlistEntry{
		ID:            uuid.New(),
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		PreferredDate: date,
		Period:        req.Period,
		Specialty:     req.Specialty,
		Status:        WaitlistActive,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrAlreadyWaitlisted
		}
		return nil, translate("join waitlist", err)
	}

	s.logger.Info().Str("doctor_id", e.DoctorID.String()).Str("date", e.PreferredDate.Format("2006-01-02")).Msg("patient joined waitlist")
	ev := newEvent(EventWaitlistJoined, e.DoctorID, s.now())
	ev.PatientID = &e.PatientID
	publish(ctx, s.events, s.logger, ev)
	return e, nil
}

func (s *WaitlistService) Get(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translate("get waitlist entry", err)
	}
	return e, nil
}

// Position is 1 for the first active entry in line. Inactive entries have no
// position and return ErrNotFound.
func (s *WaitlistService) Position(ctx context.Context, id uuid.UUID) (int, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, translate("get waitlist entry", err)
	}
	if e.Status != WaitlistActive {
		return 0, ErrNotFound
	}
	ahead, err := s.repo.CountAhead(ctx, e)
	if err != nil {
		return 0, translate("waitlist position", err)
	}
	return ahead + 1, nil
}

func (s *WaitlistService) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.UpdateStatus(ctx, id, WaitlistCancelled); err != nil {
		return translate("cancel waitlist entry", err)
	}
	return nil
}

// Next returns the active entries for the doctor and date in queue order.
func (s *WaitlistService) Next(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*WaitlistEntry, error) {
	items, err := s.repo.ListActive(ctx, doctorID, s.calendarDay(date))
	if err != nil {
		return nil, translate("list waitlist", err)
	}
	return items, nil
}

// NotifyNext marks the head of the queue notified after a slot frees up. It
// returns nil when nobody is waiting.
func (s *WaitlistService) NotifyNext(ctx context.Context, doctorID uuid.UUID, date time.Time) (*WaitlistEntry, error) {
	items, err := s.Next(ctx, doctorID, date)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	head := items[0]
	if err := s.repo.UpdateStatus(ctx, head.ID, WaitlistNotified); err != nil {
		return nil, translate("notify waitlist", err)
	}
	head.Status = WaitlistNotified
	s.logger.Info().Str("doctor_id", doctorID.String()).Str("entry_id", head.ID.String()).Msg("waitlist entry notified")
	return head, nil
}
