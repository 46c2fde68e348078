package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/domain/workinghours"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/cache"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/retry"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/pkg/optimistic"
)

const (
	DefaultDatesHorizonDays = 30
	MaxDatesHorizonDays     = 90
)

// AppointmentSource lists occupying appointments for a doctor.
type AppointmentSource interface {
	ListOccupying(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]ExistingAppointment, error)
}

// HoldSource lists live holds for a doctor. HoldManager implements it.
type HoldSource interface {
	ActiveHolds(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Hold, error)
}

type SlotQuery struct {
	DoctorID           uuid.UUID
	Date               time.Time
	Location           LocationFilter
	AppointmentType    string
	DurationMinutes    int
	IncludeUnavailable bool
}

type queryKey struct {
	doctor   uuid.UUID
	from     string
	to       string
	location string
	apptType string
	duration int
	include  bool
}

// slotAction marks one slot held. Drop removes it instead of flagging it,
// for lists that only carry available slots.
type slotAction struct {
	at   time.Time
	drop bool
}

type slotState = optimistic.State[[]TimeSlot, slotAction]

func reduceSlots(slots []TimeSlot, a slotAction) []TimeSlot {
	out := make([]TimeSlot, 0, len(slots))
	for _, s := range slots {
		if s.StartAt.Equal(a.at) && s.Available {
			if a.drop {
				continue
			}
			s.Available, s.Reason = false, ReasonHeld
		}
		out = append(out, s)
	}
	return out
}

// Facade assembles generator inputs from the template, appointment and hold
// sources. Every source call is retried on transient failures and results
// are cached per query until the TTL lapses or the doctor is invalidated.
type Facade struct {
	templates workinghours.Source
	appts     AppointmentSource
	holds     HoldSource
	logger    zerolog.Logger
	now       func() time.Time
	loc       *time.Location
	policy    retry.Policy

	holdsPerLocation bool
	defaultHorizon   int
	maxHorizon       int

	slots *cache.TTL[queryKey, *slotState]
	dates *cache.TTL[queryKey, []time.Time]
}

type FacadeOption func(*Facade)

func WithRetryPolicy(p retry.Policy) FacadeOption {
	return func(f *Facade) { f.policy = p }
}

func WithCache(size int, ttl time.Duration) FacadeOption {
	return func(f *Facade) {
		f.slots = cache.NewTTL[queryKey, *slotState](size, ttl)
		f.dates = cache.NewTTL[queryKey, []time.Time](size, ttl)
	}
}

// WithTimezone sets the zone calendar days and template clocks are read in.
func WithTimezone(loc *time.Location) FacadeOption {
	return func(f *Facade) {
		if loc != nil {
			f.loc = loc
		}
	}
}

func WithDatesHorizon(defaultDays, maxDays int) FacadeOption {
	return func(f *Facade) {
		if defaultDays > 0 {
			f.defaultHorizon = defaultDays
		}
		if maxDays > 0 {
			f.maxHorizon = maxDays
		}
	}
}

// WithHoldsPerLocation subtracts a hold only from slots at its own location.
// By default a hold blocks the time at every location of the doctor.
func WithHoldsPerLocation(v bool) FacadeOption {
	return func(f *Facade) { f.holdsPerLocation = v }
}

func WithFacadeClock(now func() time.Time) FacadeOption {
	return func(f *Facade) { f.now = now }
}

func WithFacadeLogger(l zerolog.Logger) FacadeOption {
	return func(f *Facade) { f.logger = l }
}

func NewFacade(templates workinghours.Source, appts AppointmentSource, holds HoldSource, opts ...FacadeOption) *Facade {
	f := &Facade{
		templates:      templates,
		appts:          appts,
		holds:          holds,
		logger:         zerolog.Nop(),
		now:            time.Now,
		loc:            time.UTC,
		policy:         retry.Default(),
		defaultHorizon: DefaultDatesHorizonDays,
		maxHorizon:     MaxDatesHorizonDays,
	}
	for _, o := range opts {
		o(f)
	}
	if f.slots == nil {
		f.slots = cache.NewTTL[queryKey, *slotState](cache.DefaultSize, cache.DefaultTTL)
		f.dates = cache.NewTTL[queryKey, []time.Time](cache.DefaultSize, cache.DefaultTTL)
	}
	if f.policy.Retryable == nil {
		f.policy.Retryable = retryable
	}
	if f.policy.OnRetry == nil {
		f.policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			f.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("availability source failed, retrying")
		}
	}
	return f
}

// Location is the zone dates are interpreted in.
func (f *Facade) Location() *time.Location { return f.loc }

// Today is midnight of the current day in the facade's zone.
func (f *Facade) Today() time.Time { return f.dayStart(f.now()) }

func (f *Facade) dayStart(t time.Time) time.Time {
	y, m, d := t.In(f.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, f.loc)
}

// AvailableSlots returns the day's slots for the query.
func (f *Facade) AvailableSlots(ctx context.Context, q SlotQuery) ([]TimeSlot, error) {
	day := f.dayStart(q.Date)
	key := queryKey{
		doctor:   q.DoctorID,
		from:     day.Format("2006-01-02"),
		location: q.Location.String(),
		apptType: q.AppointmentType,
		duration: q.DurationMinutes,
		include:  q.IncludeUnavailable,
	}
	if st, ok := f.slots.Get(key); ok {
		return upcoming(st.Current(), f.now()), nil
	}

	in, err := f.inputs(ctx, q.DoctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	slots := f.generate(in, day, q)
	if slots == nil {
		slots = []TimeSlot{}
	}
	f.slots.Add(key, optimistic.New(slots, reduceSlots))
	return cloneSlots(slots), nil
}

// SlotsByLocation runs generation once per location that has a block on the
// day, in declared block order. Teleconsultation is reported with a nil
// LocationID.
func (f *Facade) SlotsByLocation(ctx context.Context, doctorID uuid.UUID, date time.Time, appointmentType string) ([]LocationSlots, error) {
	day := f.dayStart(date)
	in, err := f.inputs(ctx, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	out := []LocationSlots{}
	if in.template == nil {
		return out, nil
	}

	seen := map[string]bool{}
	for _, b := range in.template.Blocks(workinghours.DayOf(day)) {
		k := LocationKey(b.LocationID)
		if !b.Active || seen[k] {
			continue
		}
		seen[k] = true
		slots := f.generate(in, day, SlotQuery{
			DoctorID:        doctorID,
			Date:            day,
			Location:        ForLocation(b.LocationID),
			AppointmentType: appointmentType,
		})
		if slots == nil {
			slots = []TimeSlot{}
		}
		out = append(out, LocationSlots{LocationID: copyID(b.LocationID), Slots: slots})
	}
	return out, nil
}

// AvailableDates lists days in [from, to] with at least one available slot.
// Nil bounds default to today and today+horizon; the range never starts
// before today nor ends past the maximum horizon.
func (f *Facade) AvailableDates(ctx context.Context, doctorID uuid.UUID, from, to *time.Time) ([]time.Time, error) {
	today := f.Today()
	start := today
	if from != nil && f.dayStart(*from).After(today) {
		start = f.dayStart(*from)
	}
	end := start.AddDate(0, 0, f.defaultHorizon-1)
	if to != nil {
		end = f.dayStart(*to)
	}
	if limit := today.AddDate(0, 0, f.maxHorizon-1); end.After(limit) {
		end = limit
	}
	if end.Before(start) {
		return []time.Time{}, nil
	}

	key := queryKey{
		doctor: doctorID,
		from:   start.Format("2006-01-02"),
		to:     end.Format("2006-01-02"),
	}
	if dates, ok := f.dates.Get(key); ok {
		return append([]time.Time(nil), dates...), nil
	}

	in, err := f.inputs(ctx, doctorID, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	dates := []time.Time{}
	if in.template != nil && in.template.HasActiveBlocks() {
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			if HasAvailable(f.generate(in, day, SlotQuery{DoctorID: doctorID, Location: AnyLocation()})) {
				dates = append(dates, day)
			}
		}
	}
	f.dates.Add(key, dates)
	return append([]time.Time(nil), dates...), nil
}

// Invalidate drops every cached result for the doctor.
func (f *Facade) Invalidate(doctorID uuid.UUID) {
	match := func(k queryKey) bool { return k.doctor == doctorID }
	n := f.slots.RemoveFunc(match) + f.dates.RemoveFunc(match)
	if n > 0 {
		f.logger.Debug().Str("doctor_id", doctorID.String()).Int("entries", n).Msg("availability cache invalidated")
	}
}

func (f *Facade) InvalidateAll() {
	f.slots.Purge()
	f.dates.Purge()
}

// PendingHold is an optimistic "held" mark on cached slot lists.
type PendingHold struct {
	marks []pendingMark
}

type pendingMark struct {
	state *slotState
	token optimistic.Token
}

// Confirm keeps the mark.
func (p *PendingHold) Confirm() {
	for _, m := range p.marks {
		m.state.Confirm(m.token)
	}
}

// Rollback restores the slot in every list it was marked in.
func (p *PendingHold) Rollback() {
	for _, m := range p.marks {
		m.state.Rollback(m.token)
	}
}

// MarkHeld shows slotAt as held in every cached list of the doctor for that
// day before the hold is confirmed by the store.
func (f *Facade) MarkHeld(doctorID uuid.UUID, slotAt time.Time) *PendingHold {
	day := f.dayStart(slotAt).Format("2006-01-02")
	p := &PendingHold{}
	for _, st := range f.cachedStates(doctorID, day) {
		p.marks = append(p.marks, pendingMark{state: st.state, token: st.state.Apply(slotAction{at: slotAt, drop: !st.include})})
	}
	return p
}

type cachedState struct {
	state   *slotState
	include bool
}

func (f *Facade) cachedStates(doctorID uuid.UUID, day string) []cachedState {
	var out []cachedState
	f.slots.Each(func(k queryKey, st *slotState) {
		if k.doctor == doctorID && k.from == day {
			out = append(out, cachedState{state: st, include: k.include})
		}
	})
	return out
}

type generatorInputs struct {
	template *workinghours.Template
	appts    []ExistingAppointment
	holds    []*Hold
	now      time.Time
}

func (f *Facade) inputs(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (*generatorInputs, error) {
	in := &generatorInputs{now: f.now()}

	tpl, err := retry.DoValue(ctx, f.policy, func(ctx context.Context) (*workinghours.Template, error) {
		return f.templates.Get(ctx, doctorID)
	})
	if errors.Is(err, workinghours.ErrNotFound) {
		return in, nil
	}
	if err != nil {
		return nil, translate("load working hours", err)
	}
	in.template = tpl

	in.appts, err = retry.DoValue(ctx, f.policy, func(ctx context.Context) ([]ExistingAppointment, error) {
		return f.appts.ListOccupying(ctx, doctorID, from, to)
	})
	if err != nil {
		return nil, translate("load appointments", err)
	}

	in.holds, err = retry.DoValue(ctx, f.policy, func(ctx context.Context) ([]*Hold, error) {
		return f.holds.ActiveHolds(ctx, doctorID, from, to)
	})
	if err != nil {
		return nil, translate("load holds", err)
	}
	return in, nil
}

func (f *Facade) generate(in *generatorInputs, day time.Time, q SlotQuery) []TimeSlot {
	if in.template == nil {
		return nil
	}
	holdFilter := AnyLocation()
	if f.holdsPerLocation {
		holdFilter = q.Location
	}
	return GenerateSlots(GenerateInput{
		Template:           in.template,
		Date:               day,
		DurationMinutes:    q.DurationMinutes,
		AppointmentType:    q.AppointmentType,
		Appointments:       in.appts,
		ExcludedTimes:      ExcludedTimes(in.holds, day, holdFilter, in.now),
		Location:           q.Location,
		Now:                in.now,
		IncludeUnavailable: q.IncludeUnavailable,
	})
}

func cloneSlots(s []TimeSlot) []TimeSlot {
	return append([]TimeSlot{}, s...)
}

// upcoming copies the slots that still start after now. Cached lists were
// generated at an earlier now and may have slots that started since.
func upcoming(s []TimeSlot, now time.Time) []TimeSlot {
	out := make([]TimeSlot, 0, len(s))
	for _, slot := range s {
		if slot.StartAt.After(now) {
			out = append(out, slot)
		}
	}
	return out
}
