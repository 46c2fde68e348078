package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultHoldTTL is how long a checkout reservation lives per grant.
	DefaultHoldTTL = 15 * time.Minute
	// DefaultHoldMaxLifetime caps CreatedAt-to-expiry across extensions.
	DefaultHoldMaxLifetime = 45 * time.Minute
)

// OccupancyChecker answers whether an occupying appointment covers a time.
type OccupancyChecker interface {
	Occupied(ctx context.Context, doctorID uuid.UUID, at time.Time) (bool, error)
}

// HoldManager grants short exclusive reservations on slots during checkout.
// Holds reduce booking races; they never replace the uniqueness check at
// commit time.
type HoldManager struct {
	store       HoldStore
	appts       OccupancyChecker
	events      EventPublisher
	logger      zerolog.Logger
	now         func() time.Time
	ttl         time.Duration
	maxLifetime time.Duration
}

type HoldOption func(*HoldManager)

func WithHoldTTL(d time.Duration) HoldOption {
	return func(m *HoldManager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithHoldMaxLifetime caps how long a hold can be kept alive through
// extensions. Zero disables the cap.
func WithHoldMaxLifetime(d time.Duration) HoldOption {
	return func(m *HoldManager) { m.maxLifetime = d }
}

func WithHoldClock(now func() time.Time) HoldOption {
	return func(m *HoldManager) { m.now = now }
}

func WithHoldEvents(p EventPublisher) HoldOption {
	return func(m *HoldManager) { m.events = p }
}

func WithHoldLogger(l zerolog.Logger) HoldOption {
	return func(m *HoldManager) { m.logger = l }
}

func NewHoldManager(store HoldStore, appts OccupancyChecker, opts ...HoldOption) *HoldManager {
	m := &HoldManager{
		store:       store,
		appts:       appts,
		events:      NopPublisher{},
		logger:      zerolog.Nop(),
		now:         time.Now,
		ttl:         DefaultHoldTTL,
		maxLifetime: DefaultHoldMaxLifetime,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *HoldManager) TTL() time.Duration { return m.ttl }

type CreateHoldInput struct {
	DoctorID   uuid.UUID
	SlotAt     time.Time
	LocationID *uuid.UUID
	PatientID  *uuid.UUID
}

// CreateHold reserves the slot for a new opaque session.
func (m *HoldManager) CreateHold(ctx context.Context, in CreateHoldInput) (*Hold, error) {
	now := m.now()
	if in.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	}
	if !in.SlotAt.After(now) {
		return nil, ErrInvalidSchedulingTime
	}

	occupied, err := m.appts.Occupied(ctx, in.DoctorID, in.SlotAt)
	if err != nil {
		return nil, translate("check occupancy", err)
	}
	if occupied {
		return nil, ErrSlotUnavailable
	}

	h := &Hold{
		ID:         uuid.New(),
		DoctorID:   in.DoctorID,
		LocationID: copyID(in.LocationID),
		PatientID:  copyID(in.PatientID),
		SlotAt:     in.SlotAt,
		SessionID:  uuid.NewString(),
		ExpiresAt:  now.Add(m.ttl),
		CreatedAt:  now,
	}
	if err := m.store.Insert(ctx, h, now); err != nil {
		return nil, translate("create hold", err)
	}

	m.logger.Info().
		Str("doctor_id", h.DoctorID.String()).
		Time("slot_at", h.SlotAt).
		Time("expires_at", h.ExpiresAt).
		Msg("hold created")
	e := newEvent(EventHoldCreated, h.DoctorID, now)
	e.SlotAt = &h.SlotAt
	publish(ctx, m.events, m.logger, e)
	return h, nil
}

// ExtendHold resets the expiry to now+TTL, clamped to the lifetime cap.
func (m *HoldManager) ExtendHold(ctx context.Context, sessionID string) (*Hold, error) {
	now := m.now()
	h, err := m.store.GetBySession(ctx, sessionID, now)
	if err != nil {
		return nil, translate("get hold", err)
	}

	expires := now.Add(m.ttl)
	if m.maxLifetime > 0 {
		limit := h.CreatedAt.Add(m.maxLifetime)
		if !limit.After(h.ExpiresAt) {
			return nil, ErrHoldLifetimeExceeded
		}
		if expires.After(limit) {
			expires = limit
		}
	}

	updated, err := m.store.Extend(ctx, sessionID, expires, now)
	if err != nil {
		return nil, translate("extend hold", err)
	}
	m.logger.Debug().Str("doctor_id", updated.DoctorID.String()).Time("expires_at", updated.ExpiresAt).Msg("hold extended")
	return updated, nil
}

// ReleaseHold is idempotent.
func (m *HoldManager) ReleaseHold(ctx context.Context, sessionID string) error {
	now := m.now()
	h, err := m.store.GetBySession(ctx, sessionID, now)
	if err != nil && !isHoldNotFound(err) {
		return translate("get hold", err)
	}
	if err := m.store.DeleteBySession(ctx, sessionID); err != nil {
		return translate("release hold", err)
	}
	if h != nil {
		e := newEvent(EventHoldReleased, h.DoctorID, now)
		e.SlotAt = &h.SlotAt
		publish(ctx, m.events, m.logger, e)
	}
	return nil
}

func (m *HoldManager) GetHold(ctx context.Context, sessionID string) (*Hold, error) {
	h, err := m.store.GetBySession(ctx, sessionID, m.now())
	if err != nil {
		return nil, translate("get hold", err)
	}
	return h, nil
}

// ActiveHolds returns live holds for the doctor's slots in [from, to).
func (m *HoldManager) ActiveHolds(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Hold, error) {
	now := m.now()
	holds, err := m.store.ListActive(ctx, doctorID, from, to, now)
	if err != nil {
		return nil, translate("list holds", err)
	}
	return liveOnly(holds, now), nil
}

// Reap deletes expired rows. Readers never depend on it.
func (m *HoldManager) Reap(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, translate("reap holds", err)
	}
	if n > 0 {
		m.logger.Info().Int("removed", n).Msg("expired holds reaped")
	}
	return n, nil
}

// liveOnly filters in place; stores may hand back rows that expired between
// the query and now.
func liveOnly(holds []*Hold, now time.Time) []*Hold {
	out := holds[:0]
	for _, h := range holds {
		if h.Live(now) {
			out = append(out, h)
		}
	}
	return out
}

// ExcludedTimes renders the live holds on date into the "HH:MM" set the
// generator subtracts. Only holds matching loc count.
func ExcludedTimes(holds []*Hold, date time.Time, loc LocationFilter, now time.Time) map[string]struct{} {
	set := make(map[string]struct{}, len(holds))
	y, mo, d := date.Date()
	for _, h := range holds {
		if !h.Live(now) || !loc.MatchesLocation(h.LocationID) {
			continue
		}
		at := h.SlotAt.In(date.Location())
		if hy, hm, hd := at.Date(); hy != y || hm != mo || hd != d {
			continue
		}
		set[at.Format("15:04")] = struct{}{}
	}
	return set
}
