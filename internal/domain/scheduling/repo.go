package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentRepository stores committed bookings. Create returns
// ErrDuplicate when the store's uniqueness constraint rejects the row.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, reason *string) error
	// Occupied reports whether an occupying appointment covers at.
	Occupied(ctx context.Context, doctorID uuid.UUID, at time.Time) (bool, error)
	// ListOccupying returns the occupying appointments starting in [from, to).
	ListOccupying(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]ExistingAppointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
}

// HoldStore persists temporary holds. Every method takes the reference time
// so expiry is decided by the caller's clock.
type HoldStore interface {
	// Insert stores h unless a live hold exists for the same key, in which
	// case it returns ErrSlotUnavailable. The check and the write are atomic.
	Insert(ctx context.Context, h *Hold, now time.Time) error
	// GetBySession returns the live hold bound to sessionID or ErrHoldNotFound.
	GetBySession(ctx context.Context, sessionID string, now time.Time) (*Hold, error)
	// Extend moves a live hold's expiry; ErrHoldNotFound when it is gone.
	Extend(ctx context.Context, sessionID string, expiresAt, now time.Time) (*Hold, error)
	// DeleteBySession is a no-op for unknown sessions.
	DeleteBySession(ctx context.Context, sessionID string) error
	// ListActive returns live holds for slots in [from, to).
	ListActive(ctx context.Context, doctorID uuid.UUID, from, to, now time.Time) ([]*Hold, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// WaitlistRepository stores waiting-list entries. Create returns ErrDuplicate
// when the patient already has an active entry for the doctor and date.
type WaitlistRepository interface {
	Create(ctx context.Context, e *WaitlistEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	// CountAhead returns how many active entries for the same doctor and
	// date were created before e.
	CountAhead(ctx context.Context, e *WaitlistEntry) (int, error)
	ListActive(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*WaitlistEntry, error)
}

// TxRunner runs fn in a single storage transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
