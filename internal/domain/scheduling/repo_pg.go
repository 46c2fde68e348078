package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/db"
)

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, doctor_id, patient_id, start_at, duration_minutes, type, location_id,
	specialty, status, notes, rescheduled_from, cancelled_at, cancel_reason, created_at, updated_at`

// effectiveEnd mirrors ExistingAppointment.Interval for rows without a duration.
const effectiveEnd = `start_at + make_interval(mins => CASE WHEN duration_minutes > 0 THEN duration_minutes ELSE 30 END)`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.StartAt, &a.DurationMinutes, &a.Type,
		&a.LocationID, &a.Specialty, &a.Status, &a.Notes, &a.RescheduledFrom, &a.CancelledAt,
		&a.CancelReason, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, start_at, duration_minutes, type,
			location_id, specialty, status, notes, rescheduled_from)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		a.ID, a.DoctorID, a.PatientID, a.StartAt, a.DurationMinutes, a.Type,
		a.LocationID, a.Specialty, a.Status, a.Notes, a.RescheduledFrom,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return ErrDuplicate
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string, reason *string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments SET
			status = $2::text,
			cancel_reason = COALESCE($3, cancel_reason),
			cancelled_at = CASE WHEN $2::text = 'cancelled' THEN NOW() ELSE cancelled_at END,
			updated_at = NOW()
		WHERE id = $1`, id, status, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) Occupied(ctx context.Context, doctorID uuid.UUID, at time.Time) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND status = ANY($2)
				AND start_at <= $3 AND `+effectiveEnd+` > $3
		)`, doctorID, OccupyingStatuses, at).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) ListOccupying(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]ExistingAppointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT start_at, duration_minutes, status FROM appointments
		WHERE doctor_id = $1 AND status = ANY($2)
			AND start_at < $4 AND `+effectiveEnd+` > $3
		ORDER BY start_at`, doctorID, OccupyingStatuses, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExistingAppointment
	for rows.Next() {
		var e ExistingAppointment
		if err := rows.Scan(&e.StartAt, &e.DurationMinutes, &e.Status); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND start_at >= $2 AND start_at < $3 ORDER BY start_at`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE patient_id = $1 ORDER BY start_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectAppointments(rows)
	return items, total, err
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =========== Hold Store ===========

type holdStorePG struct{ pool *pgxpool.Pool }

// NewHoldStorePG stores holds in temporary_holds. The unique key on
// (doctor_id, location_key, slot_at) serialises concurrent inserts; an
// expired row is taken over in the same statement.
func NewHoldStorePG(pool *pgxpool.Pool) HoldStore { return &holdStorePG{pool: pool} }

const holdCols = `id, doctor_id, location_id, patient_id, slot_at, session_id, expires_at, created_at`

func scanHold(row pgx.Row) (*Hold, error) {
	var h Hold
	err := row.Scan(&h.ID, &h.DoctorID, &h.LocationID, &h.PatientID, &h.SlotAt,
		&h.SessionID, &h.ExpiresAt, &h.CreatedAt)
	return &h, err
}

func (r *holdStorePG) Insert(ctx context.Context, h *Hold, now time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO temporary_holds (id, doctor_id, location_key, location_id, patient_id,
			slot_at, session_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (doctor_id, location_key, slot_at) DO UPDATE SET
			id = EXCLUDED.id,
			location_id = EXCLUDED.location_id,
			patient_id = EXCLUDED.patient_id,
			session_id = EXCLUDED.session_id,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
		WHERE temporary_holds.expires_at <= $10`,
		h.ID, h.DoctorID, LocationKey(h.LocationID), h.LocationID, h.PatientID,
		h.SlotAt, h.SessionID, h.ExpiresAt, h.CreatedAt, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

func (r *holdStorePG) GetBySession(ctx context.Context, sessionID string, now time.Time) (*Hold, error) {
	h, err := scanHold(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+holdCols+` FROM temporary_holds WHERE session_id = $1 AND expires_at > $2`, sessionID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	return h, err
}

func (r *holdStorePG) Extend(ctx context.Context, sessionID string, expiresAt, now time.Time) (*Hold, error) {
	h, err := scanHold(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE temporary_holds SET expires_at = $2
		WHERE session_id = $1 AND expires_at > $3
		RETURNING `+holdCols, sessionID, expiresAt, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	return h, err
}

func (r *holdStorePG) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM temporary_holds WHERE session_id = $1`, sessionID)
	return err
}

func (r *holdStorePG) ListActive(ctx context.Context, doctorID uuid.UUID, from, to, now time.Time) ([]*Hold, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+holdCols+` FROM temporary_holds
		WHERE doctor_id = $1 AND slot_at >= $2 AND slot_at < $3 AND expires_at > $4
		ORDER BY slot_at`, doctorID, from, to, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *holdStorePG) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM temporary_holds WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =========== Waitlist Repository ===========

type waitlistRepoPG struct{ pool *pgxpool.Pool }

func NewWaitlistRepoPG(pool *pgxpool.Pool) WaitlistRepository { return &waitlistRepoPG{pool: pool} }

const waitlistCols = `id, patient_id, doctor_id, preferred_date, period, specialty, status, created_at`

func scanWaitlist(row pgx.Row) (*WaitlistEntry, error) {
	var e WaitlistEntry
	err := row.Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.PreferredDate, &e.Period,
		&e.Specialty, &e.Status, &e.CreatedAt)
	return &e, err
}

func (r *waitlistRepoPG) Create(ctx context.Context, e *WaitlistEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO waitlist (id, patient_id, doctor_id, preferred_date, period, specialty, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		e.ID, e.PatientID, e.DoctorID, e.PreferredDate, e.Period, e.Specialty, e.Status,
	).Scan(&e.CreatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return ErrDuplicate
	}
	return err
}

func (r *waitlistRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	e, err := scanWaitlist(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+waitlistCols+` FROM waitlist WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *waitlistRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE waitlist SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *waitlistRepoPG) CountAhead(ctx context.Context, e *WaitlistEntry) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM waitlist
		WHERE doctor_id = $1 AND preferred_date = $2 AND status = 'active'
			AND (created_at, id) < ($3, $4)`,
		e.DoctorID, e.PreferredDate, e.CreatedAt, e.ID).Scan(&n)
	return n, err
}

func (r *waitlistRepoPG) ListActive(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*WaitlistEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+waitlistCols+` FROM waitlist
		WHERE doctor_id = $1 AND preferred_date = $2 AND status = 'active'
		ORDER BY created_at, id`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
