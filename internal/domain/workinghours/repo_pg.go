package workinghours

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const templateCols = `doctor_id, default_slot_minutes, buffer_minutes, type_durations, days, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var typeDurations, days []byte
	if err := row.Scan(&t.DoctorID, &t.DefaultSlotDurationMinutes, &t.BufferMinutes,
		&typeDurations, &days, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if len(typeDurations) > 0 {
		if err := json.Unmarshal(typeDurations, &t.TypeDurations); err != nil {
			return nil, fmt.Errorf("decode type_durations: %w", err)
		}
	}
	if err := json.Unmarshal(days, &t.Days); err != nil {
		return nil, fmt.Errorf("decode days: %w", err)
	}
	return &t, nil
}

func (r *repoPG) Get(ctx context.Context, doctorID uuid.UUID) (*Template, error) {
	t, err := scanTemplate(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+templateCols+` FROM doctor_working_hours WHERE doctor_id = $1`, doctorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (r *repoPG) Save(ctx context.Context, t *Template) error {
	typeDurations, err := json.Marshal(t.TypeDurations)
	if err != nil {
		return fmt.Errorf("encode type_durations: %w", err)
	}
	days, err := json.Marshal(t.Days)
	if err != nil {
		return fmt.Errorf("encode days: %w", err)
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctor_working_hours (doctor_id, default_slot_minutes, buffer_minutes, type_durations, days)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doctor_id) DO UPDATE SET
			default_slot_minutes = EXCLUDED.default_slot_minutes,
			buffer_minutes = EXCLUDED.buffer_minutes,
			type_durations = EXCLUDED.type_durations,
			days = EXCLUDED.days,
			updated_at = NOW()
		RETURNING updated_at`,
		t.DoctorID, t.DefaultSlotDurationMinutes, t.BufferMinutes, typeDurations, days,
	).Scan(&t.UpdatedAt)
}
