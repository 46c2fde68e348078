package workinghours

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChangeFunc is notified after a template is stored, typically to drop
// cached availability for the doctor.
type ChangeFunc func(doctorID uuid.UUID)

type Service struct {
	repo     Repository
	logger   zerolog.Logger
	onChange []ChangeFunc
}

func NewService(repo Repository, logger zerolog.Logger, onChange ...ChangeFunc) *Service {
	return &Service{repo: repo, logger: logger, onChange: onChange}
}

func (s *Service) Get(ctx context.Context, doctorID uuid.UUID) (*Template, error) {
	return s.repo.Get(ctx, doctorID)
}

// GetOrDefault returns the stored template, or the default template (not
// persisted) when the doctor has not configured one.
func (s *Service) GetOrDefault(ctx context.Context, doctorID uuid.UUID) (*Template, bool, error) {
	t, err := s.repo.Get(ctx, doctorID)
	if errors.Is(err, ErrNotFound) {
		return DefaultTemplate(doctorID), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *Service) Save(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.repo.Save(ctx, t); err != nil {
		return fmt.Errorf("save working hours: %w", err)
	}
	s.logger.Info().Str("doctor_id", t.DoctorID.String()).Msg("working hours saved")
	s.notify(t.DoctorID)
	return nil
}

// SetBlockActive toggles a single block. Blocks are never removed from the
// patient-facing side; deactivation is the only way to hide one.
func (s *Service) SetBlockActive(ctx context.Context, doctorID uuid.UUID, day Day, index int, active bool) (*Template, error) {
	if !day.Valid() {
		return nil, fmt.Errorf("%w: unknown day %q", ErrInvalidInput, day)
	}
	t, err := s.repo.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	blocks := t.Days[day]
	if index < 0 || index >= len(blocks) {
		return nil, fmt.Errorf("%w: %s has no block %d", ErrInvalidInput, day, index)
	}
	blocks[index].Active = active
	if err := s.repo.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save working hours: %w", err)
	}
	s.notify(doctorID)
	return t, nil
}

func (s *Service) notify(doctorID uuid.UUID) {
	for _, fn := range s.onChange {
		fn(doctorID)
	}
}
