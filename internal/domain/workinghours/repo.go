package workinghours

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("working hours not configured")
	ErrInvalidInput = errors.New("invalid working hours")
)

// Source returns a doctor's template. Implementations return ErrNotFound
// when none is stored.
type Source interface {
	Get(ctx context.Context, doctorID uuid.UUID) (*Template, error)
}

type Repository interface {
	Source
	Save(ctx context.Context, t *Template) error
}
