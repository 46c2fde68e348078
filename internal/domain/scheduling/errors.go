package scheduling

import (
	"errors"
	"fmt"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/db"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/retry"
)

var (
	ErrSlotUnavailable       = errors.New("this time is no longer available, please choose another")
	ErrSlotTaken             = fmt.Errorf("%w: this slot was just taken by someone else", ErrSlotUnavailable)
	ErrInvalidSchedulingTime = errors.New("appointments can only be scheduled for a future time")
	ErrHoldNotFound          = errors.New("reservation not found or expired, please select a time again")
	ErrHoldLifetimeExceeded  = fmt.Errorf("%w: maximum reservation time reached", ErrHoldNotFound)
	ErrTransientSource       = errors.New("scheduling data is temporarily unavailable, please try again")
	ErrAuthorization         = errors.New("sign in to continue")
	ErrNotFound              = errors.New("not found")
	ErrAlreadyWaitlisted     = errors.New("already on the waiting list for this doctor and date")
	ErrInvalidTransition     = errors.New("appointment can no longer be changed")
	ErrInvalidInput          = errors.New("invalid request")

	// ErrDuplicate is returned by stores when a uniqueness constraint rejects
	// a write. Services translate it into a domain error.
	ErrDuplicate = errors.New("duplicate")
)

// SourceError reports a remote read that failed after retries.
type SourceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrTransientSource }

// translate maps storage failures to the domain taxonomy. Errors already in
// the taxonomy pass through.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return &SourceError{Op: op, Attempts: exhausted.Attempts, Err: exhausted.Err}
	}
	switch {
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrInvalidSchedulingTime),
		errors.Is(err, ErrHoldNotFound), errors.Is(err, ErrTransientSource),
		errors.Is(err, ErrAuthorization), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAlreadyWaitlisted), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidInput):
		return err
	case db.IsPermissionDenied(err):
		return fmt.Errorf("%s: %w", op, ErrAuthorization)
	case db.IsTransient(err):
		return &SourceError{Op: op, Attempts: 1, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// retryable is the classifier for remote reads. Authorization failures and
// domain outcomes are final.
func retryable(err error) bool {
	if errors.Is(err, ErrAuthorization) || db.IsPermissionDenied(err) {
		return false
	}
	return errors.Is(err, ErrTransientSource) || db.IsTransient(err)
}

func isHoldNotFound(err error) bool { return errors.Is(err, ErrHoldNotFound) }
