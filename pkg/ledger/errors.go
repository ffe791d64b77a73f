package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for missing ids and for ids owned by another scope.
	ErrNotFound = errors.New("ledger event not found")
	// ErrUnauthenticated is returned when no owner scope is bound to a call.
	ErrUnauthenticated = errors.New("missing owner scope")
	// ErrValidation classifies caller input errors.
	ErrValidation = errors.New("validation failed")
	// ErrBackdated is returned when a draft would sort before the scope's latest event.
	ErrBackdated = fmt.Errorf("%w: occurredAt is older than the latest event in this ledger", ErrValidation)
	// ErrStoreUnavailable wraps failures of the underlying store.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
	// ErrTimeout is returned when a store call exceeds its deadline. Retryable.
	ErrTimeout = errors.New("ledger store timeout")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// ValidationError collects every FieldError found in a draft.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// storeError classifies a driver error. Deadline errors become ErrTimeout,
// everything else ErrStoreUnavailable; nil and already classified errors pass through.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation), errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
