package flow

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds returned by the Controller. Callers match them with errors.Is.
var (
	ErrValidation            = errors.New("validation failed")
	ErrDuplicateUsername     = errors.New("username already exists")
	ErrNotFound              = errors.New("user not found")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrStoreUnavailable      = errors.New("store unavailable")
	// ErrBusy is returned when the password hasher stayed saturated past its wait bound.
	ErrBusy = errors.New("server busy")
)

// ValidationError describes a rejected input field. Msg is safe to show to end users.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

func invalidField(field, msg string, cause error) error {
	return &ValidationError{Field: field, Msg: msg, Err: cause}
}

// storeFailure wraps a backend error with the operation name. Context errors pass
// through untouched so callers can tell a vanished client from a broken store.
func storeFailure(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
