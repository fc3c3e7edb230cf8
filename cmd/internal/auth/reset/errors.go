package reset

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrTokenInvalid covers unknown, expired, already used and superseded tokens alike.
	ErrTokenInvalid = errors.New("reset token invalid or expired")
)
