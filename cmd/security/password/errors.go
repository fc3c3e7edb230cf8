package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordEmpty         = errors.New("password empty")
	ErrPasswordTooShort      = errors.New("password too short")
	ErrPasswordTooLong       = errors.New("password too long")
	ErrPasswordMissingUpper  = errors.New("password missing uppercase letter")
	ErrPasswordMissingLower  = errors.New("password missing lowercase letter")
	ErrPasswordMissingDigit  = errors.New("password missing digit")
	ErrPasswordMissingSymbol = errors.New("password missing special character")
	ErrWeakPassword          = errors.New("weak password")

	ErrInvalidHash = errors.New("invalid password hash")
	ErrHashTimeout = errors.New("password hashing timed out")
)

// PolicyError is returned by Validate. Rule is one of the sentinel errors above
// and Message is safe to show to the end user.
type PolicyError struct {
	Rule    error
	Message string
}

func (e *PolicyError) Error() string { return e.Message }
func (e *PolicyError) Unwrap() error { return e.Rule }

// IsPolicyError reports whether err is a policy violation.
func IsPolicyError(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}
