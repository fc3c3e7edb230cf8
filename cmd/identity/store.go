package identity

import (
	"context"
	"time"
)

// Account is gatehouse's canonical security principal.
//
// IMPORTANT: ResetToken and RememberMeToken hold digests (see cmd/security/token);
// the plain tokens are shown to the client exactly once and never stored.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string

	ResetToken       *string
	ResetTokenExpiry *time.Time
	RememberMeToken  *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateAccountInput describes a registration that already passed validation and hashing.
type CreateAccountInput struct {
	Username     string
	PasswordHash string
	Now          time.Time
}

// Nullable is a tri-state patch value: untouched, set to a value, or cleared.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// SetTo returns a Nullable that sets the field to v.
func SetTo[T any](v T) Nullable[T] { return Nullable[T]{Set: true, Value: &v} }

// Clear returns a Nullable that sets the field to NULL.
func Clear[T any]() Nullable[T] { return Nullable[T]{Set: true} }

// AccountPatch is a partial update. Zero-valued fields are left untouched.
type AccountPatch struct {
	PasswordHash     *string
	ResetToken       Nullable[string]
	ResetTokenExpiry Nullable[time.Time]
	RememberMeToken  Nullable[string]

	// ExpectResetToken, when non-nil, makes the update conditional on the stored
	// reset token digest being equal to *ExpectResetToken. A mismatch (including a
	// cleared token) fails with ErrPreconditionFailed and changes nothing.
	ExpectResetToken *string

	Now time.Time
}

func (p AccountPatch) empty() bool {
	return p.PasswordHash == nil && !p.ResetToken.Set && !p.ResetTokenExpiry.Set && !p.RememberMeToken.Set
}

// apply mutates a in place. Used by the memory store.
func (p AccountPatch) apply(a *Account, now time.Time) {
	if p.PasswordHash != nil {
		a.PasswordHash = *p.PasswordHash
	}
	if p.ResetToken.Set {
		a.ResetToken = cloneString(p.ResetToken.Value)
	}
	if p.ResetTokenExpiry.Set {
		a.ResetTokenExpiry = cloneTime(p.ResetTokenExpiry.Value)
	}
	if p.RememberMeToken.Set {
		a.RememberMeToken = cloneString(p.RememberMeToken.Value)
	}
	a.UpdatedAt = now
}

// Store is the account persistence boundary.
//
// Lookups report absence as (Account{}, false, nil). Backend failures are
// returned as OpError with Kind ErrStoreUnavailable.
type Store interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)

	GetAccountByID(ctx context.Context, id int64) (Account, bool, error)
	GetAccountByUsername(ctx context.Context, username string) (Account, bool, error)
	GetAccountByResetToken(ctx context.Context, digest string) (Account, bool, error)

	// UpdateAccount applies patch atomically and returns the updated account.
	// Returns NotFoundError when the account does not exist.
	UpdateAccount(ctx context.Context, id int64, patch AccountPatch) (Account, error)
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneAccount(a Account) Account {
	a.ResetToken = cloneString(a.ResetToken)
	a.ResetTokenExpiry = cloneTime(a.ResetTokenExpiry)
	a.RememberMeToken = cloneString(a.RememberMeToken)
	return a
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
