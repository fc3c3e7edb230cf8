// Package reset issues and redeems single-use password reset tokens.
//
// Tokens are stored on the account as digests together with an absolute expiry.
// Issuing a new token supersedes any previous one; redeeming clears both fields
// in a conditional update so a token can succeed at most once.
package reset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/security/token"
)

const (
	defaultTokenBytes = 32
	defaultTTL        = time.Hour
)

// Issued is the result of Issue. Token is the plain value and must be shown exactly once.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Service manages reset token issuance, validation and consumption.
type Service struct {
	store      identity.Store
	digester   token.Digester
	ttl        time.Duration
	tokenBytes int
	now        func() time.Time
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n < 16 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// WithTTL sets how long an issued token stays valid.
func WithTTL(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		s.ttl = d
		return nil
	}
}

// WithClock injects the time source used for both issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// NewService constructs a Service with safe defaults (32-byte tokens, 1h TTL).
func NewService(store identity.Store, digester token.Digester, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:      store,
		digester:   digester,
		ttl:        defaultTTL,
		tokenBytes: defaultTokenBytes,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue generates a fresh token for accountID, replacing any outstanding one.
func (s *Service) Issue(ctx context.Context, accountID int64) (Issued, error) {
	if err := ctx.Err(); err != nil {
		return Issued{}, err
	}

	plain, err := token.NewHex(s.tokenBytes)
	if err != nil {
		return Issued{}, fmt.Errorf("reset.Issue: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	_, err = s.store.UpdateAccount(ctx, accountID, identity.AccountPatch{
		ResetToken:       identity.SetTo(s.digester.Digest(plain)),
		ResetTokenExpiry: identity.SetTo(expiresAt),
		Now:              now,
	})
	if err != nil {
		return Issued{}, err
	}

	return Issued{Token: plain, ExpiresAt: expiresAt}, nil
}

// Validate resolves tok to its account. It reports false for unknown tokens and
// for tokens whose expiry is not strictly after now.
func (s *Service) Validate(ctx context.Context, tok string) (identity.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return identity.Account{}, false, err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return identity.Account{}, false, nil
	}

	acc, ok, err := s.store.GetAccountByResetToken(ctx, s.digester.Digest(tok))
	if err != nil || !ok {
		return identity.Account{}, false, err
	}
	if acc.ResetToken == nil || !s.digester.Matches(tok, *acc.ResetToken) {
		return identity.Account{}, false, nil
	}
	if !s.live(acc, s.now().UTC()) {
		return identity.Account{}, false, nil
	}
	return acc, true, nil
}

// Consume redeems the token held by acc (as returned by Validate): it sets the
// new password hash and clears the token fields in one conditional update.
// If another redemption or a newer Issue got there first, it returns ErrTokenInvalid.
func (s *Service) Consume(ctx context.Context, acc identity.Account, newPasswordHash string) (identity.Account, error) {
	if err := ctx.Err(); err != nil {
		return identity.Account{}, err
	}
	if newPasswordHash == "" {
		return identity.Account{}, ErrInvalidInput
	}

	now := s.now().UTC()
	if !s.live(acc, now) {
		return identity.Account{}, ErrTokenInvalid
	}

	updated, err := s.store.UpdateAccount(ctx, acc.ID, identity.AccountPatch{
		PasswordHash:     &newPasswordHash,
		ResetToken:       identity.Clear[string](),
		ResetTokenExpiry: identity.Clear[time.Time](),
		ExpectResetToken: acc.ResetToken,
		Now:              now,
	})
	switch {
	case err == nil:
		return updated, nil
	case identity.IsPreconditionFailed(err), identity.IsNotFound(err):
		return identity.Account{}, ErrTokenInvalid
	default:
		return identity.Account{}, err
	}
}

func (s *Service) live(acc identity.Account, now time.Time) bool {
	return acc.ResetToken != nil &&
		acc.ResetTokenExpiry != nil &&
		now.Before(*acc.ResetTokenExpiry)
}
