package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Uniqueness and conditional updates are
// enforced under a single mutex, so concurrent callers observe the same
// guarantees as the SQL stores.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     int64
	byID       map[int64]*Account
	byUsername map[string]int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:     1,
		byID:       make(map[int64]*Account),
		byUsername: make(map[string]int64),
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	username := NormalizeUsername(in.Username)
	if err := ValidateUsername(username); err != nil {
		return Account{}, err
	}
	if in.PasswordHash == "" {
		return Account{}, invalid(op, "password hash is required")
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[username]; taken {
		return Account{}, ConflictError{Op: op, Field: "username"}
	}

	a := &Account{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.nextID++
	s.byID[a.ID] = a
	s.byUsername[username] = a.ID

	return cloneAccount(*a), nil
}

func (s *MemoryStore) GetAccountByID(ctx context.Context, id int64) (Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return Account{}, false, nil
	}
	return cloneAccount(*a), true, nil
}

func (s *MemoryStore) GetAccountByUsername(ctx context.Context, username string) (Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return Account{}, false, nil
	}
	return cloneAccount(*s.byID[id]), true, nil
}

// GetAccountByResetToken scans all accounts. Fine for development and tests;
// the SQL stores use an index.
func (s *MemoryStore) GetAccountByResetToken(ctx context.Context, digest string) (Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, false, err
	}
	if digest == "" {
		return Account{}, false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.byID {
		if a.ResetToken != nil && *a.ResetToken == digest {
			return cloneAccount(*a), true, nil
		}
	}
	return Account{}, false, nil
}

func (s *MemoryStore) UpdateAccount(ctx context.Context, id int64, patch AccountPatch) (Account, error) {
	const op = "identity.UpdateAccount"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if patch.empty() {
		return Account{}, invalid(op, "empty patch")
	}
	now := nowOr(patch.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	if patch.ExpectResetToken != nil {
		if a.ResetToken == nil || *a.ResetToken != *patch.ExpectResetToken {
			return Account{}, OpError{Op: op, Kind: ErrPreconditionFailed, Msg: "reset token changed"}
		}
	}

	patch.apply(a, now)
	return cloneAccount(*a), nil
}

var _ Store = (*MemoryStore)(nil)
