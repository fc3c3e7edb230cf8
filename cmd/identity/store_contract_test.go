package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("create and lookup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		a, err := s.CreateAccount(ctx, CreateAccountInput{Username: "  alice ", PasswordHash: "h1", Now: now})
		require.NoError(t, err)
		assert.Positive(t, a.ID)
		assert.Equal(t, "alice", a.Username)
		assert.Equal(t, "h1", a.PasswordHash)
		assert.True(t, a.CreatedAt.Equal(now))
		assert.Nil(t, a.ResetToken)

		got, ok, err := s.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, a.Username, got.Username)

		got, ok, err = s.GetAccountByUsername(ctx, "alice")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, a.ID, got.ID)
	})

	t.Run("ids increase", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateAccount(ctx, CreateAccountInput{Username: "a", PasswordHash: "h"})
		require.NoError(t, err)
		b, err := s.CreateAccount(ctx, CreateAccountInput{Username: "b", PasswordHash: "h"})
		require.NoError(t, err)
		assert.Greater(t, b.ID, a.ID)
	})

	t.Run("usernames are case sensitive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateAccount(ctx, CreateAccountInput{Username: "Bob", PasswordHash: "h"})
		require.NoError(t, err)
		_, err = s.CreateAccount(ctx, CreateAccountInput{Username: "bob", PasswordHash: "h"})
		require.NoError(t, err)

		_, ok, err := s.GetAccountByUsername(ctx, "BOB")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("absent lookups report false", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, ok, err := s.GetAccountByID(ctx, 4242)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.GetAccountByUsername(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.GetAccountByResetToken(ctx, "deadbeef")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.GetAccountByResetToken(ctx, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("duplicate username", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateAccount(ctx, CreateAccountInput{Username: "carol", PasswordHash: "h"})
		require.NoError(t, err)

		_, err = s.CreateAccount(ctx, CreateAccountInput{Username: "carol", PasswordHash: "h2"})
		require.Error(t, err)
		assert.True(t, IsDuplicateUsername(err), "got %v", err)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("concurrent duplicate username", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CreateAccount(ctx, CreateAccountInput{Username: "dave", PasswordHash: "h"})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case IsDuplicateUsername(err):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, n-1, conflicts)
	})

	t.Run("invalid input", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateAccount(ctx, CreateAccountInput{Username: "   ", PasswordHash: "h"})
		assert.True(t, IsInvalidInput(err), "got %v", err)

		_, err = s.CreateAccount(ctx, CreateAccountInput{Username: "erin", PasswordHash: ""})
		assert.True(t, IsInvalidInput(err), "got %v", err)
	})

	t.Run("update sets and clears reset token", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		a, err := s.CreateAccount(ctx, CreateAccountInput{Username: "frank", PasswordHash: "h", Now: now})
		require.NoError(t, err)

		exp := now.Add(time.Hour)
		upd, err := s.UpdateAccount(ctx, a.ID, AccountPatch{
			ResetToken:       SetTo("digest-1"),
			ResetTokenExpiry: SetTo(exp),
			Now:              now,
		})
		require.NoError(t, err)
		require.NotNil(t, upd.ResetToken)
		assert.Equal(t, "digest-1", *upd.ResetToken)
		require.NotNil(t, upd.ResetTokenExpiry)
		assert.True(t, upd.ResetTokenExpiry.Equal(exp))

		got, ok, err := s.GetAccountByResetToken(ctx, "digest-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, a.ID, got.ID)

		newHash := "h2"
		upd, err = s.UpdateAccount(ctx, a.ID, AccountPatch{
			PasswordHash:     &newHash,
			ResetToken:       Clear[string](),
			ResetTokenExpiry: Clear[time.Time](),
			ExpectResetToken: ptr("digest-1"),
			Now:              now.Add(time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, "h2", upd.PasswordHash)
		assert.Nil(t, upd.ResetToken)
		assert.Nil(t, upd.ResetTokenExpiry)
		assert.True(t, upd.UpdatedAt.Equal(now.Add(time.Minute)))

		_, ok, err = s.GetAccountByResetToken(ctx, "digest-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("precondition failure leaves account untouched", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateAccount(ctx, CreateAccountInput{Username: "grace", PasswordHash: "h"})
		require.NoError(t, err)
		_, err = s.UpdateAccount(ctx, a.ID, AccountPatch{ResetToken: SetTo("digest-2")})
		require.NoError(t, err)

		other := "h-other"
		_, err = s.UpdateAccount(ctx, a.ID, AccountPatch{
			PasswordHash:     &other,
			ExpectResetToken: ptr("digest-stale"),
		})
		require.Error(t, err)
		assert.True(t, IsPreconditionFailed(err), "got %v", err)

		got, _, err := s.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "h", got.PasswordHash)
	})

	t.Run("concurrent conditional updates have one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateAccount(ctx, CreateAccountInput{Username: "heidi", PasswordHash: "h"})
		require.NoError(t, err)
		_, err = s.UpdateAccount(ctx, a.ID, AccountPatch{ResetToken: SetTo("digest-3")})
		require.NoError(t, err)

		const n = 6
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateAccount(ctx, a.ID, AccountPatch{
					ResetToken:       Clear[string](),
					ResetTokenExpiry: Clear[time.Time](),
					ExpectResetToken: ptr("digest-3"),
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				if !IsPreconditionFailed(err) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("update missing account", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		h := "x"
		_, err := s.UpdateAccount(ctx, 999, AccountPatch{PasswordHash: &h})
		assert.True(t, IsNotFound(err), "got %v", err)

		_, err = s.UpdateAccount(ctx, 999, AccountPatch{PasswordHash: &h, ExpectResetToken: ptr("d")})
		assert.True(t, IsNotFound(err), "got %v", err)
	})

	t.Run("empty patch", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpdateAccount(context.Background(), 1, AccountPatch{})
		assert.True(t, IsInvalidInput(err), "got %v", err)
	})

	t.Run("remember me token", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateAccount(ctx, CreateAccountInput{Username: "ivan", PasswordHash: "h"})
		require.NoError(t, err)

		upd, err := s.UpdateAccount(ctx, a.ID, AccountPatch{RememberMeToken: SetTo("rm-digest")})
		require.NoError(t, err)
		require.NotNil(t, upd.RememberMeToken)
		assert.Equal(t, "rm-digest", *upd.RememberMeToken)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.CreateAccount(ctx, CreateAccountInput{Username: "judy", PasswordHash: "h"})
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	})
}

func ptr[T any](v T) *T { return &v }

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.CreateAccount(ctx, CreateAccountInput{Username: "kim", PasswordHash: "h"})
	require.NoError(t, err)
	_, err = s.UpdateAccount(ctx, a.ID, AccountPatch{ResetToken: SetTo("d")})
	require.NoError(t, err)

	got, _, err := s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	*got.ResetToken = "mutated"

	again, _, err := s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "d", *again.ResetToken)
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("alice"))
	assert.NoError(t, ValidateUsername("Ålice Ünicode"))
	assert.Error(t, ValidateUsername(""))
	assert.Error(t, ValidateUsername("tab\tname"))

	long := make([]rune, MaxUsernameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.Error(t, ValidateUsername(string(long)))
}
