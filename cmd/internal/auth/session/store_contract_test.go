package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"gatehouse/cmd/internal/migrations"
	"gatehouse/cmd/internal/pgtest"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRecord(digest string, accountID int64, ttl time.Duration) Record {
	return Record{
		Digest:     digest,
		AccountID:  accountID,
		CreatedAt:  t0,
		LastSeenAt: t0,
		ExpiresAt:  t0.Add(ttl),
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord("d1", 7, time.Hour)
		rec.RememberMe = true
		rec.Data = map[string]string{"ua": "test"}
		require.NoError(t, s.Put(ctx, rec))

		got, ok, err := s.Get(ctx, "d1", t0.Add(time.Minute))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(7), got.AccountID)
		assert.True(t, got.RememberMe)
		assert.Equal(t, "test", got.Data["ua"])
		assert.True(t, got.ExpiresAt.Equal(t0.Add(time.Hour)))
		assert.True(t, got.CreatedAt.Equal(t0))
	})

	t.Run("duplicate digest", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, newRecord("dup", 1, time.Hour)))
		assert.ErrorIs(t, s.Put(ctx, newRecord("dup", 2, time.Hour)), ErrDuplicateID)
	})

	t.Run("missing and expired are absent", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(ctx, "nope", t0)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Put(ctx, newRecord("old", 1, time.Hour)))
		_, ok, err = s.Get(ctx, "old", t0.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "expiry is exclusive")
	})

	t.Run("touch extends live sessions only", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, newRecord("live", 1, time.Hour)))

		now := t0.Add(30 * time.Minute)
		ok, err := s.Touch(ctx, "live", now, now.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)

		got, ok, err := s.Get(ctx, "live", t0.Add(80*time.Minute))
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))
		assert.True(t, got.LastSeenAt.Equal(now))

		ok, err = s.Touch(ctx, "live", t0.Add(3*time.Hour), t0.Add(4*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "expired sessions are not revived")

		ok, err = s.Touch(ctx, "never", t0, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete is idempotent and beats touch", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, newRecord("gone", 1, time.Hour)))
		require.NoError(t, s.Delete(ctx, "gone"))
		require.NoError(t, s.Delete(ctx, "gone"))

		ok, err := s.Touch(ctx, "gone", t0, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.Get(ctx, "gone", t0)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete expired and count", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, newRecord("a", 1, time.Minute)))
		require.NoError(t, s.Put(ctx, newRecord("b", 1, 2*time.Minute)))
		require.NoError(t, s.Put(ctx, newRecord("c", 2, time.Hour)))

		n, err := s.Count(ctx, t0)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		now := t0.Add(2 * time.Minute)
		removed, err := s.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		n, err = s.Count(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, ok, err := s.Get(ctx, "c", now)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := newRecord("d", 1, time.Hour)
	rec.Data = map[string]string{"k": "v"}
	require.NoError(t, s.Put(ctx, rec))

	rec.Data["k"] = "changed"
	got, _, err := s.Get(ctx, "d", t0)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Data["k"])
}

func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Up(context.Background(), db, migrations.SQLite, nil))
	return db
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(setupSQLite(t))
		require.NoError(t, err)
		return s
	})
}

func newBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerStore(BadgerOptions{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newBadgerStore(t) })
}

func TestBadgerStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadgerStore(BadgerOptions{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, newRecord("persist", 9, 24*time.Hour)))
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(BadgerOptions{Dir: dir}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, ok, err := s.Get(ctx, "persist", t0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), got.AccountID)
}

func TestOpenBadgerStore_RequiresDir(t *testing.T) {
	_, err := OpenBadgerStore(BadgerOptions{}, nil)
	require.Error(t, err)
}

// Integration: opt-in via GATEHOUSE_TEST_DATABASE_URL.
func TestPostgresStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		pool, schema := pgtest.Open(t)
		s, err := NewPostgresStore(pool, schema)
		require.NoError(t, err)
		return s
	})
}
