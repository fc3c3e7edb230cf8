package migrations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestUp_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, Up(ctx, db, SQLite, nil))

	v, err := Version(ctx, db, SQLite, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	for _, table := range []string{"users", "sessions"} {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	// Re-running is a no-op.
	require.NoError(t, Up(ctx, db, SQLite, nil))
}

func TestUp_UnsupportedDialect(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = Up(context.Background(), db, Dialect("mysql"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dialect")
}

func TestUp_NilDB(t *testing.T) {
	require.Error(t, Up(context.Background(), nil, SQLite, nil))
}
