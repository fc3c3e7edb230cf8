package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DBTX is the subset of *sql.DB used by SQLiteStore.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore persists sessions in the sessions table (modernc.org/sqlite).
// Timestamps are UTC unix nanoseconds.
type SQLiteStore struct {
	db DBTX
}

// NewSQLiteStore wraps db. The caller owns db and applies migrations.
func NewSQLiteStore(db DBTX) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("session: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	const op = "session.SQLiteStore.Put"

	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeData(rec.Data)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id_digest, account_id, remember_me, data, created_at, last_seen_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Digest, rec.AccountID, rec.RememberMe, data,
		rec.CreatedAt.UnixNano(), rec.LastSeenAt.UnixNano(), rec.ExpiresAt.UnixNano(),
	)
	if err != nil {
		var se *sqlite.Error
		if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return ErrDuplicateID
		}
		return storeErr(op, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, digest string, now time.Time) (Record, bool, error) {
	const op = "session.SQLiteStore.Get"

	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	var (
		rec                 Record
		data                string
		created, seen, exps int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id_digest, account_id, remember_me, data, created_at, last_seen_at, expires_at
		   FROM sessions
		  WHERE id_digest = ? AND expires_at > ?`,
		digest, now.UnixNano(),
	).Scan(&rec.Digest, &rec.AccountID, &rec.RememberMe, &data, &created, &seen, &exps)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, storeErr(op, err)
	}

	if rec.Data, err = decodeData([]byte(data)); err != nil {
		return Record{}, false, storeErr(op, err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.LastSeenAt = time.Unix(0, seen).UTC()
	rec.ExpiresAt = time.Unix(0, exps).UTC()
	return rec, true, nil
}

func (s *SQLiteStore) Touch(ctx context.Context, digest string, now, expiresAt time.Time) (bool, error) {
	const op = "session.SQLiteStore.Touch"

	if err := ctx.Err(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		    SET last_seen_at = ?, expires_at = ?
		  WHERE id_digest = ? AND expires_at > ?`,
		now.UnixNano(), expiresAt.UnixNano(), digest, now.UnixNano(),
	)
	if err != nil {
		return false, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(op, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id_digest = ?`, digest); err != nil {
		return storeErr("session.SQLiteStore.Delete", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	const op = "session.SQLiteStore.DeleteExpired"

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(op, err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Count(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE expires_at > ?`, now.UnixNano()).Scan(&n)
	if err != nil {
		return 0, storeErr("session.SQLiteStore.Count", err)
	}
	return n, nil
}

func encodeData(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func decodeData(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode session data: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

var _ Store = (*SQLiteStore)(nil)
