package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool used by PostgresStore.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists sessions in PostgreSQL.
// The pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool   PgxPool
	schema string
}

// NewPostgresStore constructs a PostgresStore. schema defaults to "public".
func NewPostgresStore(pool PgxPool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	const op = "session.PostgresStore.Put"

	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeData(rec.Data)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (id_digest, account_id, remember_me, data, created_at, last_seen_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.Digest, rec.AccountID, rec.RememberMe, string(data), rec.CreatedAt, rec.LastSeenAt, rec.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateID
		}
		return storeErr(op, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, digest string, now time.Time) (Record, bool, error) {
	const op = "session.PostgresStore.Get"

	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	var (
		rec  Record
		data []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id_digest, account_id, remember_me, data, created_at, last_seen_at, expires_at
		   FROM `+s.table()+`
		  WHERE id_digest = $1 AND expires_at > $2`,
		digest, now,
	).Scan(&rec.Digest, &rec.AccountID, &rec.RememberMe, &data, &rec.CreatedAt, &rec.LastSeenAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, storeErr(op, err)
	}

	if rec.Data, err = decodeData(data); err != nil {
		return Record{}, false, storeErr(op, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.LastSeenAt = rec.LastSeenAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, true, nil
}

func (s *PostgresStore) Touch(ctx context.Context, digest string, now, expiresAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET last_seen_at = $2, expires_at = $3
		  WHERE id_digest = $1 AND expires_at > $2`,
		digest, now, expiresAt,
	)
	if err != nil {
		return false, storeErr("session.PostgresStore.Touch", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PostgresStore) Delete(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id_digest = $1`, digest); err != nil {
		return storeErr("session.PostgresStore.Delete", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, storeErr("session.PostgresStore.DeleteExpired", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *PostgresStore) Count(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+s.table()+` WHERE expires_at > $1`, now).Scan(&n)
	if err != nil {
		return 0, storeErr("session.PostgresStore.Count", err)
	}
	return n, nil
}

var _ Store = (*PostgresStore)(nil)
