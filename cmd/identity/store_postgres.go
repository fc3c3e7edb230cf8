package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool used by the Postgres stores.
// It lets tests substitute pgxmock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements account persistence over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Username uniqueness is the uq_users_username constraint; the store never pre-checks.
type PostgresStore struct {
	pool   PgxPool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "public").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !PgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool PgxPool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) users() string { return pgIdent(s.schema, "users") }

// CreateAccount inserts a new account. A taken username yields ConflictError{Field: "username"}.
func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
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

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.users()+` (username, password, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 RETURNING `+accountColumns,
		username, in.PasswordHash, now,
	)
	a, err := scanPgAccount(row)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, unavailable(op, err)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id int64) (Account, bool, error) {
	return s.getBy(ctx, "identity.GetAccountByID", "id", id)
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (Account, bool, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return Account{}, false, nil
	}
	return s.getBy(ctx, "identity.GetAccountByUsername", "username", username)
}

func (s *PostgresStore) GetAccountByResetToken(ctx context.Context, digest string) (Account, bool, error) {
	if digest == "" {
		return Account{}, false, nil
	}
	return s.getBy(ctx, "identity.GetAccountByResetToken", "reset_token", digest)
}

// getBy looks up a single account. col is always a constant from this file.
func (s *PostgresStore) getBy(ctx context.Context, op, col string, arg any) (Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, false, err
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+`
		   FROM `+s.users()+`
		  WHERE `+col+` = $1`,
		arg,
	)
	a, err := scanPgAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, false, nil
		}
		return Account{}, false, unavailable(op, err)
	}
	return a, true, nil
}

// UpdateAccount applies patch in a single UPDATE ... RETURNING statement.
// With ExpectResetToken the row is only touched if the stored digest still matches,
// which serializes concurrent redemptions of the same reset token.
func (s *PostgresStore) UpdateAccount(ctx context.Context, id int64, patch AccountPatch) (Account, error) {
	const op = "identity.UpdateAccount"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if patch.empty() {
		return Account{}, invalid(op, "empty patch")
	}
	now := nowOr(patch.Now)

	sets, args := updateSQL(patch, now, pgPlaceholder, func(t time.Time) any { return t })

	args = append(args, id)
	where := `id = ` + pgPlaceholder(len(args))
	if patch.ExpectResetToken != nil {
		args = append(args, *patch.ExpectResetToken)
		where += ` AND reset_token = ` + pgPlaceholder(len(args))
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.users()+`
		    SET `+sets+`
		  WHERE `+where+`
		  RETURNING `+accountColumns,
		args...,
	)
	a, err := scanPgAccount(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, unavailable(op, err)
	}

	if patch.ExpectResetToken == nil {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}

	// Distinguish a lost precondition from a missing row.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.users()+` WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return Account{}, unavailable(op, err)
	}
	if !exists {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return Account{}, OpError{Op: op, Kind: ErrPreconditionFailed, Msg: "reset token changed"}
}

func scanPgAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.PasswordHash,
		&a.ResetToken,
		&a.ResetTokenExpiry,
		&a.RememberMeToken,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if a.ResetTokenExpiry != nil {
		t := a.ResetTokenExpiry.UTC()
		a.ResetTokenExpiry = &t
	}
	return a, nil
}

// ---- helpers ----

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// PgIdentIsValid checks if a string is a safe Postgres identifier.
func PgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != pgerrcode.UniqueViolation {
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to heuristic substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_username":
		return "username", true
	case "uq_users_reset_token":
		return "reset_token", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "reset") && strings.Contains(c, "token"):
			return "reset_token", true
		default:
			return "unique", true
		}
	}
}

var _ Store = (*PostgresStore)(nil)
