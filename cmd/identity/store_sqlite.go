package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DBTX is the subset of *sql.DB / *sql.Tx used by the SQLite stores.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements account persistence over SQLite (modernc.org/sqlite).
// Timestamps are stored as UTC unix nanoseconds.
type SQLiteStore struct {
	db DBTX
}

// NewSQLiteStore wraps db. The caller owns db and applies migrations.
func NewSQLiteStore(db DBTX) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
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

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 RETURNING `+accountColumns,
		username, in.PasswordHash, now.UnixNano(), now.UnixNano(),
	)
	a, err := scanSQLiteAccount(row)
	if err != nil {
		if field, ok := sqliteClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, unavailable(op, err)
	}
	return a, nil
}

func (s *SQLiteStore) GetAccountByID(ctx context.Context, id int64) (Account, bool, error) {
	return s.getBy(ctx, "identity.GetAccountByID", "id", id)
}

func (s *SQLiteStore) GetAccountByUsername(ctx context.Context, username string) (Account, bool, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return Account{}, false, nil
	}
	return s.getBy(ctx, "identity.GetAccountByUsername", "username", username)
}

func (s *SQLiteStore) GetAccountByResetToken(ctx context.Context, digest string) (Account, bool, error) {
	if digest == "" {
		return Account{}, false, nil
	}
	return s.getBy(ctx, "identity.GetAccountByResetToken", "reset_token", digest)
}

func (s *SQLiteStore) getBy(ctx context.Context, op, col string, arg any) (Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, false, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE `+col+` = ?`,
		arg,
	)
	a, err := scanSQLiteAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, false, nil
		}
		return Account{}, false, unavailable(op, err)
	}
	return a, true, nil
}

// UpdateAccount mirrors PostgresStore.UpdateAccount: one conditional UPDATE ... RETURNING.
func (s *SQLiteStore) UpdateAccount(ctx context.Context, id int64, patch AccountPatch) (Account, error) {
	const op = "identity.UpdateAccount"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if patch.empty() {
		return Account{}, invalid(op, "empty patch")
	}
	now := nowOr(patch.Now)

	sets, args := updateSQL(patch, now,
		func(int) string { return "?" },
		func(t time.Time) any { return t.UnixNano() },
	)

	where := `id = ?`
	args = append(args, id)
	if patch.ExpectResetToken != nil {
		where += ` AND reset_token = ?`
		args = append(args, *patch.ExpectResetToken)
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE users SET `+sets+` WHERE `+where+` RETURNING `+accountColumns,
		args...,
	)
	a, err := scanSQLiteAccount(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if field, ok := sqliteClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, unavailable(op, err)
	}

	if patch.ExpectResetToken == nil {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return Account{}, unavailable(op, err)
	}
	if !exists {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return Account{}, OpError{Op: op, Kind: ErrPreconditionFailed, Msg: "reset token changed"}
}

func scanSQLiteAccount(row *sql.Row) (Account, error) {
	var (
		a                  Account
		resetToken         sql.NullString
		resetExpiry        sql.NullInt64
		rememberMe         sql.NullString
		createdAt, updated int64
	)
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.PasswordHash,
		&resetToken,
		&resetExpiry,
		&rememberMe,
		&createdAt,
		&updated,
	)
	if err != nil {
		return Account{}, err
	}

	if resetToken.Valid {
		a.ResetToken = &resetToken.String
	}
	if resetExpiry.Valid {
		t := time.Unix(0, resetExpiry.Int64).UTC()
		a.ResetTokenExpiry = &t
	}
	if rememberMe.Valid {
		a.RememberMeToken = &rememberMe.String
	}
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	a.UpdatedAt = time.Unix(0, updated).UTC()
	return a, nil
}

func sqliteClassifyUniqueViolation(err error) (field string, ok bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return "", false
	}
	if se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return "", false
	}

	// SQLite reports "UNIQUE constraint failed: users.username".
	msg := se.Error()
	switch {
	case strings.Contains(msg, "users.username"):
		return "username", true
	case strings.Contains(msg, "users.reset_token"):
		return "reset_token", true
	default:
		return "unique", true
	}
}

var _ Store = (*SQLiteStore)(nil)
