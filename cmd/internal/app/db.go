package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/migrations"
)

type dbKind int

const (
	dbNone dbKind = iota
	dbSQLite
	dbPostgres
)

func (k dbKind) String() string {
	switch k {
	case dbSQLite:
		return "sqlite"
	case dbPostgres:
		return "postgres"
	default:
		return "memory"
	}
}

type dbTarget struct {
	kind dbKind
	// dsn is the driver-specific connection string.
	dsn string
}

// parseDatabaseURL recognises "", "postgres://", "postgresql://", "sqlite:<path>"
// and "file:<path>" (SQLite).
func parseDatabaseURL(raw string) (dbTarget, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return dbTarget{kind: dbNone}, nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		if _, err := url.Parse(raw); err != nil {
			return dbTarget{}, fmt.Errorf("database_url: %w", err)
		}
		return dbTarget{kind: dbPostgres, dsn: raw}, nil
	case strings.HasPrefix(raw, "sqlite://"):
		return sqliteTarget(strings.TrimPrefix(raw, "sqlite://"))
	case strings.HasPrefix(raw, "sqlite:"):
		return sqliteTarget(strings.TrimPrefix(raw, "sqlite:"))
	case strings.HasPrefix(raw, "file:"):
		return dbTarget{kind: dbSQLite, dsn: raw}, nil
	default:
		return dbTarget{}, errors.New("database_url must start with postgres://, postgresql://, sqlite: or file:")
	}
}

func sqliteTarget(path string) (dbTarget, error) {
	if strings.TrimSpace(path) == "" {
		return dbTarget{}, errors.New("database_url: sqlite path is empty")
	}
	if path == ":memory:" {
		return dbTarget{kind: dbSQLite, dsn: path}, nil
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return dbTarget{
		kind: dbSQLite,
		dsn:  path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
	}, nil
}

// backends holds the stores selected by the configuration and the resources behind them.
type backends struct {
	kind     dbKind
	accounts identity.Store
	sessions session.Store

	// ping checks database reachability; nil when there is no database.
	ping    func(ctx context.Context) error
	closers []func() error

	closeOnce sync.Once
	closeErr  error
}

// Close releases resources in reverse order of acquisition. It is idempotent.
func (b *backends) Close() error {
	b.closeOnce.Do(func() {
		var errs []error
		for i := len(b.closers) - 1; i >= 0; i-- {
			if err := b.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		b.closeErr = errors.Join(errs...)
	})
	return b.closeErr
}

// openBackends connects to the configured database, applies migrations and
// builds the account and session stores.
func openBackends(ctx context.Context, cfg Config, log *slog.Logger) (*backends, error) {
	target, err := parseDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	b := &backends{kind: target.kind}
	ok := false
	defer func() {
		if !ok {
			_ = b.Close()
		}
	}()

	var sqlSessions session.Store

	switch target.kind {
	case dbNone:
		log.Info("db.disabled.inmemory_store")
		b.accounts = identity.NewMemoryStore()

	case dbSQLite:
		db, err := OpenSQLite(ctx, target.dsn, log)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		b.ping = db.PingContext

		if b.accounts, err = identity.NewSQLiteStore(db); err != nil {
			return nil, err
		}
		if sqlSessions, err = session.NewSQLiteStore(db); err != nil {
			return nil, err
		}
		log.Info("db.enabled.sqlite_store")

	case dbPostgres:
		pool, err := NewDBPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		b.ping = func(ctx context.Context) error { return PingDB(ctx, pool, 2*time.Second) }

		if err := MigratePostgres(ctx, pool, log); err != nil {
			return nil, err
		}
		if b.accounts, err = identity.NewPostgresStore(pool); err != nil {
			return nil, err
		}
		if sqlSessions, err = session.NewPostgresStore(pool, ""); err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_store")
	}

	switch cfg.SessionStore {
	case SessionStoreMemory:
		b.sessions = session.NewMemoryStore()
	case SessionStoreBadger:
		bs, err := session.OpenBadgerStore(session.BadgerOptions{
			Dir:      cfg.SessionBadgerDir,
			InMemory: strings.TrimSpace(cfg.SessionBadgerDir) == "",
		}, log)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, bs.Close)
		b.sessions = bs
	case SessionStoreSQL:
		if sqlSessions == nil {
			return nil, errors.New("session_store=sql requires database_url")
		}
		b.sessions = sqlSessions
	default:
		if sqlSessions != nil {
			b.sessions = sqlSessions
		} else {
			b.sessions = session.NewMemoryStore()
		}
	}

	ok = true
	return b, nil
}

// OpenSQLite opens a SQLite database with modernc.org/sqlite and applies migrations.
func OpenSQLite(ctx context.Context, dsn string, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	if err := migrations.Up(ctx, db, migrations.SQLite, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

// NewDBPool builds a pgxpool and waits for the database with exponential
// backoff, bounded by cfg.DBConnectTimeout.
func NewDBPool(ctx context.Context, cfg Config, log *slog.Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	backoff := retry.NewExponential(250 * time.Millisecond)
	backoff = retry.WithCappedDuration(5*time.Second, backoff)
	backoff = retry.WithMaxDuration(nonZeroDuration(cfg.DBConnectTimeout, 30*time.Second), backoff)

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := PingDB(ctx, pool, 3*time.Second); err != nil {
			log.Warn("db.connect.retry", "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// MigratePostgres applies the embedded PostgreSQL migrations through a
// database/sql handle borrowed from pool.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	if err := migrations.Up(ctx, db, migrations.Postgres, log); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// Migrate applies the schema migrations for the configured database and exits.
func Migrate(ctx context.Context, cfg Config, log *slog.Logger) error {
	target, err := parseDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	switch target.kind {
	case dbSQLite:
		db, err := OpenSQLite(ctx, target.dsn, log)
		if err != nil {
			return err
		}
		return db.Close()
	case dbPostgres:
		pool, err := NewDBPool(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		return MigratePostgres(ctx, pool, log)
	default:
		return errors.New("migrate: database_url is required")
	}
}
