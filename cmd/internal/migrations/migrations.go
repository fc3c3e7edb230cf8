// Package migrations embeds the gatehouse schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS

// Dialect selects the migration set and the goose dialect.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

func (d Dialect) dir() (string, error) {
	switch d {
	case Postgres:
		return "postgres", nil
	case SQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("migrations: unsupported dialect %q", string(d))
	}
}

// goose keeps its configuration in package globals.
var mu sync.Mutex

// Up applies all pending migrations for dialect.
func Up(ctx context.Context, db *sql.DB, d Dialect, log *slog.Logger) error {
	return run(ctx, db, d, log, func(dir string) error {
		return goose.UpContext(ctx, db, dir)
	})
}

// Version returns the current schema version.
func Version(ctx context.Context, db *sql.DB, d Dialect, log *slog.Logger) (int64, error) {
	var v int64
	err := run(ctx, db, d, log, func(string) error {
		var err error
		v, err = goose.GetDBVersionContext(ctx, db)
		return err
	})
	return v, err
}

func run(ctx context.Context, db *sql.DB, d Dialect, log *slog.Logger, fn func(dir string) error) error {
	if db == nil {
		return fmt.Errorf("migrations: nil db")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := d.dir()
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(FS)
	defer goose.SetBaseFS(nil)

	if log == nil {
		goose.SetLogger(goose.NopLogger())
	} else {
		goose.SetLogger(gooseLogger{log: log})
	}

	if err := goose.SetDialect(string(d)); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}

	if err := fn(dir); err != nil {
		return fmt.Errorf("migrations: %s: %w", d, err)
	}
	return nil
}

// gooseLogger routes goose output through slog.
type gooseLogger struct {
	log *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info("migrations.goose", "msg", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error("migrations.goose.fatal", "msg", strings.TrimSpace(fmt.Sprintf(format, v...)))
}
