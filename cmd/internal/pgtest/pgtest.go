// Package pgtest provisions throwaway PostgreSQL schemas for integration tests.
//
// Tests are opt-in and require GATEHOUSE_TEST_DATABASE_URL. Outside CI, an
// unreachable server skips the test instead of failing it.
package pgtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"gatehouse/cmd/identity/ids"
	"gatehouse/cmd/internal/migrations"
)

// EnvURL names the connection string variable.
const EnvURL = "GATEHOUSE_TEST_DATABASE_URL"

// Open connects to the test database, creates a fresh schema, points the pool's
// search_path at it and applies all migrations. Everything is dropped on cleanup.
func Open(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvURL))
	if raw == "" {
		t.Skipf("integration test skipped: %s is not set", EnvURL)
	}

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "gatehouse_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := admin.Ping(ctx); err != nil {
		admin.Close()
		if shouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable (%s set): %v", EnvURL, err)
		}
		t.Fatalf("ping: %v", err)
	}
	if _, err := admin.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvURL, err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()
	if err := migrations.Up(ctx, db, migrations.Postgres, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return pool, schema
}

func shouldSkip(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
