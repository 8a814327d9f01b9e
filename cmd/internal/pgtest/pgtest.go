// Package pgtest provides Postgres helpers for integration tests.
//
// Integration tests are enabled when QUILL_DATABASE_URL is set. Outside CI,
// an unreachable Postgres skips the test instead of failing it.
package pgtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"quill/cmd/internal/migrations"
)

// EnvDatabaseURL names the connection string variable.
const EnvDatabaseURL = "QUILL_DATABASE_URL"

// Pool connects to the test database, applies migrations and closes the
// pool when the test ends.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv(EnvDatabaseURL)
	if dbURL == "" {
		t.Skipf("%s is not set; skipping Postgres integration test", EnvDatabaseURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if ShouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable (%s set): %v", EnvDatabaseURL, err)
		}
		t.Fatalf("pool.Ping: %v", err)
	}

	if err := migrations.UpPool(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("migrations: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

// ShouldSkip reports whether err looks like an unreachable database in a
// non-CI run.
func ShouldSkip(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
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
	for _, s := range []string{"connection refused", "context deadline exceeded", "timeout", "dial tcp", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// CreateUser inserts a bare user row and removes it (cascading to tokens
// and providers) when the test ends.
func CreateUser(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id := ulid.Make().String()
	email := strings.ToLower(id) + "@example.test"
	_, err := pool.Exec(context.Background(), `
		INSERT INTO quill.users (id, email, email_norm, created_at, updated_at)
		VALUES ($1, $2, $2, now(), now())
	`, id, email)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM quill.users WHERE id = $1`, id)
	})
	return id
}
