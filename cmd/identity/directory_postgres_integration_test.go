package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"postboard/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require POSTBOARD_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresDirectory_FindOrCreate(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyDirectorySchema(t, pool, schema)

	d, err := NewPostgresDirectory(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresDirectory: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	first, err := d.Resolve(ctx, Profile{Provider: "google", Subject: "g-1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ids.Valid(first) {
		t.Fatalf("user id %q is not a ULID", first)
	}

	again, err := d.Resolve(ctx, Profile{Provider: "Google", Subject: "g-1", Email: "A@B.C", EmailVerified: true})
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if again != first {
		t.Fatalf("same identity resolved to %q and %q", first, again)
	}

	var email *string
	err = pool.QueryRow(ctx, `SELECT email FROM `+pgx.Identifier{schema, "user_identities"}.Sanitize()+
		` WHERE provider = 'google' AND subject = 'g-1'`).Scan(&email)
	if err != nil {
		t.Fatalf("select email: %v", err)
	}
	if email == nil || *email != "a@b.c" {
		t.Fatalf("email = %v, want a@b.c", email)
	}

	other, err := d.Resolve(ctx, Profile{Provider: "apple", Subject: "g-1"})
	if err != nil {
		t.Fatalf("Resolve(apple): %v", err)
	}
	if other == first {
		t.Fatalf("different providers share user id")
	}
}

func TestNewPostgresDirectory_InvalidSchema(t *testing.T) {
	if _, err := NewPostgresDirectory(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
	if _, err := NewPostgresDirectory(&pgxpool.Pool{}, WithSchema("bad-schema;")); err == nil {
		t.Fatalf("expected error for invalid schema")
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("POSTBOARD_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: POSTBOARD_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse POSTBOARD_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (POSTBOARD_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	schema := "postboard_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplyDirectorySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  provider TEXT NOT NULL,
  subject TEXT NOT NULL,
  user_id TEXT NOT NULL,
  email TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (provider, subject)
);`, pgx.Identifier{schema, "user_identities"}.Sanitize())

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
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
