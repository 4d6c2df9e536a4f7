package identity

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"postboard/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements Directory over the user_identities table.
//
//   - The pgx pool is owned by the caller; this directory must NOT close it.
//   - Schema/table identifiers are quoted to avoid SQL injection via identifiers.
//   - Find-or-create is a single INSERT ... ON CONFLICT, so concurrent first
//     sign-ins of the same identity converge on one user id.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "public").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: "public",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return d, nil
}

func (d *PostgresDirectory) Resolve(ctx context.Context, p Profile) (string, error) {
	const op = "identity.PostgresDirectory.Resolve"

	if err := p.Validate(op); err != nil {
		return "", err
	}

	now := d.now()
	candidate, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	var email *string
	if e := NormalizeEmail(p.Email); e != "" && p.EmailVerified {
		email = &e
	}

	table := pgx.Identifier{d.schema, "user_identities"}.Sanitize()

	var userID string
	err = d.pool.QueryRow(ctx, `
		INSERT INTO `+table+` AS ui (provider, subject, user_id, email, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, subject) DO UPDATE
		SET email = COALESCE(EXCLUDED.email, ui.email)
		RETURNING ui.user_id
	`, NormalizeProvider(p.Provider), strings.TrimSpace(p.Subject), candidate, email, now).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return userID, nil
}
