package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL (refresh_tokens).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed refresh store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// pgRow mirrors the refresh_tokens row; nullable columns scan into pointers.
type pgRow struct {
	ID               string
	SubjectID        string
	TokenDigest      string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RotatedTo        *string
	Revoked          bool
	RevokedAt        *time.Time
	RevocationReason *string
}

func (r pgRow) record() Record {
	rec := Record{
		ID:          r.ID,
		SubjectID:   r.SubjectID,
		TokenDigest: r.TokenDigest,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
		Revoked:     r.Revoked,
	}
	if r.RotatedTo != nil {
		rec.RotatedTo = *r.RotatedTo
	}
	if r.RevokedAt != nil {
		rec.RevokedAt = r.RevokedAt.UTC()
	}
	if r.RevocationReason != nil {
		rec.RevocationReason = *r.RevocationReason
	}
	return rec
}

const selectColumns = `
	id, subject_id, token_digest,
	created_at, expires_at,
	rotated_to, revoked, revoked_at, revocation_reason`

func scanRow(row pgx.Row) (Record, error) {
	var r pgRow
	err := row.Scan(
		&r.ID,
		&r.SubjectID,
		&r.TokenDigest,
		&r.CreatedAt,
		&r.ExpiresAt,
		&r.RotatedTo,
		&r.Revoked,
		&r.RevokedAt,
		&r.RevocationReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return r.record(), nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRecord(ctx context.Context, db execer, rec Record) error {
	_, err := db.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, subject_id, token_digest,
			created_at, expires_at,
			rotated_to, revoked, revoked_at, revocation_reason
		) VALUES (
			$1, $2, $3,
			$4, $5,
			NULL, FALSE, NULL, NULL
		)
	`, rec.ID, rec.SubjectID, rec.TokenDigest, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", errDuplicate, pgErr.ConstraintName)
		}
		return err
	}
	return nil
}

// Create inserts a new record.
func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	return insertRecord(ctx, s.pool, rec)
}

// GetByID loads a record by ID.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Record, error) {
	return scanRow(s.pool.QueryRow(ctx, `SELECT`+selectColumns+`
		FROM refresh_tokens
		WHERE id = $1
	`, id))
}

// GetByDigest loads a record by token digest.
func (s *PostgresStore) GetByDigest(ctx context.Context, digest string) (Record, error) {
	return scanRow(s.pool.QueryRow(ctx, `SELECT`+selectColumns+`
		FROM refresh_tokens
		WHERE token_digest = $1
	`, digest))
}

// Rotate performs the conditional rotation inside one transaction.
//
// The presented row is locked with SELECT ... FOR UPDATE, so concurrent
// rotations of the same token serialize and the second one sees rotated_to.
func (s *PostgresStore) Rotate(ctx context.Context, digest string, next Record, now time.Time) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := scanRow(tx.QueryRow(ctx, `SELECT`+selectColumns+`
		FROM refresh_tokens
		WHERE token_digest = $1
		FOR UPDATE
	`, digest))
	if err != nil {
		return Record{}, err
	}

	if err := checkRotatable(prev, now); err != nil {
		return Record{}, err
	}

	next.SubjectID = prev.SubjectID
	if err := insertRecord(ctx, tx, next); err != nil {
		return Record{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET
			revoked = TRUE,
			revoked_at = COALESCE(revoked_at, $2),
			revocation_reason = COALESCE(revocation_reason, $3),
			rotated_to = COALESCE(rotated_to, $4)
		WHERE id = $1
	`, prev.ID, now, ReasonRotation, next.ID)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}
	return prev, nil
}

// Revoke marks a record revoked; unknown or already revoked IDs affect zero rows.
func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET
			revoked = TRUE,
			revoked_at = $2,
			revocation_reason = $3
		WHERE id = $1 AND NOT revoked
	`, id, now, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
