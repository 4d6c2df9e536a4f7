package refresh

import (
	"context"
	"time"
)

// Store abstracts persistence for refresh records.
//
// Implementations index records by ID and by digest and must make Rotate a
// single atomic step per digest.
type Store interface {
	// Create inserts a new record. Duplicate ID or digest is an error.
	Create(ctx context.Context, rec Record) error

	// GetByID loads a record by ID. Returns ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (Record, error)

	// GetByDigest loads a record by token digest. Returns ErrNotFound when absent.
	GetByDigest(ctx context.Context, digest string) (Record, error)

	// Rotate atomically locates the record for digest, inserts next with the
	// same subject, marks the located record revoked and links RotatedTo to
	// next.ID when it was unset. It returns the located record as it was before
	// the update.
	//
	// Returns ErrNotFound, ErrExpired or ErrRevoked (revoked without a
	// successor) without changing anything.
	Rotate(ctx context.Context, digest string, next Record, now time.Time) (prev Record, err error)

	// Revoke marks a record revoked and reports whether it changed anything.
	// Unknown IDs and already revoked records are not errors; both report false.
	Revoke(ctx context.Context, id string, now time.Time, reason string) (bool, error)
}

// checkRotatable applies the rejection rules shared by every Store.Rotate.
func checkRotatable(prev Record, now time.Time) error {
	if !now.Before(prev.ExpiresAt) {
		return ErrExpired
	}
	if prev.Revoked && prev.RotatedTo == "" {
		return ErrRevoked
	}
	return nil
}

// applyRotation returns prev after a successful rotation to nextID.
func applyRotation(prev Record, nextID string, now time.Time) Record {
	out := prev
	if !out.Revoked {
		out.Revoked = true
		out.RevokedAt = now
		out.RevocationReason = ReasonRotation
	}
	if out.RotatedTo == "" {
		out.RotatedTo = nextID
	}
	return out
}
