package refresh

import "time"

// Revocation reasons recorded on Record.RevocationReason.
const (
	ReasonRotation      = "rotation"
	ReasonLogout        = "logout"
	ReasonReuseDetected = "reuse_detected"
)

// Record is the server-side state behind one issued refresh token.
type Record struct {
	ID          string
	SubjectID   string
	TokenDigest string
	CreatedAt   time.Time
	ExpiresAt   time.Time

	// RotatedTo is the successor record ID. Set at most once, never cleared.
	RotatedTo string

	// Revoked never transitions back to false.
	Revoked bool

	RevokedAt        time.Time
	RevocationReason string
}

// Current reports whether the record may still be exchanged at now.
func (r Record) Current(now time.Time) bool {
	return !r.Revoked && r.RotatedTo == "" && now.Before(r.ExpiresAt)
}

// Issued is returned once per token. Token is the only copy of the secret.
type Issued struct {
	Token     string
	ID        string
	SubjectID string
	ExpiresAt time.Time
}

// Verified describes the record matched by Manager.Verify.
type Verified struct {
	ID        string
	SubjectID string
	ExpiresAt time.Time
}

// Rotation is the result of Manager.Rotate.
type Rotation struct {
	Next Issued

	// Reused is true when the presented token had already been rotated.
	Reused bool

	// PreviousID is the record the presented token resolved to.
	PreviousID string

	// SubjectID owns the presented record (and the successor, if any).
	SubjectID string
}
