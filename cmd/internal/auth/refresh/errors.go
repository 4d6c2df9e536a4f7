package refresh

import "errors"

var (
	// ErrNotFound is returned when no record matches the presented token or id.
	ErrNotFound = errors.New("refresh token not found")

	// ErrRevoked is returned when the matched record has been revoked.
	ErrRevoked = errors.New("refresh token revoked")

	// ErrExpired is returned when the matched record is past its expiry.
	ErrExpired = errors.New("refresh token expired")

	// ErrReuseDetected is returned by Rotate under ReuseRevokeFamily when an
	// already-rotated token is presented again. Under the default policy reuse
	// is reported through Rotation.Reused instead.
	ErrReuseDetected = errors.New("refresh token reuse detected")

	// ErrInvalidSubject is returned when Issue is called without a subject.
	ErrInvalidSubject = errors.New("invalid subject")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid refresh config")

	errDuplicate = errors.New("refresh: duplicate record")
)

// IsInactive reports whether err means the presented token cannot be used and
// the client must re-authenticate.
func IsInactive(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrReuseDetected)
}
