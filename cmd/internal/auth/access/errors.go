package access

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid access token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid access config")
)
