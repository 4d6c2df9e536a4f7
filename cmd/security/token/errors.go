package token

import (
	"errors"
	"fmt"
)

var (
	ErrHMACKeyMissing  = errors.New("refresh digest key missing")
	ErrHMACKeyTooShort = errors.New("refresh digest key too short")
)

// KeyError describes a rejected digest secret without echoing it.
// It unwraps to ErrHMACKeyMissing or ErrHMACKeyTooShort.
type KeyError struct {
	Env  string
	Have int
	Want int
	Err  error
}

func (e *KeyError) Error() string {
	if errors.Is(e.Err, ErrHMACKeyTooShort) {
		return fmt.Sprintf("%s: %v (%d bytes, need %d)", e.Env, e.Err, e.Have, e.Want)
	}
	return fmt.Sprintf("%s: %v", e.Env, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }
