package app

import (
	"errors"
	"fmt"

	"postboard/cmd/security/token"
)

// ValidateSecurityConfig enforces the digest-at-rest policy at startup.
//
// With RequireTokenHMAC set, the HMAC key must be present and long enough, and
// the hasher handed to the refresh manager must actually be in HMAC mode.
func ValidateSecurityConfig(cfg Config, hasher token.Hasher) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(token.MinHMACKeyBytes); err != nil {
		return fmt.Errorf("security policy: POSTBOARD_REQUIRE_TOKEN_HMAC=true: %w", err)
	}

	if !hasher.HMACEnabled() {
		return errors.New("security policy: POSTBOARD_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
