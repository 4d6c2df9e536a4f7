package access

import (
	"os"
	"strings"
	"time"
)

const (
	// DefaultTTL is the access-token lifetime when none (or a malformed one) is configured.
	DefaultTTL = 15 * time.Minute

	// MinSecretBytes is the minimum HS256 key size.
	MinSecretBytes = 32
)

// Config controls access-token issuance.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	TTL time.Duration

	// ClockSkew is the leeway applied to exp/iat/nbf during verification.
	ClockSkew time.Duration

	// Secret is the HS256 signing key.
	Secret []byte
}

// DefaultConfig returns defaults without a secret.
func DefaultConfig() Config {
	return Config{
		Issuer:    "postboard",
		TTL:       DefaultTTL,
		ClockSkew: 30 * time.Second,
	}
}

// Validate checks structural invariants.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" || c.TTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	if len(c.Secret) < MinSecretBytes {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads access-token configuration from environment variables.
//
// Required:
//   - POSTBOARD_ACCESS_TOKEN_SECRET (at least 32 bytes)
//
// Optional:
//   - POSTBOARD_ACCESS_TOKEN_TTL (Go duration; malformed values fall back to 15m)
//   - POSTBOARD_ACCESS_TOKEN_ISSUER
//   - POSTBOARD_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("POSTBOARD_ACCESS_TOKEN_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("POSTBOARD_ACCESS_TOKEN_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TTL = d
		}
	}

	if v := strings.TrimSpace(os.Getenv("POSTBOARD_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.Secret = []byte(strings.TrimSpace(os.Getenv("POSTBOARD_ACCESS_TOKEN_SECRET")))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
