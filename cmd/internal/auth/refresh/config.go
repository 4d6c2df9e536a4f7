package refresh

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the refresh-token lifetime when none (or a malformed one) is configured.
const DefaultTTL = 30 * 24 * time.Hour

// ReusePolicy selects what Rotate does when an already-rotated token comes back.
type ReusePolicy string

const (
	// ReuseAllow revokes the presented record again, issues a successor and
	// reports Rotation.Reused. The caller decides how to escalate.
	ReuseAllow ReusePolicy = "allow"

	// ReuseRevokeFamily additionally revokes every descendant of the presented
	// record and rejects the rotation with ErrReuseDetected.
	ReuseRevokeFamily ReusePolicy = "revoke_family"
)

// Config controls refresh-token issuance.
type Config struct {
	// TTL is the absolute lifetime of each issued token.
	TTL time.Duration

	// TokenBytes is the number of random bytes behind each token (32..64).
	TokenBytes int

	ReusePolicy ReusePolicy

	// RedisRetention keeps Redis keys alive for this long past ExpiresAt.
	// Zero keeps them indefinitely.
	RedisRetention time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:         DefaultTTL,
		TokenBytes:  32,
		ReusePolicy: ReuseAllow,
	}
}

// Validate checks structural invariants.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return ErrConfig
	}
	if c.TokenBytes < 32 || c.TokenBytes > 64 {
		return ErrConfig
	}
	switch c.ReusePolicy {
	case ReuseAllow, ReuseRevokeFamily:
	default:
		return ErrConfig
	}
	if c.RedisRetention < 0 {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads refresh configuration from environment variables.
//
// Optional:
//   - POSTBOARD_REFRESH_TTL (e.g. "30d", "12h"; malformed values fall back to 30d)
//   - POSTBOARD_REFRESH_TOKEN_BYTES (32..64)
//   - POSTBOARD_REFRESH_REUSE_POLICY ("allow" or "revoke_family")
//   - POSTBOARD_REFRESH_REDIS_RETENTION (Go duration or "Nd")
//
// Returns ErrConfig for out-of-range token sizes or an unknown policy.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("POSTBOARD_REFRESH_TTL")); v != "" {
		if d, ok := ParseTTL(v); ok {
			cfg.TTL = d
		}
	}

	if v := strings.TrimSpace(os.Getenv("POSTBOARD_REFRESH_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.TokenBytes = n
	}

	if v := strings.TrimSpace(os.Getenv("POSTBOARD_REFRESH_REUSE_POLICY")); v != "" {
		cfg.ReusePolicy = ReusePolicy(strings.ToLower(v))
	}

	if v := strings.TrimSpace(os.Getenv("POSTBOARD_REFRESH_REDIS_RETENTION")); v != "" {
		d, ok := ParseTTL(v)
		if !ok {
			return Config{}, ErrConfig
		}
		cfg.RedisRetention = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseTTL parses a positive duration with a unit suffix. On top of
// time.ParseDuration units it accepts whole days ("30d") and weeks ("2w").
// ok is false for malformed or non-positive input.
func ParseTTL(raw string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}

	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	}
	if unit > 0 {
		n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
		if err != nil || n <= 0 || n > int64(1<<62/unit) {
			return 0, false
		}
		return time.Duration(n) * unit, true
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
