package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultRefreshCookieName is the cookie carrying the opaque refresh token.
const DefaultRefreshCookieName = "refresh_token"

// Config controls auth API behavior and security defaults.
type Config struct {
	// RefreshCookieName names the HttpOnly refresh cookie.
	RefreshCookieName string

	// CookieSecure marks the refresh cookie Secure. Off only in local environments.
	CookieSecure bool

	TrustProxy   bool
	MaxBodyBytes int64

	LoginIPMax    int
	LoginIPWindow time.Duration

	RefreshIPMax    int
	RefreshIPWindow time.Duration
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
//
// environment is the deployment environment (POSTBOARD_ENV); cookies are Secure
// unless it is "local".
func LoadConfigFromEnv(environment string) Config {
	cfg := Config{
		RefreshCookieName: strings.TrimSpace(os.Getenv("POSTBOARD_AUTH_COOKIE_NAME")),
		CookieSecure:      !strings.EqualFold(strings.TrimSpace(environment), "local"),
		TrustProxy:        envBool("POSTBOARD_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:      envInt64("POSTBOARD_AUTH_MAX_BODY_BYTES", 64<<10), // 64 KiB
		LoginIPMax:        envInt("POSTBOARD_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow:     envDuration("POSTBOARD_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),
		RefreshIPMax:      envInt("POSTBOARD_AUTH_REFRESH_IP_MAX", 60),
		RefreshIPWindow:   envDuration("POSTBOARD_AUTH_REFRESH_IP_WINDOW", time.Minute),
	}

	if !validCookieName(cfg.RefreshCookieName) {
		cfg.RefreshCookieName = DefaultRefreshCookieName
	}

	return cfg
}

// validCookieName accepts RFC 6265 token characters only.
func validCookieName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r <= ' ' || r >= 0x7f || strings.ContainsRune(`()<>@,;:\"/[]?={}`, r) {
			return false
		}
	}
	return true
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
