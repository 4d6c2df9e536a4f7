package access

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Secret = []byte(strings.Repeat("s", MinSecretBytes))
	return cfg
}

func newTestManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestManager_IssueAndVerify(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tok, exp, err := m.Issue("01HZZZZZZZZZZZZZZZZZZZZZZZ", now)
	require.NoError(t, err)
	require.Equal(t, now.Add(DefaultTTL), exp)

	claims, err := m.Verify(tok, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "01HZZZZZZZZZZZZZZZZZZZZZZZ", claims.Subject)
	require.Equal(t, "postboard", claims.Issuer)
	require.Equal(t, exp, claims.ExpiresAt)
	require.Equal(t, now, claims.IssuedAt)
	require.Len(t, claims.ID, 26)
}

func TestManager_IssueRejectsEmptySubject(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	_, _, err := m.Issue("  ", time.Now())
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_VerifyExpiry(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *Config) { c.ClockSkew = 0 })
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tok, exp, err := m.Issue("u1", now)
	require.NoError(t, err)

	_, err = m.Verify(tok, exp.Add(-time.Second))
	require.NoError(t, err)

	_, err = m.Verify(tok, exp.Add(time.Second))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_VerifyLeeway(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *Config) { c.ClockSkew = 30 * time.Second })
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tok, exp, err := m.Issue("u1", now)
	require.NoError(t, err)

	_, err = m.Verify(tok, exp.Add(10*time.Second))
	require.NoError(t, err)
}

func TestManager_VerifyRejects(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, nil)

	other := newTestManager(t, func(c *Config) { c.Secret = []byte(strings.Repeat("x", MinSecretBytes)) })
	wrongKey, _, err := other.Issue("u1", now)
	require.NoError(t, err)

	otherIssuer := newTestManager(t, func(c *Config) { c.Issuer = "someone-else" })
	wrongIssuer, _, err := otherIssuer.Issue("u1", now)
	require.NoError(t, err)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Issuer:    "postboard",
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	wrongAlg, err := hs512.SignedString([]byte(strings.Repeat("s", MinSecretBytes)))
	require.NoError(t, err)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  "postboard",
		Subject: "u1",
	})
	missingExp, err := noExp.SignedString([]byte(strings.Repeat("s", MinSecretBytes)))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"malformed":    "not.a.jwt",
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"wrong alg":    wrongAlg,
		"missing exp":  missingExp,
	}
	for name, tok := range cases {
		_, err := m.Verify(tok, now)
		require.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"short secret":  func(c *Config) { c.Secret = []byte("short") },
		"zero ttl":      func(c *Config) { c.TTL = 0 },
		"negative skew": func(c *Config) { c.ClockSkew = -time.Second },
		"empty issuer":  func(c *Config) { c.Issuer = " " },
	}
	for name, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		_, err := NewManager(cfg)
		require.ErrorIs(t, err, ErrConfig, name)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("POSTBOARD_ACCESS_TOKEN_SECRET", "")
	_, err := LoadConfigFromEnv()
	require.ErrorIs(t, err, ErrConfig)

	t.Setenv("POSTBOARD_ACCESS_TOKEN_SECRET", strings.Repeat("k", 40))
	t.Setenv("POSTBOARD_ACCESS_TOKEN_TTL", "garbage")
	t.Setenv("POSTBOARD_ACCESS_TOKEN_ISSUER", "postboard-test")
	t.Setenv("POSTBOARD_AUTH_CLOCK_SKEW", "5s")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, DefaultTTL, cfg.TTL)
	require.Equal(t, "postboard-test", cfg.Issuer)
	require.Equal(t, 5*time.Second, cfg.ClockSkew)

	t.Setenv("POSTBOARD_AUTH_CLOCK_SKEW", "-1s")
	_, err = LoadConfigFromEnv()
	require.ErrorIs(t, err, ErrConfig)
}
