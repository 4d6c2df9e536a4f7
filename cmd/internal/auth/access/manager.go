package access

import (
	"strings"
	"time"

	"postboard/cmd/identity/ids"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified content of an access token.
type Claims struct {
	Subject   string
	ID        string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Manager issues and verifies HS256 access tokens.
type Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		secret:    append([]byte(nil), cfg.Secret...),
	}, nil
}

// TTL returns the configured token lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a token for subject valid from now until now+TTL.
func (m *Manager) Issue(subject string, now time.Time) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, ErrInvalidToken
	}

	jti, err := ids.NewULID(now)
	if err != nil {
		return "", time.Time{}, err
	}

	// NumericDate has second precision; keep exp consistent with what verifiers see.
	exp := now.Add(m.ttl).Truncate(time.Second)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   subject,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and validity window at now.
// Every failure maps to ErrInvalidToken.
func (m *Manager) Verify(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	var rc jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &rc,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if rc.Subject == "" {
		return Claims{}, ErrInvalidToken
	}

	c := Claims{
		Subject: rc.Subject,
		ID:      rc.ID,
		Issuer:  rc.Issuer,
	}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time.UTC()
	}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time.UTC()
	}
	return c, nil
}
