package identity

import (
	"context"
	"strings"
)

// Profile is what a provider vouches for after verifying its identity token.
type Profile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Validate checks the fields the Directory keys on.
func (p Profile) Validate(op string) error {
	if NormalizeProvider(p.Provider) == "" {
		return invalid(op, "provider is required")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return invalid(op, "subject is required")
	}
	return nil
}

// Verifier verifies an external identity token issued by provider.
//
// Implementations return an ErrUnverified OpError when the token is rejected.
type Verifier interface {
	Verify(ctx context.Context, provider, idToken string) (Profile, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, provider, idToken string) (Profile, error)

func (f VerifierFunc) Verify(ctx context.Context, provider, idToken string) (Profile, error) {
	return f(ctx, provider, idToken)
}

// Verifiers routes verification by provider name.
type Verifiers map[string]Verifier

func (v Verifiers) Verify(ctx context.Context, provider, idToken string) (Profile, error) {
	const op = "identity.Verify"

	name := NormalizeProvider(provider)
	if name == "" {
		return Profile{}, invalid(op, "provider is required")
	}
	inner, ok := v[name]
	if !ok || inner == nil {
		return Profile{}, invalid(op, "unsupported provider")
	}
	return inner.Verify(ctx, name, idToken)
}

// Providers lists the configured provider names.
func (v Verifiers) Providers() []string {
	out := make([]string, 0, len(v))
	for name := range v {
		out = append(out, name)
	}
	return out
}
