package identity

import (
	"context"
	"strings"
)

// DevProvider is the provider name served by DevVerifier.
const DevProvider = "dev"

// DevVerifier accepts unsigned "dev:<subject>[:<email>]" tokens.
// It exists for local environments only and must never be wired in production.
type DevVerifier struct{}

func (DevVerifier) Verify(ctx context.Context, provider, idToken string) (Profile, error) {
	const op = "identity.DevVerifier.Verify"

	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	if NormalizeProvider(provider) != DevProvider {
		return Profile{}, unverified(op, "wrong provider")
	}

	rest, ok := strings.CutPrefix(strings.TrimSpace(idToken), "dev:")
	if !ok {
		return Profile{}, unverified(op, "malformed dev token")
	}

	subject, email, _ := strings.Cut(rest, ":")
	subject = strings.TrimSpace(subject)
	if subject == "" || len(subject) > 255 {
		return Profile{}, unverified(op, "malformed dev token")
	}

	p := Profile{
		Provider: DevProvider,
		Subject:  subject,
		Name:     subject,
	}
	if email = NormalizeEmail(email); email != "" {
		p.Email = email
		p.EmailVerified = true
	}
	return p, nil
}
