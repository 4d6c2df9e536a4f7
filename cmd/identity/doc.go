// Package identity maps external sign-in identities to postboard user ids.
//
// Verifying a provider identity token is a black box behind Verifier; the
// Directory turns the verified (provider, subject) pair into a stable ULID
// user id, creating one on first sight.
package identity
