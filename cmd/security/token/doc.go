// Package token provides the digest-at-rest primitive for opaque tokens.
//
// It is the single source of truth for how refresh tokens are hashed before
// they reach a store.
//
// Modes:
//   - SHA-256(token) when no server key is configured (local/dev).
//   - HMAC-SHA256(token, k) when POSTBOARD_TOKEN_HMAC_KEY is set, where k is an
//     HKDF-SHA256 subkey of the configured secret.
//
// Output is always a stable 64-char lowercase hex string. Refresh tokens carry
// 256 bits of entropy, so a fast hash is sufficient; do not swap in a
// password KDF here.
package token
