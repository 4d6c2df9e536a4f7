package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "POSTBOARD_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the minimum key size enforced when HMAC is required.
	MinHMACKeyBytes = 32

	digestKeyInfo = "postboard refresh-token digest v1"
)

// Hasher computes deterministic digests of opaque tokens.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. An empty key selects SHA-256 mode; otherwise
// digests are keyed with DeriveDigestKey(key).
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	return Hasher{key: DeriveDigestKey(key)}
}

// DeriveDigestKey expands a configured secret into the 32-byte HMAC subkey
// used for refresh digests (HKDF-SHA256, fixed info label). The same secret
// always yields the same subkey.
func DeriveDigestKey(secret []byte) []byte {
	out := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, secret, nil, []byte(digestKeyInfo))
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF-SHA256 can emit up to 255*32 bytes; 32 never fails.
		panic("token: hkdf: " + err.Error())
	}
	return out
}

// HasherFromEnv builds a Hasher from POSTBOARD_TOKEN_HMAC_KEY (trimmed).
func HasherFromEnv() Hasher {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	return NewHasher([]byte(raw))
}

// Digest returns the hex digest of token.
func (h Hasher) Digest(token string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(token)
	}
	return HashHMACSHA256Hex(token, h.key)
}

// HMACEnabled reports whether the hasher is keyed.
func (h Hasher) HMACEnabled() bool { return len(h.key) > 0 }

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured digest secret (trimmed). Failures are
// a *KeyError wrapping ErrHMACKeyMissing or ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, &KeyError{Env: HMACEnvKey, Want: minBytes, Err: ErrHMACKeyMissing}
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, &KeyError{Env: HMACEnvKey, Have: len(b), Want: minBytes, Err: ErrHMACKeyTooShort}
	}
	return b, nil
}
