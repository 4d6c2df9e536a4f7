package refresh

import (
	"crypto/rand"
	"encoding/base64"
)

// maxTokenLen bounds presented tokens before hashing.
const maxTokenLen = 4096

// Digester computes the at-rest digest of a token. token.Hasher implements it.
type Digester interface {
	Digest(token string) string
}

func newOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	// URL-safe, no padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
