package identity

import "strings"

// NormalizeProvider canonicalizes a provider name ("Google " -> "google").
func NormalizeProvider(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
