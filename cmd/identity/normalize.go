package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Note: for now we only trim + lower-case. Provider-specific rules
// (dots, plus-addressing) are not applied.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeProvider canonicalizes a provider name ("Google" -> "google").
func NormalizeProvider(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
