package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
)

// KeyFromEnv returns the trimmed bytes of env var name, enforcing a minimum
// byte length. Missing or blank yields ErrKeyMissing.
func KeyFromEnv(name string, minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}

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

// Sign returns "value.mac" where mac is HMAC-SHA256(value, key).
func Sign(value string, key []byte) string {
	return value + "." + HashHMACSHA256Hex(value, key)
}

// Unsign verifies a value produced by Sign and returns the original value.
func Unsign(signed string, key []byte) (string, error) {
	i := strings.LastIndexByte(signed, '.')
	if i <= 0 {
		return "", ErrBadSigned
	}
	value, mac := signed[:i], signed[i+1:]
	want := HashHMACSHA256Hex(value, key)
	if !hmac.Equal([]byte(mac), []byte(want)) {
		return "", ErrBadSigned
	}
	return value, nil
}

// RandomString returns n random bytes encoded as unpadded base64url.
func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
