package token

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

const (
	sessionContextDomain = "quill 2024-06 session context v1"

	// DefaultSessionBucket is the width of the time bucket mixed into session ids.
	DefaultSessionBucket = 24 * time.Hour

	// MaxIPLength fits any textual IPv6 address.
	MaxIPLength = 45
	// MaxUserAgentLength bounds stored user agents.
	MaxUserAgentLength = 512
)

// SessionContext derives stable session ids. Safe for concurrent use.
type SessionContext struct {
	key    [32]byte
	bucket time.Duration
}

// NewSessionContext builds a SessionContext from secret key material.
// The material is stretched to a 32-byte BLAKE3 key.
func NewSessionContext(material []byte, bucket time.Duration) (*SessionContext, error) {
	if len(material) < 16 {
		return nil, ErrKeyTooShort
	}
	if bucket <= 0 {
		return nil, errors.New("session bucket must be positive")
	}
	buf := make([]byte, 0, len(sessionContextDomain)+len(material))
	buf = append(buf, sessionContextDomain...)
	buf = append(buf, material...)
	return &SessionContext{key: blake3.Sum256(buf), bucket: bucket}, nil
}

// Bucket reports the configured bucket width.
func (s *SessionContext) Bucket() time.Duration { return s.bucket }

// Derive returns the session id for the given inputs. The same inputs within
// one time bucket always produce the same id.
func (s *SessionContext) Derive(userID, ip, userAgent string, now time.Time) string {
	h, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		panic("token: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var n [8]byte
	writeField := func(v string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(v)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(v))
	}
	writeField(userID)
	writeField(TruncateIP(ip))
	writeField(TruncateUserAgent(userAgent))

	binary.BigEndian.PutUint64(n[:], uint64(now.UTC().UnixNano()/int64(s.bucket)))
	_, _ = h.Write(n[:])

	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:18])
}

// TruncateIP bounds an ip string to MaxIPLength bytes.
func TruncateIP(ip string) string {
	return truncateRunes(ip, MaxIPLength)
}

// TruncateUserAgent bounds a user agent to MaxUserAgentLength bytes
// without splitting a multi-byte rune.
func TruncateUserAgent(ua string) string {
	return truncateRunes(ua, MaxUserAgentLength)
}

// truncateRunes drops invalid UTF-8 and NUL bytes, which text columns
// reject, then cuts s to at most maxBytes on a rune boundary.
func truncateRunes(s string, maxBytes int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
