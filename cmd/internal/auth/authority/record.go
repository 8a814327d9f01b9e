package authority

import (
	"net"
	"time"
)

// Platform represents the client platform associated with a session.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps a client-supplied string to a Platform.
func ParsePlatform(s string) Platform {
	switch Platform(s) {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return Platform(s)
	default:
		return PlatformUnknown
	}
}

// DeviceContext describes the client that owns a session. IP and UserAgent
// are supplied, already extracted, by the transport layer.
type DeviceContext struct {
	Platform   Platform
	RememberMe bool
	UserAgent  string
	IP         net.IP
}

func (d DeviceContext) ipString() string {
	if d.IP == nil {
		return ""
	}
	return d.IP.String()
}

// Revocation reasons written by the authority itself.
const (
	ReasonRotated          = "rotated"
	ReasonRotationRace     = "rotation_race"
	ReasonInvalidSignature = "invalid signature detected"
	ReasonLogout           = "logout"
	ReasonLogoutEverywhere = "logout_everywhere"
	ReasonSessionLimit     = "session_limit"
	ReasonIssueFailed      = "issue_failed"
)

// Record mirrors a quill.refresh_tokens row.
type Record struct {
	ID            string
	UserID        string
	TokenHash     string
	Family        string
	Platform      Platform
	RememberMe    bool
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	LastUsedAt    *time.Time
	IsRevoked     bool
	RevokedAt     *time.Time
	RevokedReason string
}

// Active reports whether the record is neither revoked nor expired at now.
func (r Record) Active(now time.Time) bool {
	return !r.IsRevoked && now.Before(r.ExpiresAt)
}

// NewRecord is the input to Store.Store. RawToken is hashed by the store and
// never persisted.
type NewRecord struct {
	UserID    string
	RawToken  string
	Family    string
	ExpiresAt  time.Time
	Platform   Platform
	RememberMe bool
	IPAddress  string
	UserAgent  string
}
