package authority

import (
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"
)

// AccessTokenFormat selects the access token implementation.
type AccessTokenFormat string

const (
	AccessTokenJWT    AccessTokenFormat = "jwt"
	AccessTokenPaseto AccessTokenFormat = "paseto"
)

const minSecretBytes = 32

// Config defines all runtime configuration for the token authority.
type Config struct {
	// Issuer is the "iss" claim of access and refresh tokens.
	Issuer string

	AccessTokenFormat AccessTokenFormat
	AccessTokenTTL    time.Duration

	// Refresh token TTL policies per platform.
	RefreshTTLWeb         time.Duration
	RefreshTTLNative      time.Duration
	RefreshTTLNativeShort time.Duration

	// ClockSkew is the leeway applied when checking token times.
	ClockSkew time.Duration

	// LockTimeout bounds the wait for a per-record lock.
	LockTimeout time.Duration

	// MaxCandidates caps the live sessions (token families) per user.
	// Issuing beyond it revokes the oldest family; validation reads at most
	// twice this many candidates.
	MaxCandidates int

	AccessTokenSecret    []byte
	RefreshTokenSecret   []byte
	PasetoV4SecretKeyHex string

	SessionContextKey []byte
	SessionBucket     time.Duration
}

// DefaultConfig returns defaults for everything except secrets.
func DefaultConfig() Config {
	return Config{
		Issuer:                "quill",
		AccessTokenFormat:     AccessTokenJWT,
		AccessTokenTTL:        15 * time.Minute,
		RefreshTTLWeb:         7 * 24 * time.Hour,
		RefreshTTLNative:      60 * 24 * time.Hour,
		RefreshTTLNativeShort: 14 * 24 * time.Hour,
		ClockSkew:             30 * time.Second,
		LockTimeout:           2 * time.Second,
		MaxCandidates:         50,
		SessionBucket:         24 * time.Hour,
	}
}

// LoadConfigFromEnv loads authority configuration from environment variables.
//
// Required:
//   - QUILL_REFRESH_TOKEN_SECRET (>= 32 bytes)
//   - QUILL_SESSION_CONTEXT_KEY (>= 32 bytes)
//   - QUILL_ACCESS_TOKEN_SECRET (>= 32 bytes) when the format is jwt
//   - QUILL_PASETO_V4_SECRET_KEY_HEX when the format is paseto
//
// Optional:
//   - QUILL_AUTH_ISSUER
//   - QUILL_ACCESS_TOKEN_FORMAT (jwt|paseto)
//   - QUILL_AUTH_ACCESS_TTL
//   - QUILL_AUTH_REFRESH_TTL_WEB
//   - QUILL_AUTH_REFRESH_TTL_NATIVE
//   - QUILL_AUTH_REFRESH_TTL_NATIVE_SHORT
//   - QUILL_AUTH_CLOCK_SKEW
//   - QUILL_AUTH_LOCK_TIMEOUT
//   - QUILL_AUTH_MAX_CANDIDATES
//   - QUILL_SESSION_BUCKET
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("QUILL_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("QUILL_ACCESS_TOKEN_FORMAT")); v != "" {
		switch f := AccessTokenFormat(strings.ToLower(v)); f {
		case AccessTokenJWT, AccessTokenPaseto:
			cfg.AccessTokenFormat = f
		default:
			return Config{}, ErrConfig
		}
	}

	durations := []struct {
		env       string
		dst       *time.Duration
		allowZero bool
	}{
		{"QUILL_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, false},
		{"QUILL_AUTH_REFRESH_TTL_WEB", &cfg.RefreshTTLWeb, false},
		{"QUILL_AUTH_REFRESH_TTL_NATIVE", &cfg.RefreshTTLNative, false},
		{"QUILL_AUTH_REFRESH_TTL_NATIVE_SHORT", &cfg.RefreshTTLNativeShort, false},
		{"QUILL_AUTH_CLOCK_SKEW", &cfg.ClockSkew, true},
		{"QUILL_AUTH_LOCK_TIMEOUT", &cfg.LockTimeout, false},
		{"QUILL_SESSION_BUCKET", &cfg.SessionBucket, false},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.env))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("QUILL_AUTH_MAX_CANDIDATES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return Config{}, ErrConfig
		}
		cfg.MaxCandidates = n
	}

	cfg.RefreshTokenSecret = []byte(strings.TrimSpace(os.Getenv("QUILL_REFRESH_TOKEN_SECRET")))
	cfg.SessionContextKey = []byte(strings.TrimSpace(os.Getenv("QUILL_SESSION_CONTEXT_KEY")))
	cfg.AccessTokenSecret = []byte(strings.TrimSpace(os.Getenv("QUILL_ACCESS_TOKEN_SECRET")))
	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("QUILL_PASETO_V4_SECRET_KEY_HEX"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants and secret sizes.
func (c Config) Validate() error {
	if c.Issuer == "" || c.AccessTokenTTL <= 0 || c.LockTimeout <= 0 || c.MaxCandidates <= 0 {
		return ErrConfig
	}
	if len(c.RefreshTokenSecret) < minSecretBytes || len(c.SessionContextKey) < minSecretBytes {
		return ErrConfig
	}

	switch c.AccessTokenFormat {
	case AccessTokenJWT:
		if len(c.AccessTokenSecret) < minSecretBytes {
			return ErrConfig
		}
	case AccessTokenPaseto:
		if _, err := hex.DecodeString(c.PasetoV4SecretKeyHex); err != nil || c.PasetoV4SecretKeyHex == "" {
			return ErrConfig
		}
	default:
		return ErrConfig
	}

	// Native "short" must not exceed native "long".
	if c.RefreshTTLNative < c.RefreshTTLNativeShort {
		return ErrConfig
	}
	return nil
}
