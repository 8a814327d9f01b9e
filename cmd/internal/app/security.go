package app

import (
	"bytes"
	"errors"

	"quill/cmd/internal/auth/authority"
)

// ValidateSecurityConfig enforces Quill's startup security policy. It fails
// fast instead of running with weaker guarantees.
func ValidateSecurityConfig(cfg Config, acfg authority.Config) error {
	if cfg.RequireDB && cfg.DatabaseURL == "" {
		return errors.New("security policy: QUILL_REQUIRE_DB=true but QUILL_DATABASE_URL is empty")
	}

	// Keys are never shared between token types.
	keys := [][]byte{acfg.RefreshTokenSecret, acfg.SessionContextKey}
	if acfg.AccessTokenFormat == authority.AccessTokenJWT {
		keys = append(keys, acfg.AccessTokenSecret)
	}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if len(keys[i]) > 0 && bytes.Equal(keys[i], keys[j]) {
				return errors.New("security policy: access, refresh and session-context keys must be distinct")
			}
		}
	}

	for _, o := range cfg.CORSAllowedOrigins {
		if o == "*" && cfg.CORSAllowCredentials {
			return errors.New("security policy: QUILL_CORS_ALLOWED_ORIGINS=* cannot be combined with credentials")
		}
	}
	return nil
}
