package app

import (
	"testing"

	"quill/cmd/internal/auth/authority"
)

func TestValidateSecurityConfig(t *testing.T) {
	acfg := authority.DefaultConfig()
	acfg.AccessTokenSecret = []byte("a")
	acfg.RefreshTokenSecret = []byte("r")
	acfg.SessionContextKey = []byte("s")

	if err := ValidateSecurityConfig(Config{}, acfg); err != nil {
		t.Fatalf("distinct keys: %v", err)
	}

	if err := ValidateSecurityConfig(Config{RequireDB: true}, acfg); err == nil {
		t.Fatalf("RequireDB without DatabaseURL must fail")
	}

	shared := acfg
	shared.AccessTokenSecret = []byte("r")
	if err := ValidateSecurityConfig(Config{}, shared); err == nil {
		t.Fatalf("shared access/refresh key must fail")
	}

	paseto := shared
	paseto.AccessTokenFormat = authority.AccessTokenPaseto
	if err := ValidateSecurityConfig(Config{}, paseto); err != nil {
		t.Fatalf("access secret is unused with paseto: %v", err)
	}

	if err := ValidateSecurityConfig(Config{CORSAllowedOrigins: []string{"*"}, CORSAllowCredentials: true}, acfg); err == nil {
		t.Fatalf("wildcard CORS with credentials must fail")
	}
}
