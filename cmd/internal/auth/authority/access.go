package authority

import "time"

// AccessClaims is the identity envelope carried by an access token.
type AccessClaims struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// AccessTokenManager issues and verifies short-lived access tokens.
// Verify needs no storage; any failure is ErrCredentialInvalid.
type AccessTokenManager interface {
	Issue(userID, sessionID string, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

// NewAccessTokenManager builds the manager selected by cfg.AccessTokenFormat.
func NewAccessTokenManager(cfg Config) (AccessTokenManager, error) {
	switch cfg.AccessTokenFormat {
	case AccessTokenPaseto:
		return NewPasetoV4PublicManager(cfg)
	case AccessTokenJWT, "":
		return NewJWTManager(cfg)
	default:
		return nil, ErrConfig
	}
}
