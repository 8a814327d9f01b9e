package authority

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quill/cmd/security/token"
)

const (
	typeRefresh = "refresh"

	// maxRefreshTokenLen bounds inputs before any parsing.
	maxRefreshTokenLen = 4096
)

var errMalformed = errors.New("malformed refresh token")

type refreshJWTClaims struct {
	Family string `json:"fam"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// UntrustedClaims is the unverified payload of a refresh token. Nothing in
// it is authoritative: it only selects which stored records to compare.
type UntrustedClaims struct {
	UserID string
	Family string
}

// RefreshCodec encodes refresh tokens as HS256 JWTs. Decoding is split into
// DecodeUntrusted (no signature check) and Verify.
type RefreshCodec struct {
	issuer    string
	secret    []byte
	clockSkew time.Duration
}

// NewRefreshCodec validates cfg and builds a codec.
func NewRefreshCodec(cfg Config) (*RefreshCodec, error) {
	if len(cfg.RefreshTokenSecret) < minSecretBytes || cfg.Issuer == "" {
		return nil, ErrConfig
	}
	return &RefreshCodec{issuer: cfg.Issuer, secret: cfg.RefreshTokenSecret, clockSkew: cfg.ClockSkew}, nil
}

// Encode mints a refresh token. A random jti makes every token distinct even
// for identical user, family and timestamps.
func (c *RefreshCodec) Encode(userID, family string, now, exp time.Time) (string, error) {
	jti, err := token.RandomString(24)
	if err != nil {
		return "", err
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshJWTClaims{
		Family: family,
		Type:   typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	return tok.SignedString(c.secret)
}

// DecodeUntrusted reads the payload without checking the signature or times.
func (c *RefreshCodec) DecodeUntrusted(raw string) (UntrustedClaims, error) {
	if raw == "" || len(raw) > maxRefreshTokenLen {
		return UntrustedClaims{}, errMalformed
	}
	claims := &refreshJWTClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return UntrustedClaims{}, errMalformed
	}
	if claims.Type != typeRefresh || claims.Subject == "" || claims.Family == "" {
		return UntrustedClaims{}, errMalformed
	}
	return UntrustedClaims{UserID: claims.Subject, Family: claims.Family}, nil
}

// Verify checks signature, issuer, type and expiry at now.
func (c *RefreshCodec) Verify(raw string, now time.Time) error {
	claims := &refreshJWTClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return err
	}
	if !parsed.Valid || claims.Type != typeRefresh {
		return errMalformed
	}
	return nil
}
