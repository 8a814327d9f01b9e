package authority

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshCodec_RoundTrip(t *testing.T) {
	c, err := NewRefreshCodec(testConfig())
	require.NoError(t, err)
	now := time.Now().UTC()

	raw, err := c.Encode("user-1", "fam-1", now, now.Add(time.Hour))
	require.NoError(t, err)

	claims, err := c.DecodeUntrusted(raw)
	require.NoError(t, err)
	assert.Equal(t, UntrustedClaims{UserID: "user-1", Family: "fam-1"}, claims)
	require.NoError(t, c.Verify(raw, now))

	again, err := c.Encode("user-1", "fam-1", now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, raw, again)
}

func TestRefreshCodec_VerifyRejects(t *testing.T) {
	cfg := testConfig()
	c, err := NewRefreshCodec(cfg)
	require.NoError(t, err)
	now := time.Now().UTC()

	raw, err := c.Encode("user-1", "fam-1", now, now.Add(time.Hour))
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		require.Error(t, c.Verify(raw, now.Add(2*time.Hour)))
	})

	t.Run("other secret", func(t *testing.T) {
		other := cfg
		other.RefreshTokenSecret = []byte(strings.Repeat("z", 40))
		oc, err := NewRefreshCodec(other)
		require.NoError(t, err)
		require.Error(t, oc.Verify(raw, now))
	})

	t.Run("alg none", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, refreshJWTClaims{
			Family:           "fam-1",
			Type:             typeRefresh,
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: cfg.Issuer, ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
		})
		unsigned, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = c.DecodeUntrusted(unsigned)
		require.NoError(t, err, "untrusted decode does not look at the signature")
		require.Error(t, c.Verify(unsigned, now))
	})
}

func TestRefreshCodec_DecodeUntrustedRejectsShape(t *testing.T) {
	c, err := NewRefreshCodec(testConfig())
	require.NoError(t, err)
	now := time.Now().UTC()

	access, _, err := (&jwtManager{issuer: "quill", ttl: time.Minute, secret: testConfig().AccessTokenSecret}).Issue("u", "sid", now)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"empty":     "",
		"garbage":   "hello",
		"oversized": strings.Repeat("a", maxRefreshTokenLen+1),
		"access":    access,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.DecodeUntrusted(raw)
			require.Error(t, err)
		})
	}
}
