package authority

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenManagers(t *testing.T) {
	jwtCfg := testConfig()

	pasetoCfg := testConfig()
	pasetoCfg.AccessTokenFormat = AccessTokenPaseto
	pasetoCfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	for name, cfg := range map[string]Config{"jwt": jwtCfg, "paseto": pasetoCfg} {
		t.Run(name, func(t *testing.T) {
			mgr, err := NewAccessTokenManager(cfg)
			require.NoError(t, err)

			now := time.Now().UTC().Truncate(time.Second)
			tok, exp, err := mgr.Issue("01HZZZZZZZZZZZZZZZZZZZZZZZ", "sid-1", now)
			require.NoError(t, err)
			assert.True(t, exp.After(now))

			claims, err := mgr.Verify(tok, now.Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, "01HZZZZZZZZZZZZZZZZZZZZZZZ", claims.UserID)
			assert.Equal(t, "sid-1", claims.SessionID)
			assert.Equal(t, cfg.Issuer, claims.Issuer)

			_, err = mgr.Verify(tok, now.Add(cfg.AccessTokenTTL+time.Hour))
			require.ErrorIs(t, err, ErrCredentialInvalid)

			_, err = mgr.Verify("not-a-token", now)
			require.ErrorIs(t, err, ErrCredentialInvalid)
		})
	}
}

func TestPasetoManager_RejectsBadKey(t *testing.T) {
	cfg := testConfig()
	cfg.PasetoV4SecretKeyHex = "zz"
	_, err := NewPasetoV4PublicManager(cfg)
	require.ErrorIs(t, err, ErrConfig)
}
