package oauth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"quill/cmd/security/token"
)

// StateCookieName carries the signed flow state between start and callback.
const StateCookieName = "quill_oauth_state"

const defaultStateTTL = 10 * time.Minute

// State is the per-flow anti-CSRF state plus the PKCE verifier.
type State struct {
	Provider  string
	Value     string
	Verifier  string
	ExpiresAt time.Time
}

// StateCodec signs flow state into a cookie value.
type StateCodec struct {
	key []byte
	ttl time.Duration
}

// NewStateCodec returns a codec signing with key (>= 32 bytes).
func NewStateCodec(key []byte, ttl time.Duration) (*StateCodec, error) {
	if len(key) < 32 {
		return nil, token.ErrKeyTooShort
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateCodec{key: key, ttl: ttl}, nil
}

// TTL is the lifetime of a flow.
func (c *StateCodec) TTL() time.Duration { return c.ttl }

// New starts a flow for provider.
func (c *StateCodec) New(provider string, now time.Time) (State, error) {
	v, err := token.RandomString(24)
	if err != nil {
		return State{}, err
	}
	return State{
		Provider:  provider,
		Value:     v,
		Verifier:  oauth2.GenerateVerifier(),
		ExpiresAt: now.Add(c.ttl),
	}, nil
}

// Encode returns the signed cookie value.
func (c *StateCodec) Encode(s State) string {
	raw := strings.Join([]string{
		s.Provider,
		s.Value,
		s.Verifier,
		strconv.FormatInt(s.ExpiresAt.Unix(), 10),
	}, "|")
	return token.Sign(raw, c.key)
}

// Verify checks the cookie against the provider and state echoed by the
// callback and returns the stored flow state.
func (c *StateCodec) Verify(cookie, provider, state string, now time.Time) (State, error) {
	raw, err := token.Unsign(cookie, c.key)
	if err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrStateMismatch, err)
	}
	parts := strings.Split(raw, "|")
	if len(parts) != 4 {
		return State{}, ErrStateMismatch
	}
	exp, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return State{}, ErrStateMismatch
	}
	s := State{Provider: parts[0], Value: parts[1], Verifier: parts[2], ExpiresAt: time.Unix(exp, 0).UTC()}

	if s.Provider != provider || s.Value == "" || s.Value != state {
		return State{}, ErrStateMismatch
	}
	if !now.Before(s.ExpiresAt) {
		return State{}, fmt.Errorf("%w: expired", ErrStateMismatch)
	}
	return s, nil
}
