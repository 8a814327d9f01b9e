package authority

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"quill/cmd/security/password"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessTokenSecret = []byte("access-secret-access-secret-0123456789")
	cfg.RefreshTokenSecret = []byte("refresh-secret-refresh-secret-01234567")
	cfg.SessionContextKey = []byte("session-context-key-session-ctx-012345")
	cfg.LockTimeout = 100 * time.Millisecond
	return cfg
}

func testHasher(t testing.TB) password.Hasher {
	t.Helper()
	h, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	mu       sync.Mutex
	issued   int
	rotated  int
	outcomes []Outcome
	revoked  []RevocationEvent
}

func (o *recordingObserver) SessionIssued(_ string, rotated bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rotated {
		o.rotated++
	} else {
		o.issued++
	}
}

func (o *recordingObserver) RefreshValidated(outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) HashCompared(time.Duration) {}

func (o *recordingObserver) CredentialsRevoked(ev RevocationEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.revoked = append(o.revoked, ev)
}

func (o *recordingObserver) lastOutcome() Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.outcomes) == 0 {
		return ""
	}
	return o.outcomes[len(o.outcomes)-1]
}

type fixture struct {
	svc   *Service
	store *MemoryStore
	clock *testClock
	obs   *recordingObserver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore builds a service over a MemoryStore, optionally
// wrapped by wrap.
func newFixtureWithStore(t *testing.T, wrap func(*MemoryStore) Store) fixture {
	t.Helper()
	return newFixtureWithConfig(t, testConfig(), wrap)
}

func newFixtureWithConfig(t *testing.T, cfg Config, wrap func(*MemoryStore) Store, opts ...Option) fixture {
	t.Helper()

	h := testHasher(t)
	mem := NewMemoryStore(h, cfg.LockTimeout)

	var st Store = mem
	if wrap != nil {
		st = wrap(mem)
	}

	clock := newTestClock()
	obs := &recordingObserver{}
	opts = append([]Option{
		WithClock(clock.Now),
		WithObserver(obs),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	svc, err := NewService(cfg, st, h, opts...)
	require.NoError(t, err)

	return fixture{svc: svc, store: mem, clock: clock, obs: obs}
}

var webDevice = DeviceContext{Platform: PlatformWeb, UserAgent: "quill-test/1.0"}

// hookStore lets a test inject behaviour around individual Store calls.
type hookStore struct {
	inner              Store
	beforeLockAndTouch func(id string)
	afterStore         func(rec Record)
	findErr            error
	revokeErr          error
}

func (h *hookStore) Store(ctx context.Context, now time.Time, nr NewRecord) (Record, error) {
	rec, err := h.inner.Store(ctx, now, nr)
	if err == nil && h.afterStore != nil {
		h.afterStore(rec)
	}
	return rec, err
}

func (h *hookStore) FindCandidates(ctx context.Context, userID string, now time.Time, limit int) ([]Record, error) {
	if h.findErr != nil {
		return nil, h.findErr
	}
	return h.inner.FindCandidates(ctx, userID, now, limit)
}

func (h *hookStore) LockAndTouch(ctx context.Context, now time.Time, id string) (Record, error) {
	if h.beforeLockAndTouch != nil {
		h.beforeLockAndTouch(id)
	}
	return h.inner.LockAndTouch(ctx, now, id)
}

func (h *hookStore) Revoke(ctx context.Context, now time.Time, id, reason string) (bool, error) {
	if h.revokeErr != nil && reason == ReasonRotated {
		return false, h.revokeErr
	}
	return h.inner.Revoke(ctx, now, id, reason)
}

func (h *hookStore) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	return h.inner.RevokeAllForUser(ctx, now, userID, reason)
}

func (h *hookStore) RevokeFamily(ctx context.Context, now time.Time, family, reason string) (int64, error) {
	return h.inner.RevokeFamily(ctx, now, family, reason)
}

func (h *hookStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	return h.inner.PurgeExpired(ctx, olderThan)
}
