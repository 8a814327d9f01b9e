package authority

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/cmd/internal/pgtest"
)

func newPostgresFixture(t *testing.T) (*Service, *PostgresStore) {
	t.Helper()

	pool := pgtest.Pool(t)
	h := testHasher(t)
	st, err := NewPostgresStore(pool, h, WithLockTimeout(200*time.Millisecond))
	require.NoError(t, err)

	svc, err := NewService(testConfig(), st, h, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return svc, st
}

func TestPostgres_IssueValidateRotate(t *testing.T) {
	t.Parallel()
	svc, st := newPostgresFixture(t)
	ctx := context.Background()
	userID := pgtest.CreateUser(t, st.pool)

	first, err := svc.IssueInitialSession(ctx, userID, webDevice)
	require.NoError(t, err)

	rec, err := svc.ValidateAndTouch(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, rec.LastUsedAt)

	second, err := svc.Rotate(ctx, first.RefreshToken, webDevice)
	require.NoError(t, err)
	assert.Equal(t, first.Family, second.Family)

	_, err = svc.ValidateAndTouch(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrCredentialInvalid)

	var reason string
	err = st.pool.QueryRow(ctx, `SELECT revoked_reason FROM quill.refresh_tokens WHERE id = $1`, rec.ID).Scan(&reason)
	require.NoError(t, err)
	assert.Equal(t, ReasonRotated, reason)
}

func TestPostgres_RevokeAllAndMonotonic(t *testing.T) {
	t.Parallel()
	svc, st := newPostgresFixture(t)
	ctx := context.Background()
	userID := pgtest.CreateUser(t, st.pool)

	a, err := svc.IssueInitialSession(ctx, userID, webDevice)
	require.NoError(t, err)
	b, err := svc.IssueInitialSession(ctx, userID, webDevice)
	require.NoError(t, err)

	n, err := svc.RevokeAllSessions(ctx, userID, ReasonLogoutEverywhere)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, p := range []TokenPair{a, b} {
		_, err := svc.ValidateAndTouch(ctx, p.RefreshToken)
		require.ErrorIs(t, err, ErrCredentialInvalid)
	}

	n, err = st.RevokeFamily(ctx, time.Now().UTC(), a.Family, "again")
	require.NoError(t, err)
	assert.Zero(t, n)

	var open int
	err = st.pool.QueryRow(ctx, `
		SELECT count(*) FROM quill.refresh_tokens
		 WHERE user_id = $1 AND (is_revoked = false OR revoked_reason <> $2)
	`, userID, ReasonLogoutEverywhere).Scan(&open)
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestPostgres_ConcurrentRotationSingleWinner(t *testing.T) {
	t.Parallel()
	svc, st := newPostgresFixture(t)
	ctx := context.Background()
	userID := pgtest.CreateUser(t, st.pool)

	pair, err := svc.IssueInitialSession(ctx, userID, webDevice)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Rotate(ctx, pair.RefreshToken, webDevice); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	var active int
	err = st.pool.QueryRow(ctx, `
		SELECT count(*) FROM quill.refresh_tokens
		 WHERE token_family = $1 AND is_revoked = false
	`, pair.Family).Scan(&active)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestPostgres_StoreUnknownUser(t *testing.T) {
	t.Parallel()
	_, st := newPostgresFixture(t)
	now := time.Now().UTC()

	_, err := st.Store(context.Background(), now, NewRecord{
		UserID: "01JUNKNOWNUSER000000000000", RawToken: "raw", Family: "f", ExpiresAt: now.Add(time.Hour),
	})
	require.ErrorIs(t, err, ErrUnknownUser)
}

func TestPostgres_LockTimeoutIsUnavailable(t *testing.T) {
	t.Parallel()
	svc, st := newPostgresFixture(t)
	ctx := context.Background()
	userID := pgtest.CreateUser(t, st.pool)

	pair, err := svc.IssueInitialSession(ctx, userID, webDevice)
	require.NoError(t, err)

	var id string
	require.NoError(t, st.pool.QueryRow(ctx, `SELECT id FROM quill.refresh_tokens WHERE token_family = $1`, pair.Family).Scan(&id))

	tx, err := st.pool.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.Exec(ctx, `SELECT 1 FROM quill.refresh_tokens WHERE id = $1 FOR UPDATE`, id)
	require.NoError(t, err)

	_, err = svc.ValidateAndTouch(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrAuthorityUnavailable)
}

func TestPostgres_PurgeExpired(t *testing.T) {
	t.Parallel()
	_, st := newPostgresFixture(t)
	ctx := context.Background()
	userID := pgtest.CreateUser(t, st.pool)
	now := time.Now().UTC()

	old, err := st.Store(ctx, now, NewRecord{UserID: userID, RawToken: "old-" + userID, Family: "f", ExpiresAt: now.Add(-48 * time.Hour)})
	require.NoError(t, err)
	recent, err := st.Store(ctx, now, NewRecord{UserID: userID, RawToken: "recent-" + userID, Family: "f", ExpiresAt: now.Add(-time.Hour)})
	require.NoError(t, err)

	_, err = st.PurgeExpired(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)

	var ids []string
	rows, err := st.pool.Query(ctx, `SELECT id FROM quill.refresh_tokens WHERE user_id = $1`, userID)
	require.NoError(t, err)
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	rows.Close()
	assert.NotContains(t, ids, old.ID)
	assert.Contains(t, ids, recent.ID)
}

func TestPostgres_RememberMeAndRawUserAgent(t *testing.T) {
	t.Parallel()
	svc, st := newPostgresFixture(t)
	ctx := context.Background()
	userID := pgtest.CreateUser(t, st.pool)

	dev := DeviceContext{Platform: PlatformIOS, RememberMe: true, UserAgent: "\xff\xfeUA"}
	first, err := svc.IssueInitialSession(ctx, userID, dev)
	require.NoError(t, err)

	second, err := svc.Rotate(ctx, first.RefreshToken, DeviceContext{UserAgent: "\xff\xfeUA"})
	require.NoError(t, err)

	rec, err := svc.ValidateAndTouch(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.True(t, rec.RememberMe)
	assert.Equal(t, "UA", rec.UserAgent)

	all, err := st.FindCandidates(ctx, userID, time.Now().UTC(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
