package authmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/cmd/internal/auth/authority"
)

func TestMetrics_RecordsAuthorityEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RefreshValidated(authority.OutcomeValid, 10*time.Millisecond)
	m.RefreshValidated(authority.OutcomeNoMatch, 10*time.Millisecond)
	m.RefreshValidated(authority.OutcomeNoMatch, 10*time.Millisecond)
	m.SessionIssued("u", false)
	m.SessionIssued("u", true)
	m.HashCompared(50 * time.Millisecond)
	m.CredentialsRevoked(authority.RevocationEvent{Scope: authority.ScopeUser, Reason: "logout_everywhere", Count: 3})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.validations.WithLabelValues("valid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.validations.WithLabelValues("no_match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsIssued.WithLabelValues("initial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsIssued.WithLabelValues("rotation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.revocations.WithLabelValues("user", "logout_everywhere")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.revokedRecords.WithLabelValues("user")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.hashCompare))
}

func TestMetrics_SweepCompleted(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SweepCompleted(7, nil)
	m.SweepCompleted(0, errors.New("boom"))

	assert.Equal(t, 7.0, testutil.ToFloat64(m.sweeperPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeperFailures))
}

func TestNew_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	var are prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &are)
}
