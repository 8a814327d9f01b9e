// Package authmetrics exports token authority and sweeper events as
// Prometheus metrics. It is wired into the authority through its Observer
// interface, so the authority itself holds no counters.
package authmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"quill/cmd/internal/auth/authority"
)

const namespace = "quill"

// Metrics implements authority.Observer.
type Metrics struct {
	validations     *prometheus.CounterVec
	validationTime  *prometheus.HistogramVec
	revocations     *prometheus.CounterVec
	revokedRecords  *prometheus.CounterVec
	sessionsIssued  *prometheus.CounterVec
	hashCompare     prometheus.Histogram
	sweeperPurged   prometheus.Counter
	sweeperFailures prometheus.Counter
}

var _ authority.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "validations_total",
			Help:      "Refresh token validations by outcome.",
		}, []string{"outcome"}),
		validationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "validation_seconds",
			Help:      "Refresh token validation latency by outcome.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "revocations_total",
			Help:      "Revocation events by scope and reason.",
		}, []string{"scope", "reason"}),
		revokedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "revoked_records_total",
			Help:      "Refresh token records revoked, by scope.",
		}, []string{"scope"}),
		sessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "sessions_issued_total",
			Help:      "Token pairs issued, split by initial issuance and rotation.",
		}, []string{"kind"}),
		hashCompare: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "hash_compare_seconds",
			Help:      "Duration of a single adaptive hash comparison.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		sweeperPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "purged_total",
			Help:      "Refresh token records deleted by the maintenance sweeper.",
		}),
		sweeperFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "failures_total",
			Help:      "Sweeper runs that failed after retries.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.validations, m.validationTime, m.revocations, m.revokedRecords,
		m.sessionsIssued, m.hashCompare, m.sweeperPurged, m.sweeperFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) SessionIssued(_ string, rotated bool) {
	kind := "initial"
	if rotated {
		kind = "rotation"
	}
	m.sessionsIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) RefreshValidated(outcome authority.Outcome, elapsed time.Duration) {
	m.validations.WithLabelValues(string(outcome)).Inc()
	m.validationTime.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

func (m *Metrics) HashCompared(elapsed time.Duration) {
	m.hashCompare.Observe(elapsed.Seconds())
}

func (m *Metrics) CredentialsRevoked(ev authority.RevocationEvent) {
	m.revocations.WithLabelValues(string(ev.Scope), ev.Reason).Inc()
	m.revokedRecords.WithLabelValues(string(ev.Scope)).Add(float64(ev.Count))
}

// SweepCompleted records one sweeper run.
func (m *Metrics) SweepCompleted(purged int64, err error) {
	if err != nil {
		m.sweeperFailures.Inc()
		return
	}
	m.sweeperPurged.Add(float64(purged))
}
