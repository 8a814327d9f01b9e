// Package sweeper deletes refresh token records that expired longer ago than
// a retention window. Records inside the window are kept for audit queries
// whether or not they were revoked.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robfig/cron/v3"
)

// Purger is the slice of the refresh token store the sweeper needs.
type Purger interface {
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// Reporter receives the result of each run.
type Reporter interface {
	SweepCompleted(purged int64, err error)
}

// Config controls schedule and retention.
type Config struct {
	// Schedule is a standard 5-field cron expression, evaluated in UTC.
	Schedule   string
	Retention  time.Duration
	RetryDelay time.Duration
	// Timeout bounds a single run including its retry.
	Timeout time.Duration
}

// DefaultConfig runs daily at 03:05 UTC with a 30 day retention.
func DefaultConfig() Config {
	return Config{
		Schedule:   "5 3 * * *",
		Retention:  30 * 24 * time.Hour,
		RetryDelay: 3 * time.Second,
		Timeout:    5 * time.Minute,
	}
}

// LoadConfigFromEnv reads QUILL_SWEEP_SCHEDULE and QUILL_SWEEP_RETENTION.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("QUILL_SWEEP_SCHEDULE")); v != "" {
		if _, err := cron.ParseStandard(v); err != nil {
			return Config{}, fmt.Errorf("QUILL_SWEEP_SCHEDULE: %w", err)
		}
		cfg.Schedule = v
	}
	if v := strings.TrimSpace(os.Getenv("QUILL_SWEEP_RETENTION")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("QUILL_SWEEP_RETENTION: invalid duration %q", v)
		}
		cfg.Retention = d
	}
	return cfg, nil
}

// Sweeper purges expired records on a schedule.
type Sweeper struct {
	cfg      Config
	store    Purger
	reporter Reporter
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithReporter(r Reporter) Option        { return func(s *Sweeper) { s.reporter = r } }
func WithLogger(l *slog.Logger) Option      { return func(s *Sweeper) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

// New builds a Sweeper.
func New(cfg Config, store Purger, opts ...Option) *Sweeper {
	s := &Sweeper{
		cfg:   cfg,
		store: store,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cutoff is the expiry instant before which records are deleted.
func (s *Sweeper) Cutoff() time.Time {
	return s.now().Add(-s.cfg.Retention)
}

// RunOnce performs one purge, retrying once on transient database errors.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	cutoff := s.Cutoff()
	var purged int64
	err := s.runWithRetry(ctx, func(ctx context.Context) error {
		n, err := s.store.PurgeExpired(ctx, cutoff)
		purged = n
		return err
	})

	if s.reporter != nil {
		s.reporter.SweepCompleted(purged, err)
	}
	if err != nil {
		s.log.Error("sweeper.purge.fail", "cutoff", cutoff, "err", err)
		return 0, err
	}
	s.log.Info("sweeper.purge.done", "cutoff", cutoff, "purged", purged)
	return purged, nil
}

func (s *Sweeper) runWithRetry(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || !transient(err) {
		return err
	}

	s.log.Warn("sweeper.purge.retry", "err", err, "delay", s.cfg.RetryDelay)
	t := time.NewTimer(s.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return op(ctx)
}

func transient(err error) bool {
	return errors.Is(err, io.EOF) ||
		pgconn.SafeToRetry(err) ||
		strings.Contains(err.Error(), "connection was closed")
}

// Start schedules RunOnce on cfg.Schedule. The returned stop function
// waits for a running purge to finish.
func (s *Sweeper) Start(ctx context.Context) (stop func(), err error) {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("sweeper: schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.log.Info("sweeper.started", "schedule", s.cfg.Schedule, "retention", s.cfg.Retention)

	return func() { <-c.Stop().Done() }, nil
}
