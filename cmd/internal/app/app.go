// Package app wires the Quill server runtime: config, logging, storage,
// the token authority, identity linking, HTTP routes, revocation push and
// the maintenance sweeper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"quill/cmd/identity"
	"quill/cmd/internal/auth/api"
	"quill/cmd/internal/auth/authmetrics"
	"quill/cmd/internal/auth/authority"
	"quill/cmd/internal/auth/sweeper"
	"quill/cmd/internal/oauth"
	"quill/cmd/internal/realtime"
	"quill/cmd/security/password"
	"quill/cmd/security/token"
)

// App is the Quill server runtime.
type App struct {
	cfg Config
	log Logger

	stores   stores
	registry *prometheus.Registry

	authority *authority.Service
	accounts  *identity.Service
	sweeper   *sweeper.Sweeper

	ws   *realtime.WSGateway
	auth *api.Handler
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	acfg, err := authority.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, acfg); err != nil {
		return nil, err
	}

	pcfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(pcfg)
	if err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg, acfg, hasher, log)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, log, acfg, pcfg, hasher, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg Config, log Logger, acfg authority.Config, pcfg password.Config, hasher password.Hasher, st stores) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := authmetrics.New(reg)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log)

	authSvc, err := authority.NewService(acfg, st.tokens, hasher,
		authority.WithLogger(log),
		authority.WithObserver(authority.Observers{metrics, realtime.NewNotifier(hub, log)}),
	)
	if err != nil {
		return nil, err
	}

	accounts, err := identity.NewService(st.directory, authSvc, hasher,
		identity.WithLogger(log),
		identity.WithPolicy(pcfg.Policy),
	)
	if err != nil {
		return nil, err
	}

	handlerOpts, err := oauthOptions(cfg)
	if err != nil {
		return nil, err
	}
	authHandler, err := api.NewHandler(log, api.LoadConfigFromEnv(), authSvc, accounts, handlerOpts...)
	if err != nil {
		return nil, err
	}

	swcfg, err := sweeper.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	sw := sweeper.New(swcfg, st.tokens, sweeper.WithReporter(metrics), sweeper.WithLogger(log))

	return &App{
		cfg:       cfg,
		log:       log,
		stores:    st,
		registry:  reg,
		authority: authSvc,
		accounts:  accounts,
		sweeper:   sw,
		ws:        realtime.NewWSGateway(log, hub, authSvc),
		auth:      authHandler,
	}, nil
}

// oauthOptions enables provider sign-in when at least one provider is
// configured. QUILL_OAUTH_STATE_KEY is then required.
func oauthOptions(cfg Config) ([]api.HandlerOption, error) {
	providers, err := oauth.RegistryFromEnv()
	if err != nil {
		return nil, err
	}
	if len(providers.Names()) == 0 {
		return nil, nil
	}

	key, err := token.KeyFromEnv("QUILL_OAUTH_STATE_KEY", 32)
	if err != nil {
		return nil, fmt.Errorf("QUILL_OAUTH_STATE_KEY: %w", err)
	}
	states, err := oauth.NewStateCodec(key, cfg.OAuthStateTTL)
	if err != nil {
		return nil, err
	}
	return []api.HandlerOption{api.WithOAuth(providers, states)}, nil
}

// Handler returns the fully wrapped root HTTP handler.
func (a *App) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if a.cfg.MetricsEnabled {
		gatherer = a.registry
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.stores.pool, gatherer, a.ws, a.auth)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Run serves HTTP and schedules the sweeper until ctx is cancelled or the
// server fails, then shuts down gracefully and releases resources.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		base := runtimeBaseURL(a.cfg.HTTPAddr)
		a.log.Info("server.start",
			"addr", a.cfg.HTTPAddr,
			"base_url", base,
			"ws_url", wsBaseURL(base)+"/ws",
			"db_enabled", a.stores.dbEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		stop, err := a.sweeper.Start(gctx)
		if err != nil {
			return fmt.Errorf("sweeper: %w", err)
		}
		<-gctx.Done()
		stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// Close waits for background identity work and releases the DB pool.
func (a *App) Close() {
	a.accounts.Wait()
	a.stores.Close()
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
