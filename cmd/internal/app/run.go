package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"quill/cmd/internal/auth/authority"
	"quill/cmd/internal/auth/sweeper"
	"quill/cmd/internal/migrations"
	"quill/cmd/security/password"
)

// Serve is the `quill serve` entrypoint. It returns an error instead of
// calling os.Exit so deferred cleanup runs.
func Serve(ctx context.Context) error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// Migrate runs a goose command (up, down or status) against
// QUILL_DATABASE_URL.
func Migrate(ctx context.Context, command string) error {
	cfg := LoadConfig()
	if cfg.DatabaseURL == "" {
		return errors.New("migrate: QUILL_DATABASE_URL is required")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	switch command {
	case "up":
		return migrations.Up(ctx, db)
	case "down":
		return migrations.Down(ctx, db)
	case "status":
		return migrations.Status(ctx, db)
	default:
		return fmt.Errorf("migrate: unknown command %q (want up|down|status)", command)
	}
}

// SweepOnce purges refresh tokens that expired before now-retention and
// returns the number of deleted records. A zero retention uses the
// configured one.
func SweepOnce(ctx context.Context, retention time.Duration) (int64, error) {
	cfg := LoadConfig()
	if cfg.DatabaseURL == "" {
		return 0, errors.New("sweep: QUILL_DATABASE_URL is required")
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

	swcfg, err := sweeper.LoadConfigFromEnv()
	if err != nil {
		return 0, err
	}
	if retention > 0 {
		swcfg.Retention = retention
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	// Purging never hashes; the hasher only satisfies the constructor.
	hasher, err := password.NewBcrypt(0)
	if err != nil {
		return 0, err
	}
	store, err := authority.NewPostgresStore(pool, hasher, authority.WithSchema(cfg.DBSchema))
	if err != nil {
		return 0, err
	}
	return sweeper.New(swcfg, store, sweeper.WithLogger(log)).RunOnce(ctx)
}
