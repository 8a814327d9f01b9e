package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"quill/cmd/identity"
	"quill/cmd/internal/auth/authority"
	"quill/cmd/internal/migrations"
	"quill/cmd/security/password"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// stores are the persistence backends of the authority and identity layers.
type stores struct {
	pool      *pgxpool.Pool
	tokens    authority.Store
	directory identity.Directory
}

func (s stores) dbEnabled() bool { return s.pool != nil }

func (s stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// openStores picks Postgres when QUILL_DATABASE_URL is set and in-memory
// stores otherwise.
func openStores(ctx context.Context, cfg Config, acfg authority.Config, hasher password.Hasher, log Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.inmemory_store")
		return stores{
			tokens:    authority.NewMemoryStore(hasher, acfg.LockTimeout),
			directory: identity.NewMemoryDirectory(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, fmt.Errorf("db pool: %w", err)
	}

	if cfg.AutoMigrate {
		if err := migrations.UpPool(ctx, pool); err != nil {
			pool.Close()
			return stores{}, fmt.Errorf("migrate: %w", err)
		}
		log.Info("db.migrated")
	}

	tokens, err := authority.NewPostgresStore(pool, hasher,
		authority.WithSchema(cfg.DBSchema),
		authority.WithLockTimeout(acfg.LockTimeout),
	)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	dir, err := identity.NewPostgresDirectory(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return stores{}, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return stores{pool: pool, tokens: tokens, directory: dir}, nil
}
