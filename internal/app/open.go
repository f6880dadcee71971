package app

import (
	"context"
	"fmt"

	"shopfiscal/internal/config"
	"shopfiscal/internal/infrastructure/storage/postgres"
	"shopfiscal/pkg/logger"
)

// Open builds the engine for the configured storage driver.
// The returned cleanup releases the database pool; call it after Engine.Close.
func Open(ctx context.Context, cfg config.Config, opts Options) (*Engine, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		logger.Warn(ctx, "using in-memory storage; data is lost on exit")
		return NewMemoryEngine(opts), func() {}, nil

	case config.DriverPostgres:
		poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
		poolCfg.LogQueries = cfg.LogLevel == "debug"
		pool, err := postgres.NewPool(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if cfg.AutoMigrate {
			if err := postgres.RunMigrations(pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
			logger.Info(ctx, "database schema is up to date")
		}
		e, err := NewPostgresEngine(pool, opts)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		postgres.LogPoolStats(ctx, pool)
		return e, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}
