package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/txops/internal/infrastructure/config"
	"github.com/cassiomorais/txops/pkg/retry"
	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "txops"

// NewPool opens the job store. Every TransactionLock holds one connection for
// the length of a gateway call, so MaxConnections bounds the number of
// transactions worked on at once.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := retry.Do(ctx, retry.DefaultConfig(), func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s: %w", cfg.Database, err)
	}
	return pool, nil
}
