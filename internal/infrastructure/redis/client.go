package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/txops/internal/infrastructure/config"
	"github.com/cassiomorais/txops/pkg/retry"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to Redis, which holds the webhook stream and the sweep
// lease. The first ping is retried with backoff so the worker survives Redis
// starting after it.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   "txops",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	attempts := uint(cfg.ConnectRetries)
	if attempts == 0 {
		attempts = 5
	}
	delay := cfg.ConnectRetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     10 * delay,
	}, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s after %d attempts: %w", cfg.RedisAddr(), attempts, err)
	}
	return client, nil
}
