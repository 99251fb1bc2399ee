package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// idempotencyCleanupBatch bounds how many expired keys one DELETE removes.
const idempotencyCleanupBatch = 1000

// IdempotencyEntry is a stored admin response, replayed for repeated
// Idempotency-Key headers until it expires.
type IdempotencyEntry struct {
	Key            string
	ResponseBody   string
	ResponseStatus int
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

// Get returns the live entry for key, or nil when there is none.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*IdempotencyEntry, error) {
	e := &IdempotencyEntry{}
	err := ConnFromCtx(ctx, r.pool).QueryRow(ctx,
		`SELECT key, response_body, response_status, created_at, expires_at
		 FROM idempotency_keys WHERE key = $1 AND expires_at > NOW()`, key,
	).Scan(&e.Key, &e.ResponseBody, &e.ResponseStatus, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return e, nil
}

// Set stores entry unless a live entry already exists for its key. The first
// response wins, so two racing requests replay the same job. An expired entry
// is replaced.
func (r *IdempotencyRepository) Set(ctx context.Context, entry *IdempotencyEntry) error {
	_, err := ConnFromCtx(ctx, r.pool).Exec(ctx,
		`INSERT INTO idempotency_keys (key, response_body, response_status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET
		     response_body = EXCLUDED.response_body,
		     response_status = EXCLUDED.response_status,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at
		 WHERE idempotency_keys.expires_at <= NOW()`,
		entry.Key, entry.ResponseBody, entry.ResponseStatus, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("set idempotency key %s: %w", entry.Key, err)
	}
	return nil
}

// Cleanup deletes expired entries in batches and returns how many went.
func (r *IdempotencyRepository) Cleanup(ctx context.Context) (int64, error) {
	var total int64
	for {
		tag, err := ConnFromCtx(ctx, r.pool).Exec(ctx,
			`DELETE FROM idempotency_keys WHERE key IN (
			     SELECT key FROM idempotency_keys WHERE expires_at < NOW() LIMIT $1)`,
			idempotencyCleanupBatch,
		)
		if err != nil {
			return total, fmt.Errorf("cleanup idempotency keys: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < idempotencyCleanupBatch || ctx.Err() != nil {
			return total, nil
		}
	}
}
