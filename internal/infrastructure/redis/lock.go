package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SweepLockKey names the lock that keeps reaper sweeps single-flight.
const SweepLockKey = "reaper:sweep"

// Lua script for safe lock release (only owner can release)
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// ErrLockNotHeld is returned when releasing a lock that expired or was taken
// over by another owner.
var ErrLockNotHeld = errors.New("lock not held or already released")

// Lock is a Redis lease owned by a single holder until it is released or its
// TTL runs out.
type Lock struct {
	client   *redis.Client
	key      string
	owner    string
	ttl      time.Duration
	acquired bool
}

// NewLock creates a lock on key. The owner token is random per lock value.
func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire takes the lease with SET NX PX. It reports false when another
// owner holds it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	l.acquired = ok
	return ok, nil
}

// Release drops the lease if this owner still holds it.
func (l *Lock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	l.acquired = false

	res, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.owner).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}
