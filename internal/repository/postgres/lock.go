package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgLockNotAvailable is raised when lock_timeout expires.
const pgLockNotAvailable = "55P03"

// LockObserver is told how long each lock acquisition waited.
type LockObserver interface {
	ObserveLockWait(waited time.Duration, timedOut bool)
}

// TransactionLock serializes work on one gateway transaction with a row lock
// on transaction_locks. The row lock is held by the surrounding database
// transaction, so every repository call made through the context passed to fn
// commits or rolls back together with the lock.
type TransactionLock struct {
	pool      *pgxpool.Pool
	txManager *TxManager
	timeout   time.Duration
	observer  LockObserver
}

// NewTransactionLock creates a TransactionLock. observer may be nil.
func NewTransactionLock(pool *pgxpool.Pool, timeout time.Duration, observer LockObserver) *TransactionLock {
	return &TransactionLock{
		pool:      pool,
		txManager: NewTxManager(pool),
		timeout:   timeout,
		observer:  observer,
	}
}

// WithLock runs fn while holding the lock of (spaceID, transactionID).
func (l *TransactionLock) WithLock(ctx context.Context, spaceID, transactionID int64, fn func(ctx context.Context) error) error {
	return l.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := l.acquire(txCtx, spaceID, transactionID); err != nil {
			return err
		}
		return fn(txCtx)
	})
}

func (l *TransactionLock) acquire(ctx context.Context, spaceID, transactionID int64) error {
	db := ConnFromCtx(ctx, l.pool)
	start := time.Now()

	_, err := db.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", l.timeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	_, err = db.Exec(ctx,
		`INSERT INTO transaction_locks (space_id, transaction_id) VALUES ($1, $2)
		 ON CONFLICT (space_id, transaction_id) DO NOTHING`,
		spaceID, transactionID,
	)
	if err == nil {
		_, err = db.Exec(ctx,
			`SELECT 1 FROM transaction_locks WHERE space_id = $1 AND transaction_id = $2 FOR UPDATE`,
			spaceID, transactionID,
		)
	}

	timedOut := isLockTimeout(err)
	if l.observer != nil {
		l.observer.ObserveLockWait(time.Since(start), timedOut)
	}
	if timedOut {
		return domainErrors.ErrLockTimeout
	}
	if err != nil {
		return fmt.Errorf("acquire transaction lock: %w", err)
	}
	return nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}
