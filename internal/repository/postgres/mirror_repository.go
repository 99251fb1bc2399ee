package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/transaction"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const mirrorColumns = `space_id, transaction_id, order_id, state, failure_reason, currency,
	authorization_amount::text, payment_method_id, labels, created_at, updated_at`

// MirrorRepository implements transaction.Repository using PostgreSQL.
type MirrorRepository struct {
	pool *pgxpool.Pool
}

func NewMirrorRepository(pool *pgxpool.Pool) *MirrorRepository {
	return &MirrorRepository{pool: pool}
}

func (r *MirrorRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *MirrorRepository) Get(ctx context.Context, spaceID, transactionID int64) (*transaction.Mirror, error) {
	return scanMirror(r.db(ctx).QueryRow(ctx,
		`SELECT `+mirrorColumns+` FROM transaction_mirrors
		 WHERE space_id = $1 AND transaction_id = $2`, spaceID, transactionID))
}

// GetByOrderID returns the most recent mirror attached to the order.
func (r *MirrorRepository) GetByOrderID(ctx context.Context, orderID int64) (*transaction.Mirror, error) {
	return scanMirror(r.db(ctx).QueryRow(ctx,
		`SELECT `+mirrorColumns+` FROM transaction_mirrors
		 WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID))
}

// Save upserts the whole row. created_at of an existing row is kept.
func (r *MirrorRepository) Save(ctx context.Context, m *transaction.Mirror) error {
	labels, err := json.Marshal(m.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO transaction_mirrors
		 (space_id, transaction_id, order_id, state, failure_reason, currency,
		  authorization_amount, payment_method_id, labels, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)
		 ON CONFLICT (space_id, transaction_id) DO UPDATE SET
		  order_id = EXCLUDED.order_id,
		  state = EXCLUDED.state,
		  failure_reason = EXCLUDED.failure_reason,
		  currency = EXCLUDED.currency,
		  authorization_amount = EXCLUDED.authorization_amount,
		  payment_method_id = EXCLUDED.payment_method_id,
		  labels = EXCLUDED.labels,
		  updated_at = EXCLUDED.updated_at`,
		m.SpaceID, m.TransactionID, m.OrderID, string(m.State), m.FailureReason, m.Currency,
		numericString(m.AuthorizationAmount), m.PaymentMethodID, labels, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save transaction mirror: %w", err)
	}
	return nil
}

func scanMirror(s scanner) (*transaction.Mirror, error) {
	m := &transaction.Mirror{}
	var (
		state  string
		amount string
		labels []byte
	)
	err := s.Scan(
		&m.SpaceID, &m.TransactionID, &m.OrderID, &state, &m.FailureReason, &m.Currency,
		&amount, &m.PaymentMethodID, &labels, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrNoTransaction
		}
		return nil, fmt.Errorf("scan transaction mirror: %w", err)
	}

	m.State = gateway.TransactionState(state)
	if m.AuthorizationAmount, err = parseNumeric(amount); err != nil {
		return nil, fmt.Errorf("parse authorization amount: %w", err)
	}
	m.Labels = make(map[string]string)
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &m.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels: %w", err)
		}
	}
	return m, nil
}
