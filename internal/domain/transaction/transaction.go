package transaction

import (
	"context"
	"strconv"
	"time"

	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/shopspring/decimal"
)

// Mirror is the local read model of a gateway transaction. There is at most
// one per (SpaceID, TransactionID) and it is always replaced as a whole.
type Mirror struct {
	SpaceID             int64
	TransactionID       int64
	OrderID             int64
	State               gateway.TransactionState
	FailureReason       *string
	Currency            string
	AuthorizationAmount decimal.Decimal
	PaymentMethodID     *int64
	Labels              map[string]string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

var refundableStates = map[gateway.TransactionState]bool{
	gateway.TransactionCompleted: true,
	gateway.TransactionDeclined:  true,
	gateway.TransactionFulfill:   true,
}

// IsRefundable reports whether the gateway accepts refunds in the current state.
func (m *Mirror) IsRefundable() bool {
	return refundableStates[m.State]
}

// IsAuthorized reports whether the transaction can still be completed or voided.
func (m *Mirror) IsAuthorized() bool {
	return m.State == gateway.TransactionAuthorized
}

// FromGateway builds a mirror from the gateway's transaction. The failure
// reason is only carried for failed or declined transactions.
func FromGateway(tx *gateway.Transaction, orderID int64, now time.Time) *Mirror {
	m := &Mirror{
		SpaceID:             tx.SpaceID,
		TransactionID:       tx.ID,
		OrderID:             orderID,
		State:               tx.State,
		Currency:            tx.Currency,
		AuthorizationAmount: tx.AuthorizationAmount,
		PaymentMethodID:     tx.PaymentMethodID,
		Labels:              make(map[string]string, len(tx.Labels)),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for k, v := range tx.Labels {
		m.Labels[k] = v
	}
	if tx.State == gateway.TransactionFailed || tx.State == gateway.TransactionDeclined {
		m.FailureReason = tx.FailureReason
	}
	return m
}

// ParseOrderID reads the order id the checkout flow put into the merchant reference.
func ParseOrderID(merchantReference string) (int64, bool) {
	id, err := strconv.ParseInt(merchantReference, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Repository defines the interface for mirror persistence
type Repository interface {
	// Get returns the mirror for a transaction or ErrNoTransaction.
	Get(ctx context.Context, spaceID, transactionID int64) (*Mirror, error)

	// GetByOrderID returns the mirror attached to an order or ErrNoTransaction.
	GetByOrderID(ctx context.Context, orderID int64) (*Mirror, error)

	// Save inserts or wholly replaces the mirror row.
	Save(ctx context.Context, m *Mirror) error
}
