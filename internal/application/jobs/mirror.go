package jobs

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/transaction"
)

// MirrorService keeps the local transaction mirror in line with the gateway.
type MirrorService struct {
	Deps
}

// NewMirrorService creates a new MirrorService.
func NewMirrorService(deps Deps) *MirrorService {
	return &MirrorService{Deps: deps.withDefaults()}
}

// Update replaces the mirror of tx under the transaction lock.
func (s *MirrorService) Update(ctx context.Context, tx *gateway.Transaction, orderID int64) (*transaction.Mirror, error) {
	var m *transaction.Mirror
	err := s.Lock.WithLock(ctx, tx.SpaceID, tx.ID, func(ctx context.Context) error {
		existing, err := s.Mirrors.Get(ctx, tx.SpaceID, tx.ID)
		if err != nil && !errors.Is(err, domainErrors.ErrNoTransaction) {
			return err
		}

		m = transaction.FromGateway(tx, orderID, s.Now())
		if existing != nil {
			m.CreatedAt = existing.CreatedAt
		}
		return s.Mirrors.Save(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("update mirror for transaction %d: %w", tx.ID, err)
	}

	s.Logger.Debug().
		Int64("transaction_id", tx.ID).
		Int64("order_id", orderID).
		Str("state", string(tx.State)).
		Msg("Transaction mirror updated")
	return m, nil
}

// Sync reads the transaction from the gateway and refreshes its mirror. The
// order is taken from the existing mirror or, failing that, from the
// merchant reference.
func (s *MirrorService) Sync(ctx context.Context, spaceID, transactionID int64) (*transaction.Mirror, error) {
	tx, err := s.Gateway.ReadTransaction(ctx, spaceID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("read transaction %d: %w", transactionID, err)
	}

	orderID, err := s.resolveOrderID(ctx, tx)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, tx, orderID)
}

func (s *MirrorService) resolveOrderID(ctx context.Context, tx *gateway.Transaction) (int64, error) {
	existing, err := s.Mirrors.Get(ctx, tx.SpaceID, tx.ID)
	if err == nil {
		return existing.OrderID, nil
	}
	if !errors.Is(err, domainErrors.ErrNoTransaction) {
		return 0, err
	}
	if id, ok := transaction.ParseOrderID(tx.MerchantReference); ok {
		return id, nil
	}
	return 0, domainErrors.ErrOrderNotFound
}
