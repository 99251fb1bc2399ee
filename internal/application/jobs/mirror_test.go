package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/cassiomorais/txops/internal/application/jobs"
	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayTransaction(state gateway.TransactionState, merchantRef string) *gateway.Transaction {
	return &gateway.Transaction{
		ID:                  testutil.TestTransactionID,
		SpaceID:             testutil.TestSpaceID,
		State:               state,
		MerchantReference:   merchantRef,
		Currency:            "EUR",
		AuthorizationAmount: decimal.NewFromInt(80),
	}
}

func TestMirrorUpdate_KeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(gateway.TransactionAuthorized)
	before, err := h.mirrors.Get(ctx, testutil.TestSpaceID, testutil.TestTransactionID)
	require.NoError(t, err)

	h.now = before.CreatedAt.Add(time.Hour)
	m, err := jobs.NewMirrorService(h.deps()).Update(ctx, gatewayTransaction(gateway.TransactionCompleted, ""), testutil.TestOrderID)
	require.NoError(t, err)

	assert.Equal(t, gateway.TransactionCompleted, m.State)
	assert.Equal(t, before.CreatedAt, m.CreatedAt)
	assert.Equal(t, h.now, m.UpdatedAt)

	stored, err := h.mirrors.Get(ctx, testutil.TestSpaceID, testutil.TestTransactionID)
	require.NoError(t, err)
	assert.True(t, stored.IsRefundable())
}

func TestMirrorSync(t *testing.T) {
	t.Run("existing mirror keeps order", func(t *testing.T) {
		h := newHarness(gateway.TransactionAuthorized)
		h.gateway.ReadTransactionFunc = func(context.Context, int64, int64) (*gateway.Transaction, error) {
			return gatewayTransaction(gateway.TransactionVoided, "not-an-order"), nil
		}

		m, err := jobs.NewMirrorService(h.deps()).Sync(context.Background(), testutil.TestSpaceID, testutil.TestTransactionID)
		require.NoError(t, err)
		assert.Equal(t, testutil.TestOrderID, m.OrderID)
		assert.Equal(t, gateway.TransactionVoided, m.State)
	})

	t.Run("new mirror from merchant reference", func(t *testing.T) {
		h := newHarness(gateway.TransactionAuthorized)
		tx := gatewayTransaction(gateway.TransactionAuthorized, "512")
		tx.ID = 9000
		h.gateway.ReadTransactionFunc = func(context.Context, int64, int64) (*gateway.Transaction, error) {
			return tx, nil
		}

		m, err := jobs.NewMirrorService(h.deps()).Sync(context.Background(), testutil.TestSpaceID, 9000)
		require.NoError(t, err)
		assert.Equal(t, int64(512), m.OrderID)

		stored, err := h.mirrors.GetByOrderID(context.Background(), 512)
		require.NoError(t, err)
		assert.Equal(t, int64(9000), stored.TransactionID)
	})

	t.Run("unknown order", func(t *testing.T) {
		h := newHarness(gateway.TransactionAuthorized)
		tx := gatewayTransaction(gateway.TransactionAuthorized, "cart-17")
		tx.ID = 9001
		h.gateway.ReadTransactionFunc = func(context.Context, int64, int64) (*gateway.Transaction, error) {
			return tx, nil
		}

		_, err := jobs.NewMirrorService(h.deps()).Sync(context.Background(), testutil.TestSpaceID, 9001)
		require.ErrorIs(t, err, domainErrors.ErrOrderNotFound)
	})

	t.Run("declined carries failure reason", func(t *testing.T) {
		h := newHarness(gateway.TransactionAuthorized)
		tx := gatewayTransaction(gateway.TransactionDeclined, "")
		tx.FailureReason = testutil.StringPtr("Card declined")
		h.gateway.ReadTransactionFunc = func(context.Context, int64, int64) (*gateway.Transaction, error) {
			return tx, nil
		}

		m, err := jobs.NewMirrorService(h.deps()).Sync(context.Background(), testutil.TestSpaceID, testutil.TestTransactionID)
		require.NoError(t, err)
		require.NotNil(t, m.FailureReason)
		assert.Equal(t, "Card declined", *m.FailureReason)
	})
}
