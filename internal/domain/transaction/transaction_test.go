package transaction

import (
	"testing"
	"time"

	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirror_IsRefundable(t *testing.T) {
	tests := []struct {
		state    gateway.TransactionState
		expected bool
	}{
		{gateway.TransactionCompleted, true},
		{gateway.TransactionDeclined, true},
		{gateway.TransactionFulfill, true},
		{gateway.TransactionAuthorized, false},
		{gateway.TransactionPending, false},
		{gateway.TransactionVoided, false},
		{gateway.TransactionFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			m := &Mirror{State: tt.state}
			assert.Equal(t, tt.expected, m.IsRefundable())
		})
	}
}

func TestMirror_IsAuthorized(t *testing.T) {
	assert.True(t, (&Mirror{State: gateway.TransactionAuthorized}).IsAuthorized())
	assert.False(t, (&Mirror{State: gateway.TransactionCompleted}).IsAuthorized())
}

func TestFromGateway(t *testing.T) {
	reason := "card expired"
	now := time.Now()

	t.Run("keeps failure reason for declined transactions", func(t *testing.T) {
		tx := &gateway.Transaction{
			ID: 42, SpaceID: 7, State: gateway.TransactionDeclined, Currency: "EUR",
			AuthorizationAmount: decimal.RequireFromString("80.00"),
			FailureReason:       &reason,
			Labels:              map[string]string{"brand": "visa"},
		}

		m := FromGateway(tx, 100, now)

		assert.Equal(t, int64(7), m.SpaceID)
		assert.Equal(t, int64(42), m.TransactionID)
		assert.Equal(t, int64(100), m.OrderID)
		require.NotNil(t, m.FailureReason)
		assert.Equal(t, reason, *m.FailureReason)
		assert.Equal(t, "visa", m.Labels["brand"])
		assert.True(t, m.AuthorizationAmount.Equal(decimal.RequireFromString("80")))
	})

	t.Run("drops failure reason otherwise", func(t *testing.T) {
		tx := &gateway.Transaction{ID: 42, SpaceID: 7, State: gateway.TransactionAuthorized, FailureReason: &reason}

		m := FromGateway(tx, 100, now)

		assert.Nil(t, m.FailureReason)
		assert.NotNil(t, m.Labels)
	})
}

func TestParseOrderID(t *testing.T) {
	id, ok := ParseOrderID("1234")
	assert.True(t, ok)
	assert.Equal(t, int64(1234), id)

	_, ok = ParseOrderID("ORD-1")
	assert.False(t, ok)

	_, ok = ParseOrderID("0")
	assert.False(t, ok)
}
