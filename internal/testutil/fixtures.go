package testutil

import (
	"time"

	"github.com/cassiomorais/txops/internal/domain/commerce"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/transaction"
	"github.com/shopspring/decimal"
)

const (
	TestSpaceID       int64 = 7
	TestTransactionID int64 = 4200
	TestOrderID       int64 = 100
)

func NewTestMirror(state gateway.TransactionState) *transaction.Mirror {
	now := time.Now()
	return &transaction.Mirror{
		SpaceID:             TestSpaceID,
		TransactionID:       TestTransactionID,
		OrderID:             TestOrderID,
		State:               state,
		Currency:            "EUR",
		AuthorizationAmount: decimal.NewFromInt(80),
		Labels:              map[string]string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// NewTestOrder returns an order with two lines: A (30 x 2) and B (20 x 1).
func NewTestOrder() *commerce.Order {
	return &commerce.Order{
		ID:        TestOrderID,
		Reference: "XKBKNABJK",
		Currency:  "EUR",
		Lines: []commerce.OrderLine{
			{DetailID: 1, ProductID: 10, ProductReference: "A", Name: "Mug", Quantity: 2, UnitPriceInclTax: decimal.NewFromInt(30)},
			{DetailID: 2, ProductID: 11, ProductReference: "B", Name: "Cap", Quantity: 1, UnitPriceInclTax: decimal.NewFromInt(20)},
		},
		TotalInclTax: decimal.NewFromInt(80),
	}
}

// NewTestLineItems returns the gateway line items matching NewTestOrder.
func NewTestLineItems() []gateway.LineItem {
	return []gateway.LineItem{
		{
			UniqueID: "A", SKU: "A", Name: "Mug", Type: gateway.LineItemProduct,
			Quantity: decimal.NewFromInt(2), UnitPriceIncludingTax: decimal.NewFromInt(30), AmountIncludingTax: decimal.NewFromInt(60),
		},
		{
			UniqueID: "B", SKU: "B", Name: "Cap", Type: gateway.LineItemProduct,
			Quantity: decimal.NewFromInt(1), UnitPriceIncludingTax: decimal.NewFromInt(20), AmountIncludingTax: decimal.NewFromInt(20),
		},
	}
}

// NewTestRefundParameters refunds one unit of line A.
func NewTestRefundParameters() commerce.RefundParameters {
	return commerce.RefundParameters{
		Lines: map[int64]commerce.LineInput{1: {Quantity: 1, Amount: decimal.NewFromInt(30)}},
	}
}

func Int64Ptr(v int64) *int64 {
	return &v
}

func StringPtr(s string) *string {
	return &s
}
