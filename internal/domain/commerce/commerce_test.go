package commerce

import (
	"context"
	"errors"
	"testing"

	domainerrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	slips    int
	stock    int
	vouchers []decimal.Decimal
	messages []string
	slipErr  error
}

func (f *fakeLedger) IssueCreditSlip(_ context.Context, _ int64, _ map[int64]LineInput, _ decimal.Decimal) (int64, error) {
	if f.slipErr != nil {
		return 0, f.slipErr
	}
	f.slips++
	return int64(f.slips), nil
}

func (f *fakeLedger) ReturnStock(_ context.Context, _ int64, _ map[int64]LineInput) error {
	f.stock++
	return nil
}

func (f *fakeLedger) IssueVoucher(_ context.Context, _ int64, amount decimal.Decimal) (int64, error) {
	f.vouchers = append(f.vouchers, amount)
	return int64(len(f.vouchers)), nil
}

func (f *fakeLedger) AddOrderMessage(_ context.Context, _ int64, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

func testOrder() *Order {
	return &Order{
		ID:       100,
		Currency: "EUR",
		Lines: []OrderLine{
			{DetailID: 1, ProductReference: "A", Quantity: 2, UnitPriceInclTax: decimal.NewFromInt(30)},
			{DetailID: 2, ProductReference: "B", Quantity: 4, UnitPriceInclTax: decimal.NewFromInt(20)},
		},
	}
}

func testBaseLineItems() []gateway.LineItem {
	return []gateway.LineItem{
		{UniqueID: "line-a", SKU: "A", Type: gateway.LineItemProduct},
		{UniqueID: "line-b", SKU: "B", Type: gateway.LineItemProduct},
		{UniqueID: "line-ship", SKU: "carrier-1", Type: gateway.LineItemShipping},
	}
}

func TestParseRawParameters(t *testing.T) {
	p, err := ParseRawParameters(map[string]any{
		"quantity_1":        "1",
		"amount_1":          "30,00",
		"amount_2":          12.5,
		"shipping_amount":   "4.99",
		"generate_discount": "1",
		"offline":           false,
		"unrelated":         "x",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.Lines[1].Quantity)
	assert.True(t, p.Lines[1].Amount.Equal(decimal.RequireFromString("30")))
	assert.True(t, p.Lines[2].Amount.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, p.ShippingAmount.Equal(decimal.RequireFromString("4.99")))
	assert.True(t, p.GenerateDiscount)
	assert.False(t, p.Offline)
	assert.True(t, p.LinesTotal().Equal(decimal.RequireFromString("42.5")))
}

func TestParseRawParameters_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"bad detail id", map[string]any{"amount_x": "1"}},
		{"bad amount", map[string]any{"amount_1": "abc"}},
		{"negative quantity", map[string]any{"quantity_1": -1, "amount_1": "5"}},
		{"nothing to refund", map[string]any{"quantity_1": "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRawParameters(tt.raw)
			assert.ErrorIs(t, err, domainerrors.ErrValidationFailed)
		})
	}
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy("", &fakeLedger{})
	require.NoError(t, err)
	assert.Equal(t, StrategyDefault, s.Name())

	s, err = NewStrategy("voucher", &fakeLedger{})
	require.NoError(t, err)
	assert.Equal(t, StrategyVoucher, s.Name())

	_, err = NewStrategy("legacy", &fakeLedger{})
	assert.Error(t, err)
}

func TestDefaultStrategy_RefundTotal(t *testing.T) {
	s := &DefaultStrategy{}
	p := RefundParameters{
		Lines:          map[int64]LineInput{1: {Amount: decimal.NewFromInt(30)}},
		ShippingAmount: decimal.NewFromInt(5),
	}
	assert.True(t, s.RefundTotal(p).Equal(decimal.NewFromInt(35)))

	p.TotalAmount = decimal.NewFromInt(20)
	assert.True(t, s.RefundTotal(p).Equal(decimal.NewFromInt(20)))
}

func TestDefaultStrategy_RefundType(t *testing.T) {
	s := &DefaultStrategy{}
	assert.Equal(t, gateway.RefundMerchantOnline, s.RefundType(RefundParameters{}))
	assert.Equal(t, gateway.RefundMerchantOffline, s.RefundType(RefundParameters{Offline: true}))
}

func TestDefaultStrategy_CreateReductions(t *testing.T) {
	s := &DefaultStrategy{}
	p := RefundParameters{
		Lines: map[int64]LineInput{
			2:  {Amount: decimal.NewFromInt(10)},
			1:  {Quantity: 1, Amount: decimal.NewFromInt(30)},
			99: {Quantity: 1},
		},
		ShippingAmount: decimal.NewFromInt(5),
	}

	got := s.CreateReductions(testOrder(), testBaseLineItems(), p)

	require.Len(t, got, 3)
	assert.Equal(t, "line-a", got[0].LineItemUniqueID)
	assert.True(t, got[0].QuantityReduction.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "line-b", got[1].LineItemUniqueID)
	assert.True(t, got[1].QuantityReduction.IsZero())
	assert.True(t, got[1].UnitPriceReduction.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "line-ship", got[2].LineItemUniqueID)
}

func TestDefaultStrategy_CreateReductionsSkipsUnknownLines(t *testing.T) {
	s := &DefaultStrategy{}
	base := []gateway.LineItem{{UniqueID: "line-a", SKU: "A", Type: gateway.LineItemProduct}}
	p := RefundParameters{
		Lines:          map[int64]LineInput{1: {Quantity: 1}, 2: {Quantity: 1}},
		ShippingAmount: decimal.NewFromInt(5),
	}

	got := s.CreateReductions(testOrder(), base, p)

	require.Len(t, got, 2)
	assert.Equal(t, "line-a", got[0].LineItemUniqueID)
	assert.Equal(t, ShippingUniqueID, got[1].LineItemUniqueID)
}

func TestDefaultStrategy_ApplyRefund(t *testing.T) {
	ledger := &fakeLedger{}
	s := &DefaultStrategy{ledger: ledger}
	p := RefundParameters{
		Lines:            map[int64]LineInput{1: {Quantity: 1, Amount: decimal.NewFromInt(30)}},
		GenerateDiscount: true,
	}

	applied, err := s.ApplyRefund(context.Background(), testOrder(), p)
	require.NoError(t, err)
	require.NotNil(t, applied.CreditSlipID)
	require.NotNil(t, applied.VoucherID)
	assert.Equal(t, 1, ledger.slips)
	assert.Equal(t, 1, ledger.stock)
	require.Len(t, ledger.vouchers, 1)
	assert.True(t, ledger.vouchers[0].Equal(decimal.NewFromInt(30)))

	require.NoError(t, s.AfterApplyRefund(context.Background(), testOrder(), p, applied))
	assert.Equal(t, []string{"Refund of 30.00 EUR applied."}, ledger.messages)
}

func TestDefaultStrategy_ApplyRefundError(t *testing.T) {
	ledger := &fakeLedger{slipErr: errors.New("db down")}
	s := &DefaultStrategy{ledger: ledger}

	_, err := s.ApplyRefund(context.Background(), testOrder(), RefundParameters{TotalAmount: decimal.NewFromInt(5)})
	assert.ErrorContains(t, err, "issue credit slip")
	assert.Zero(t, ledger.stock)
}

func TestVoucherStrategy_ApplyRefund(t *testing.T) {
	ledger := &fakeLedger{}
	s, err := NewStrategy(StrategyVoucher, ledger)
	require.NoError(t, err)

	applied, err := s.ApplyRefund(context.Background(), testOrder(), RefundParameters{
		TotalAmount: decimal.NewFromInt(15),
		Voucher:     true,
	})
	require.NoError(t, err)
	assert.Nil(t, applied.CreditSlipID)
	require.NotNil(t, applied.VoucherID)
	assert.Zero(t, ledger.slips)

	_, err = s.ApplyRefund(context.Background(), testOrder(), RefundParameters{TotalAmount: decimal.NewFromInt(15)})
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.slips)
}
