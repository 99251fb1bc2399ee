package commerce

import (
	"context"
	"fmt"
	"sort"

	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/shopspring/decimal"
)

const (
	StrategyDefault = "default"
	StrategyVoucher = "voucher"
)

// NewStrategy returns the refund strategy configured by name.
func NewStrategy(name string, ledger Ledger) (RefundApplyStrategy, error) {
	switch name {
	case "", StrategyDefault:
		return &DefaultStrategy{ledger: ledger}, nil
	case StrategyVoucher:
		return &VoucherStrategy{DefaultStrategy{ledger: ledger}}, nil
	default:
		return nil, fmt.Errorf("unknown refund strategy %q", name)
	}
}

// DefaultStrategy issues a credit slip and returns stock for refunded quantities.
type DefaultStrategy struct {
	ledger Ledger
}

func (s *DefaultStrategy) Name() string { return StrategyDefault }

// RefundTotal prefers the admin's literal total and falls back to the sum of
// the line and shipping amounts.
func (s *DefaultStrategy) RefundTotal(params RefundParameters) decimal.Decimal {
	if params.TotalAmount.IsPositive() {
		return params.TotalAmount
	}
	return params.LinesTotal().Add(params.ShippingAmount)
}

func (s *DefaultStrategy) RefundType(params RefundParameters) gateway.RefundType {
	if params.Offline {
		return gateway.RefundMerchantOffline
	}
	return gateway.RefundMerchantOnline
}

// CreateReductions translates the form input literally: quantities become
// quantity reductions, bare amounts become per-unit price reductions. Order
// lines are resolved to the gateway line item with the same SKU; lines the
// gateway does not carry are skipped.
func (s *DefaultStrategy) CreateReductions(order *Order, base []gateway.LineItem, params RefundParameters) []gateway.LineItemReduction {
	uniqueIDs := make(map[string]string, len(base))
	shippingID := ShippingUniqueID
	for _, item := range base {
		if item.Type == gateway.LineItemShipping {
			shippingID = item.UniqueID
			continue
		}
		uniqueIDs[item.SKU] = item.UniqueID
	}

	ids := make([]int64, 0, len(params.Lines))
	for id := range params.Lines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var reductions []gateway.LineItemReduction
	for _, id := range ids {
		input := params.Lines[id]
		line, ok := order.LineByDetailID(id)
		if !ok {
			continue
		}
		uniqueID, ok := uniqueIDs[line.ProductReference]
		if !ok {
			continue
		}
		switch {
		case input.Quantity > 0:
			reductions = append(reductions, gateway.LineItemReduction{
				LineItemUniqueID:   uniqueID,
				QuantityReduction:  decimal.NewFromInt(input.Quantity),
				UnitPriceReduction: decimal.Zero,
			})
		case input.Amount.IsPositive() && line.Quantity > 0:
			reductions = append(reductions, gateway.LineItemReduction{
				LineItemUniqueID:   uniqueID,
				QuantityReduction:  decimal.Zero,
				UnitPriceReduction: input.Amount.Div(decimal.NewFromInt(line.Quantity)),
			})
		}
	}

	if params.ShippingAmount.IsPositive() {
		reductions = append(reductions, gateway.LineItemReduction{
			LineItemUniqueID:   shippingID,
			QuantityReduction:  decimal.Zero,
			UnitPriceReduction: params.ShippingAmount,
		})
	}
	return reductions
}

func (s *DefaultStrategy) ApplyRefund(ctx context.Context, order *Order, params RefundParameters) (*AppliedRefund, error) {
	applied := &AppliedRefund{Amount: s.RefundTotal(params)}

	slipID, err := s.ledger.IssueCreditSlip(ctx, order.ID, params.Lines, params.ShippingAmount)
	if err != nil {
		return nil, fmt.Errorf("issue credit slip: %w", err)
	}
	applied.CreditSlipID = &slipID

	if err := s.ledger.ReturnStock(ctx, order.ID, params.Lines); err != nil {
		return nil, fmt.Errorf("return stock: %w", err)
	}

	if params.GenerateDiscount {
		voucherID, err := s.ledger.IssueVoucher(ctx, order.ID, applied.Amount)
		if err != nil {
			return nil, fmt.Errorf("issue voucher: %w", err)
		}
		applied.VoucherID = &voucherID
	}
	return applied, nil
}

func (s *DefaultStrategy) AfterApplyRefund(ctx context.Context, order *Order, _ RefundParameters, applied *AppliedRefund) error {
	return s.ledger.AddOrderMessage(ctx, order.ID,
		fmt.Sprintf("Refund of %s %s applied.", applied.Amount.StringFixed(2), order.Currency))
}

// VoucherStrategy refunds voucher-only requests as a voucher instead of a
// credit slip. Everything else behaves like DefaultStrategy.
type VoucherStrategy struct {
	DefaultStrategy
}

func (s *VoucherStrategy) Name() string { return StrategyVoucher }

func (s *VoucherStrategy) ApplyRefund(ctx context.Context, order *Order, params RefundParameters) (*AppliedRefund, error) {
	if !params.Voucher {
		return s.DefaultStrategy.ApplyRefund(ctx, order, params)
	}

	applied := &AppliedRefund{Amount: s.RefundTotal(params)}
	if err := s.ledger.ReturnStock(ctx, order.ID, params.Lines); err != nil {
		return nil, fmt.Errorf("return stock: %w", err)
	}
	voucherID, err := s.ledger.IssueVoucher(ctx, order.ID, applied.Amount)
	if err != nil {
		return nil, fmt.Errorf("issue voucher: %w", err)
	}
	applied.VoucherID = &voucherID
	return applied, nil
}
