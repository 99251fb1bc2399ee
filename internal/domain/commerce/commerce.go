package commerce

import (
	"context"

	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/shopspring/decimal"
)

// ShippingUniqueID is the unique id the shop assigns to its shipping line item.
const ShippingUniqueID = "shipping"

// Order is the commerce system's view of an order, as far as refunds need it.
type Order struct {
	ID              int64
	Reference       string
	Currency        string
	Lines           []OrderLine
	ShippingInclTax decimal.Decimal
	TotalInclTax    decimal.Decimal
	RelatedOrderIDs []int64
}

// OrderLine is a single product line of an order.
type OrderLine struct {
	DetailID         int64
	ProductID        int64
	ProductReference string
	Name             string
	Quantity         int64
	UnitPriceInclTax decimal.Decimal
}

// LineByDetailID returns the order line with the given detail id.
func (o *Order) LineByDetailID(detailID int64) (OrderLine, bool) {
	for _, l := range o.Lines {
		if l.DetailID == detailID {
			return l, true
		}
	}
	return OrderLine{}, false
}

// OrderService reads orders from the commerce system.
type OrderService interface {
	GetOrder(ctx context.Context, orderID int64) (*Order, error)

	// GroupLineItems returns the merged gateway line items of every order
	// sharing the transaction with orderID.
	GroupLineItems(ctx context.Context, orderID int64) ([]gateway.LineItem, error)
}

// AppliedRefund describes the shop-side records produced by applying a refund.
type AppliedRefund struct {
	CreditSlipID *int64
	VoucherID    *int64
	Amount       decimal.Decimal
}

// Ledger performs the shop-side mutations of a refund.
type Ledger interface {
	IssueCreditSlip(ctx context.Context, orderID int64, lines map[int64]LineInput, shipping decimal.Decimal) (int64, error)
	ReturnStock(ctx context.Context, orderID int64, lines map[int64]LineInput) error
	IssueVoucher(ctx context.Context, orderID int64, amount decimal.Decimal) (int64, error)
	AddOrderMessage(ctx context.Context, orderID int64, message string) error
}

// RefundApplyStrategy isolates commerce-platform differences from the job
// engine. One implementation is selected at startup.
type RefundApplyStrategy interface {
	Name() string
	RefundTotal(params RefundParameters) decimal.Decimal
	RefundType(params RefundParameters) gateway.RefundType
	CreateReductions(order *Order, base []gateway.LineItem, params RefundParameters) []gateway.LineItemReduction
	ApplyRefund(ctx context.Context, order *Order, params RefundParameters) (*AppliedRefund, error)
	AfterApplyRefund(ctx context.Context, order *Order, params RefundParameters, applied *AppliedRefund) error
}
