package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// TransactionState is the gateway-defined state of a transaction.
type TransactionState string

const (
	TransactionCreate     TransactionState = "CREATE"
	TransactionPending    TransactionState = "PENDING"
	TransactionConfirmed  TransactionState = "CONFIRMED"
	TransactionProcessing TransactionState = "PROCESSING"
	TransactionFailed     TransactionState = "FAILED"
	TransactionAuthorized TransactionState = "AUTHORIZED"
	TransactionVoided     TransactionState = "VOIDED"
	TransactionCompleted  TransactionState = "COMPLETED"
	TransactionFulfill    TransactionState = "FULFILL"
	TransactionDeclined   TransactionState = "DECLINE"
)

// RefundState is the gateway-defined state of a refund.
type RefundState string

const (
	RefundStateCreate RefundState = "CREATE"
	RefundScheduled   RefundState = "SCHEDULED"
	RefundPending     RefundState = "PENDING"
	RefundManualCheck RefundState = "MANUAL_CHECK"
	RefundFailed      RefundState = "FAILED"
	RefundSuccessful  RefundState = "SUCCESSFUL"
)

// OperationState is shared by completions and voids.
type OperationState string

const (
	OperationCreate     OperationState = "CREATE"
	OperationPending    OperationState = "PENDING"
	OperationFailed     OperationState = "FAILED"
	OperationSuccessful OperationState = "SUCCESSFUL"
)

// RefundType selects how the gateway returns the money.
type RefundType string

const (
	RefundMerchantOnline  RefundType = "MERCHANT_INITIATED_ONLINE"
	RefundMerchantOffline RefundType = "MERCHANT_INITIATED_OFFLINE"
)

// LineItemType classifies a line item.
type LineItemType string

const (
	LineItemProduct  LineItemType = "PRODUCT"
	LineItemShipping LineItemType = "SHIPPING"
	LineItemFee      LineItemType = "FEE"
	LineItemDiscount LineItemType = "DISCOUNT"
)

// LineItem is a line item as the gateway sees it, possibly already reduced
// by earlier refunds.
type LineItem struct {
	UniqueID              string          `json:"uniqueId"`
	SKU                   string          `json:"sku"`
	Name                  string          `json:"name"`
	Type                  LineItemType    `json:"type"`
	Quantity              decimal.Decimal `json:"quantity"`
	UnitPriceIncludingTax decimal.Decimal `json:"unitPriceIncludingTax"`
	AmountIncludingTax    decimal.Decimal `json:"amountIncludingTax"`
	TaxRate               decimal.Decimal `json:"taxRate"`
}

// LineItemReduction instructs the gateway to reduce a line item by a number
// of units and/or by an amount per remaining unit.
type LineItemReduction struct {
	LineItemUniqueID   string          `json:"lineItemUniqueId"`
	QuantityReduction  decimal.Decimal `json:"quantityReduction"`
	UnitPriceReduction decimal.Decimal `json:"unitPriceReduction"`
}

// Transaction is the gateway's authoritative view of a payment transaction.
type Transaction struct {
	ID                  int64             `json:"id"`
	SpaceID             int64             `json:"linkedSpaceId"`
	State               TransactionState  `json:"state"`
	MerchantReference   string            `json:"merchantReference"`
	Currency            string            `json:"currency"`
	AuthorizationAmount decimal.Decimal   `json:"authorizationAmount"`
	FailureReason       *string           `json:"failureReason,omitempty"`
	PaymentMethodID     *int64            `json:"paymentMethodId,omitempty"`
	Labels              map[string]string `json:"labels,omitempty"`
}

// Refund is a refund object created on the gateway. MerchantReference is
// the one of the refunded transaction.
type Refund struct {
	ID                int64       `json:"id"`
	SpaceID           int64       `json:"linkedSpaceId"`
	ExternalID        string      `json:"externalId"`
	TransactionID     int64       `json:"transactionId"`
	MerchantReference string      `json:"merchantReference"`
	State             RefundState `json:"state"`
	FailureReason     *string     `json:"failureReason,omitempty"`
	ReducedLineItems  []LineItem  `json:"reducedLineItems,omitempty"`
}

// RefundCreate is the payload sent to create a refund.
type RefundCreate struct {
	ExternalID    string              `json:"externalId"`
	TransactionID int64               `json:"transaction"`
	Type          RefundType          `json:"type"`
	Reductions    []LineItemReduction `json:"reductions"`
}

// Completion is a transaction completion object. MerchantReference is the
// one of the completed transaction.
type Completion struct {
	ID                int64          `json:"id"`
	SpaceID           int64          `json:"linkedSpaceId"`
	TransactionID     int64          `json:"linkedTransaction"`
	MerchantReference string         `json:"merchantReference"`
	State             OperationState `json:"state"`
	FailureReason     *string        `json:"failureReason,omitempty"`
}

// Void is a transaction void object.
type Void struct {
	ID                int64          `json:"id"`
	SpaceID           int64          `json:"linkedSpaceId"`
	TransactionID     int64          `json:"linkedTransaction"`
	MerchantReference string         `json:"merchantReference"`
	State             OperationState `json:"state"`
	FailureReason     *string        `json:"failureReason,omitempty"`
}

// ClientError is a structured rejection carrying a machine-readable reason.
// It is terminal for the job that triggered it.
type ClientError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("gateway client error (%d %s): %s", e.StatusCode, e.Reason, e.Message)
}

// Client is the gateway capability consumed by the job engines. Any error
// that is not a *ClientError is treated as transient.
type Client interface {
	ReadTransaction(ctx context.Context, spaceID, transactionID int64) (*Transaction, error)
	UpdateLineItems(ctx context.Context, spaceID, transactionID int64, items []LineItem) error
	BaseLineItems(ctx context.Context, spaceID, transactionID int64) ([]LineItem, error)

	CreateRefund(ctx context.Context, spaceID int64, refund RefundCreate) (*Refund, error)
	ReadRefund(ctx context.Context, spaceID, refundID int64) (*Refund, error)

	CompleteOnline(ctx context.Context, spaceID, transactionID int64) (*Completion, error)
	ReadCompletion(ctx context.Context, spaceID, completionID int64) (*Completion, error)

	VoidOnline(ctx context.Context, spaceID, transactionID int64) (*Void, error)
	ReadVoid(ctx context.Context, spaceID, voidID int64) (*Void, error)
}

// TotalAmountIncludingTax sums the amount of all line items.
func TotalAmountIncludingTax(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.AmountIncludingTax)
	}
	return total
}

// ReductionAmount returns the money a set of reductions refunds against the
// given base line items.
func ReductionAmount(items []LineItem, reductions []LineItemReduction) decimal.Decimal {
	byID := make(map[string]LineItem, len(items))
	for _, item := range items {
		byID[item.UniqueID] = item
	}

	amount := decimal.Zero
	for _, r := range reductions {
		item, ok := byID[r.LineItemUniqueID]
		if !ok || item.Quantity.IsZero() {
			continue
		}
		unitPrice := item.AmountIncludingTax.Div(item.Quantity)
		amount = amount.Add(unitPrice.Mul(r.QuantityReduction))
		amount = amount.Add(r.UnitPriceReduction.Mul(item.Quantity.Sub(r.QuantityReduction)))
	}
	return amount
}
