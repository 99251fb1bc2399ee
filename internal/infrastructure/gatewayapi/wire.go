package gatewayapi

import (
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/shopspring/decimal"
)

// The gateway nests the owning transaction into refunds, completions and
// voids and describes failures as localized objects. The wire types below
// mirror that shape and are flattened into the domain models.

type wireError struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Message        string `json:"message"`
	DefaultMessage string `json:"defaultMessage"`
}

type wireFailureReason struct {
	ID          int64             `json:"id"`
	Name        map[string]string `json:"name"`
	Description map[string]string `json:"description"`
}

// text picks the english description, falling back to any translation.
func (f *wireFailureReason) text() *string {
	if f == nil {
		return nil
	}
	for _, m := range []map[string]string{f.Description, f.Name} {
		if s, ok := m["en-US"]; ok && s != "" {
			return &s
		}
		for _, s := range m {
			if s != "" {
				return &s
			}
		}
	}
	return nil
}

type wireTransactionRef struct {
	ID                int64  `json:"id"`
	MerchantReference string `json:"merchantReference"`
}

type wireTransaction struct {
	ID                  int64                    `json:"id"`
	LinkedSpaceID       int64                    `json:"linkedSpaceId"`
	State               gateway.TransactionState `json:"state"`
	MerchantReference   string                   `json:"merchantReference"`
	Currency            string                   `json:"currency"`
	AuthorizationAmount decimal.Decimal          `json:"authorizationAmount"`
	FailureReason       *wireFailureReason       `json:"failureReason"`
	PaymentConnector    *struct {
		PaymentMethodConfiguration *struct {
			PaymentMethod int64 `json:"paymentMethod"`
		} `json:"paymentMethodConfiguration"`
	} `json:"paymentConnectorConfiguration"`
	MetaData map[string]string `json:"metaData"`
}

func (w *wireTransaction) toDomain() *gateway.Transaction {
	tx := &gateway.Transaction{
		ID:                  w.ID,
		SpaceID:             w.LinkedSpaceID,
		State:               w.State,
		MerchantReference:   w.MerchantReference,
		Currency:            w.Currency,
		AuthorizationAmount: w.AuthorizationAmount,
		FailureReason:       w.FailureReason.text(),
		Labels:              w.MetaData,
	}
	if w.PaymentConnector != nil && w.PaymentConnector.PaymentMethodConfiguration != nil {
		id := w.PaymentConnector.PaymentMethodConfiguration.PaymentMethod
		tx.PaymentMethodID = &id
	}
	return tx
}

type wireRefund struct {
	ID               int64               `json:"id"`
	LinkedSpaceID    int64               `json:"linkedSpaceId"`
	ExternalID       string              `json:"externalId"`
	State            gateway.RefundState `json:"state"`
	FailureReason    *wireFailureReason  `json:"failureReason"`
	ReducedLineItems []gateway.LineItem  `json:"reducedLineItems"`
	Transaction      wireTransactionRef  `json:"transaction"`
}

func (w *wireRefund) toDomain() *gateway.Refund {
	return &gateway.Refund{
		ID:                w.ID,
		SpaceID:           w.LinkedSpaceID,
		ExternalID:        w.ExternalID,
		TransactionID:     w.Transaction.ID,
		MerchantReference: w.Transaction.MerchantReference,
		State:             w.State,
		FailureReason:     w.FailureReason.text(),
		ReducedLineItems:  w.ReducedLineItems,
	}
}

type wireOperation struct {
	ID                int64                  `json:"id"`
	LinkedSpaceID     int64                  `json:"linkedSpaceId"`
	LinkedTransaction int64                  `json:"linkedTransaction"`
	State             gateway.OperationState `json:"state"`
	FailureReason     *wireFailureReason     `json:"failureReason"`
	LineItemVersion   *struct {
		Transaction wireTransactionRef `json:"transaction"`
	} `json:"lineItemVersion"`
	Transaction *wireTransactionRef `json:"transaction"`
}

func (w *wireOperation) transactionRef() wireTransactionRef {
	switch {
	case w.Transaction != nil:
		return *w.Transaction
	case w.LineItemVersion != nil:
		return w.LineItemVersion.Transaction
	default:
		return wireTransactionRef{ID: w.LinkedTransaction}
	}
}

func (w *wireOperation) toCompletion() *gateway.Completion {
	ref := w.transactionRef()
	return &gateway.Completion{
		ID:                w.ID,
		SpaceID:           w.LinkedSpaceID,
		TransactionID:     w.LinkedTransaction,
		MerchantReference: ref.MerchantReference,
		State:             w.State,
		FailureReason:     w.FailureReason.text(),
	}
}

func (w *wireOperation) toVoid() *gateway.Void {
	ref := w.transactionRef()
	return &gateway.Void{
		ID:                w.ID,
		SpaceID:           w.LinkedSpaceID,
		TransactionID:     w.LinkedTransaction,
		MerchantReference: ref.MerchantReference,
		State:             w.State,
		FailureReason:     w.FailureReason.text(),
	}
}

type wireInvoice struct {
	LineItems []gateway.LineItem `json:"lineItems"`
}

type wireLineItemVersionCreate struct {
	ExternalID  string             `json:"externalId"`
	LineItems   []gateway.LineItem `json:"lineItems"`
	Transaction int64              `json:"transaction"`
}

// Entity query, as accepted by the search endpoints.

type wireFilter struct {
	Type      string       `json:"type"`
	FieldName string       `json:"fieldName,omitempty"`
	Operator  string       `json:"operator,omitempty"`
	Value     any          `json:"value,omitempty"`
	Children  []wireFilter `json:"children,omitempty"`
}

type wireOrderBy struct {
	FieldName string `json:"fieldName"`
	Sorting   string `json:"sorting"`
}

type wireQuery struct {
	Filter           wireFilter    `json:"filter"`
	OrderBys         []wireOrderBy `json:"orderBys,omitempty"`
	NumberOfEntities int           `json:"numberOfEntities"`
}

func leaf(field, operator string, value any) wireFilter {
	return wireFilter{Type: "LEAF", FieldName: field, Operator: operator, Value: value}
}

func and(children ...wireFilter) wireFilter {
	return wireFilter{Type: "AND", Children: children}
}
