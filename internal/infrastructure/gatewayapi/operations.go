package gatewayapi

import (
	"context"
	"net/http"

	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/google/uuid"
)

func (c *Client) ReadTransaction(ctx context.Context, spaceID, transactionID int64) (*gateway.Transaction, error) {
	var w wireTransaction
	err := c.read(ctx, request{
		operation: "transaction.read",
		method:    http.MethodGet,
		path:      "/transaction/read",
		query:     spaceQuery(spaceID, transactionID),
	}, &w)
	if err != nil {
		return nil, err
	}
	return w.toDomain(), nil
}

// UpdateLineItems creates a new line item version of the transaction.
func (c *Client) UpdateLineItems(ctx context.Context, spaceID, transactionID int64, items []gateway.LineItem) error {
	return c.call(ctx, request{
		operation: "transaction.update_line_items",
		method:    http.MethodPost,
		path:      "/transaction-line-item-version/create",
		query:     spaceQuery(spaceID),
		body: wireLineItemVersionCreate{
			ExternalID:  uuid.NewString(),
			LineItems:   items,
			Transaction: transactionID,
		},
	}, nil)
}

// BaseLineItems returns the reduced line items of the latest successful
// refund, or the invoice line items when nothing was refunded yet.
func (c *Client) BaseLineItems(ctx context.Context, spaceID, transactionID int64) ([]gateway.LineItem, error) {
	var refunds []wireRefund
	err := c.read(ctx, request{
		operation: "refund.search",
		method:    http.MethodPost,
		path:      "/refund/search",
		query:     spaceQuery(spaceID),
		body: wireQuery{
			Filter: and(
				leaf("state", "EQUALS", string(gateway.RefundSuccessful)),
				leaf("transaction.id", "EQUALS", transactionID),
			),
			OrderBys:         []wireOrderBy{{FieldName: "createdOn", Sorting: "DESCENDING"}},
			NumberOfEntities: 1,
		},
	}, &refunds)
	if err != nil {
		return nil, err
	}
	if len(refunds) > 0 {
		return refunds[0].ReducedLineItems, nil
	}

	var invoices []wireInvoice
	err = c.read(ctx, request{
		operation: "invoice.search",
		method:    http.MethodPost,
		path:      "/transaction-invoice/search",
		query:     spaceQuery(spaceID),
		body: wireQuery{
			Filter: and(
				leaf("state", "NOT_EQUALS", "CANCELED"),
				leaf("completion.lineItemVersion.transaction.id", "EQUALS", transactionID),
			),
			NumberOfEntities: 1,
		},
	}, &invoices)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return invoices[0].LineItems, nil
}

func (c *Client) CreateRefund(ctx context.Context, spaceID int64, refund gateway.RefundCreate) (*gateway.Refund, error) {
	var w wireRefund
	err := c.call(ctx, request{
		operation: "refund.create",
		method:    http.MethodPost,
		path:      "/refund/refund",
		query:     spaceQuery(spaceID),
		body:      refund,
	}, &w)
	if err != nil {
		return nil, err
	}
	return w.toDomain(), nil
}

func (c *Client) ReadRefund(ctx context.Context, spaceID, refundID int64) (*gateway.Refund, error) {
	var w wireRefund
	err := c.read(ctx, request{
		operation: "refund.read",
		method:    http.MethodGet,
		path:      "/refund/read",
		query:     spaceQuery(spaceID, refundID),
	}, &w)
	if err != nil {
		return nil, err
	}
	return w.toDomain(), nil
}

func (c *Client) CompleteOnline(ctx context.Context, spaceID, transactionID int64) (*gateway.Completion, error) {
	var w wireOperation
	err := c.call(ctx, request{
		operation: "completion.complete_online",
		method:    http.MethodPost,
		path:      "/transaction-completion/completeOnline",
		query:     spaceQuery(spaceID, transactionID),
	}, &w)
	if err != nil {
		return nil, err
	}
	return w.toCompletion(), nil
}

func (c *Client) ReadCompletion(ctx context.Context, spaceID, completionID int64) (*gateway.Completion, error) {
	var w wireOperation
	err := c.read(ctx, request{
		operation: "completion.read",
		method:    http.MethodGet,
		path:      "/transaction-completion/read",
		query:     spaceQuery(spaceID, completionID),
	}, &w)
	if err != nil {
		return nil, err
	}
	return w.toCompletion(), nil
}

func (c *Client) VoidOnline(ctx context.Context, spaceID, transactionID int64) (*gateway.Void, error) {
	var w wireOperation
	err := c.call(ctx, request{
		operation: "void.void_online",
		method:    http.MethodPost,
		path:      "/transaction-void/voidOnline",
		query:     spaceQuery(spaceID, transactionID),
	}, &w)
	if err != nil {
		return nil, err
	}
	return w.toVoid(), nil
}

func (c *Client) ReadVoid(ctx context.Context, spaceID, voidID int64) (*gateway.Void, error) {
	var w wireOperation
	err := c.read(ctx, request{
		operation: "void.read",
		method:    http.MethodGet,
		path:      "/transaction-void/read",
		query:     spaceQuery(spaceID, voidID),
	}, &w)
	if err != nil {
		return nil, err
	}
	return w.toVoid(), nil
}

