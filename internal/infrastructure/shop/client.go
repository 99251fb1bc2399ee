package shop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cassiomorais/txops/internal/domain/commerce"
	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/infrastructure/config"
	"github.com/cassiomorais/txops/pkg/retry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client is the REST client of the shop back office. It serves both the
// order facade and the refund ledger.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	reads   retry.Config
}

var (
	_ commerce.OrderService = (*Client)(nil)
	_ commerce.Ledger       = (*Client)(nil)
)

func New(cfg config.ShopConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse shop base url: %w", err)
	}
	reads := retry.DefaultConfig()
	reads.RetryIf = func(err error) bool {
		var se *statusError
		return !errors.As(err, &se) || se.status >= 500
	}
	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		reads: reads,
	}, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("shop responded %d: %s", e.status, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode shop request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("build shop request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("shop %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode shop response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, c.reads, func() error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	})
}

func orderPath(orderID int64, parts ...string) string {
	return "/orders/" + strconv.FormatInt(orderID, 10) + strings.Join(append([]string{""}, parts...), "/")
}

type orderDTO struct {
	ID              int64           `json:"id"`
	Reference       string          `json:"reference"`
	Currency        string          `json:"currency"`
	ShippingInclTax decimal.Decimal `json:"shipping_incl_tax"`
	TotalInclTax    decimal.Decimal `json:"total_incl_tax"`
	RelatedOrderIDs []int64         `json:"related_order_ids"`
	Lines           []struct {
		DetailID         int64           `json:"detail_id"`
		ProductID        int64           `json:"product_id"`
		ProductReference string          `json:"product_reference"`
		Name             string          `json:"name"`
		Quantity         int64           `json:"quantity"`
		UnitPriceInclTax decimal.Decimal `json:"unit_price_incl_tax"`
	} `json:"lines"`
}

func (c *Client) GetOrder(ctx context.Context, orderID int64) (*commerce.Order, error) {
	var dto orderDTO
	if err := c.get(ctx, orderPath(orderID), &dto); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusNotFound {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, err
	}

	order := &commerce.Order{
		ID:              dto.ID,
		Reference:       dto.Reference,
		Currency:        dto.Currency,
		ShippingInclTax: dto.ShippingInclTax,
		TotalInclTax:    dto.TotalInclTax,
		RelatedOrderIDs: dto.RelatedOrderIDs,
	}
	for _, l := range dto.Lines {
		order.Lines = append(order.Lines, commerce.OrderLine{
			DetailID:         l.DetailID,
			ProductID:        l.ProductID,
			ProductReference: l.ProductReference,
			Name:             l.Name,
			Quantity:         l.Quantity,
			UnitPriceInclTax: l.UnitPriceInclTax,
		})
	}
	return order, nil
}

// GroupLineItems merges the gateway line items of the order and of every
// order placed with the same cart. Items sharing a unique id are summed.
func (c *Client) GroupLineItems(ctx context.Context, orderID int64) ([]gateway.LineItem, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var merged []gateway.LineItem
	index := make(map[string]int)
	for _, id := range append([]int64{orderID}, order.RelatedOrderIDs...) {
		var items []gateway.LineItem
		if err := c.get(ctx, orderPath(id, "line-items"), &items); err != nil {
			return nil, fmt.Errorf("line items of order %d: %w", id, err)
		}
		for _, item := range items {
			i, ok := index[item.UniqueID]
			if !ok {
				index[item.UniqueID] = len(merged)
				merged = append(merged, item)
				continue
			}
			merged[i].Quantity = merged[i].Quantity.Add(item.Quantity)
			merged[i].AmountIncludingTax = merged[i].AmountIncludingTax.Add(item.AmountIncludingTax)
		}
	}
	return merged, nil
}

type idResponse struct {
	ID int64 `json:"id"`
}

func (c *Client) IssueCreditSlip(ctx context.Context, orderID int64, lines map[int64]commerce.LineInput, shipping decimal.Decimal) (int64, error) {
	var res idResponse
	err := c.do(ctx, http.MethodPost, orderPath(orderID, "credit-slips"), map[string]any{
		"lines":    lines,
		"shipping": shipping,
	}, &res)
	if err != nil {
		return 0, fmt.Errorf("issue credit slip: %w", err)
	}
	return res.ID, nil
}

func (c *Client) ReturnStock(ctx context.Context, orderID int64, lines map[int64]commerce.LineInput) error {
	if err := c.do(ctx, http.MethodPost, orderPath(orderID, "stock-returns"), map[string]any{"lines": lines}, nil); err != nil {
		return fmt.Errorf("return stock: %w", err)
	}
	return nil
}

func (c *Client) IssueVoucher(ctx context.Context, orderID int64, amount decimal.Decimal) (int64, error) {
	var res idResponse
	if err := c.do(ctx, http.MethodPost, orderPath(orderID, "vouchers"), map[string]any{"amount": amount}, &res); err != nil {
		return 0, fmt.Errorf("issue voucher: %w", err)
	}
	return res.ID, nil
}

func (c *Client) AddOrderMessage(ctx context.Context, orderID int64, message string) error {
	if err := c.do(ctx, http.MethodPost, orderPath(orderID, "messages"), map[string]any{"message": message}, nil); err != nil {
		return fmt.Errorf("add order message: %w", err)
	}
	return nil
}
