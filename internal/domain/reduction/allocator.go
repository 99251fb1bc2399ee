// Package reduction turns a refund request into gateway line item reductions.
package reduction

import (
	"strings"

	"github.com/cassiomorais/txops/internal/domain/commerce"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/shopspring/decimal"
)

// proportionalScale is the number of decimals kept for proportional unit
// price reductions.
const proportionalScale = 8

var hundred = decimal.NewFromInt(100)

// Request is the input of Allocate.
type Request struct {
	// Total is the amount the admin asked to refund.
	Total decimal.Decimal

	// BaseLineItems are the gateway's current line items, already reduced by
	// earlier refunds.
	BaseLineItems []gateway.LineItem

	// Order provides the shop's unit prices and maps detail ids to SKUs.
	Order *commerce.Order

	// Inputs is the per order detail form input.
	Inputs map[int64]commerce.LineInput

	// Raw are the reductions the refund strategy built from the form input.
	Raw []gateway.LineItemReduction

	// Precision is the rounding precision used to compare amounts.
	Precision int32
}

// Allocate returns the reductions to send to the gateway.
//
// It first reconstructs the reductions line by line from the form input,
// using the gateway's unit price for partial amounts. When that produces
// nothing or refunds more than Total, and the raw reductions do not add up
// to Total either, the amount is spread proportionally over all line items.
func Allocate(req Request) []gateway.LineItemReduction {
	fixed, refunded := reconstruct(req)
	if len(fixed) > 0 && refunded.LessThanOrEqual(req.Total) {
		return fixed
	}

	rawAmount := gateway.ReductionAmount(req.BaseLineItems, req.Raw)
	if req.Total.Round(req.Precision).Equal(rawAmount.Round(req.Precision)) {
		return req.Raw
	}
	return proportional(req.Total, req.BaseLineItems)
}

type shopLine struct {
	detailID  int64
	unitPrice decimal.Decimal
}

func reconstruct(req Request) ([]gateway.LineItemReduction, decimal.Decimal) {
	bySKU := make(map[string]shopLine)
	if req.Order != nil {
		for _, l := range req.Order.Lines {
			bySKU[l.ProductReference] = shopLine{detailID: l.DetailID, unitPrice: l.UnitPriceInclTax}
		}
	}

	var fixed []gateway.LineItemReduction
	refunded := decimal.Zero

	for _, item := range req.BaseLineItems {
		if item.Type == gateway.LineItemShipping {
			if r, ok := shippingReduction(item, req.Raw); ok {
				fixed = append(fixed, r)
			}
			continue
		}

		line, ok := bySKU[item.SKU]
		if !ok || line.detailID == 0 {
			continue
		}
		input, ok := req.Inputs[line.detailID]
		if !ok || !input.Amount.IsPositive() || input.Amount.GreaterThan(req.Total) {
			continue
		}

		r, ok := reduceLine(item, line.unitPrice, input)
		if !ok {
			continue
		}
		fixed = append(fixed, r)
		refunded = refunded.Add(input.Amount)
	}

	return fixed, refunded
}

func shippingReduction(item gateway.LineItem, raw []gateway.LineItemReduction) (gateway.LineItemReduction, bool) {
	for _, r := range raw {
		if r.LineItemUniqueID == item.UniqueID ||
			strings.Contains(strings.ToLower(r.LineItemUniqueID), commerce.ShippingUniqueID) {
			return r, true
		}
	}
	return gateway.LineItemReduction{}, false
}

// reduceLine expresses the refunded amount of one line against the gateway's
// unit price. The shop only refunds whole units or less, never more than
// quantity × shop unit price.
func reduceLine(item gateway.LineItem, shopUnitPrice decimal.Decimal, input commerce.LineInput) (gateway.LineItemReduction, bool) {
	quantity := decimal.NewFromInt(1)
	if input.Quantity > 0 {
		quantity = decimal.NewFromInt(input.Quantity)
	}

	sdkUnitPrice := item.UnitPriceIncludingTax
	sdkQuantity := item.Quantity
	r := gateway.LineItemReduction{LineItemUniqueID: item.UniqueID}

	maxToRefund := floorCents(shopUnitPrice.Mul(quantity))
	if maxToRefund.LessThanOrEqual(input.Amount) {
		// Whole quantity refunded. A drift between shop and gateway unit
		// price goes onto the units left on the line.
		drift := floorCents(shopUnitPrice.Sub(sdkUnitPrice).Abs())
		r.QuantityReduction = quantity
		r.UnitPriceReduction = spread(drift, sdkQuantity.Sub(quantity))
		return r, true
	}

	sdkCents := sdkUnitPrice.Mul(hundred).Truncate(0)
	if sdkCents.IsZero() {
		return r, false
	}
	items := input.Amount.Div(sdkUnitPrice).Abs().Floor()
	rest := input.Amount.Mul(hundred).Truncate(0).Mod(sdkCents).Abs().Div(hundred)

	r.QuantityReduction = items
	r.UnitPriceReduction = spread(rest, sdkQuantity.Sub(items))
	return r, true
}

// spread divides amount over the remaining units, or returns it unchanged
// when no units remain.
func spread(amount, remaining decimal.Decimal) decimal.Decimal {
	if remaining.IsPositive() {
		return amount.Div(remaining)
	}
	return amount
}

func floorCents(d decimal.Decimal) decimal.Decimal {
	return d.Mul(hundred).Floor().Div(hundred)
}

func proportional(total decimal.Decimal, items []gateway.LineItem) []gateway.LineItemReduction {
	base := gateway.TotalAmountIncludingTax(items)
	if base.IsZero() {
		return nil
	}
	rate := total.Div(base)

	reductions := make([]gateway.LineItemReduction, 0, len(items))
	for _, item := range items {
		if item.Quantity.IsZero() {
			continue
		}
		reductions = append(reductions, gateway.LineItemReduction{
			LineItemUniqueID:   item.UniqueID,
			QuantityReduction:  decimal.Zero,
			UnitPriceReduction: item.AmountIncludingTax.Mul(rate).Div(item.Quantity).Round(proportionalScale),
		})
	}
	return reductions
}
