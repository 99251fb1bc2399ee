package commerce

import (
	"fmt"
	"strings"

	"github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// LineInput is what the admin entered for one order line.
type LineInput struct {
	Quantity int64           `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// RefundParameters is the raw refund request as entered in the shop back office.
type RefundParameters struct {
	Lines            map[int64]LineInput `json:"lines"`
	ShippingAmount   decimal.Decimal     `json:"shipping_amount"`
	TotalAmount      decimal.Decimal     `json:"total_amount"`
	GenerateDiscount bool                `json:"generate_discount"`
	Offline          bool                `json:"offline"`
	Voucher          bool                `json:"voucher"`
}

// LinesTotal sums the per-line amounts.
func (p RefundParameters) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Validate checks the parameters describe a non-empty, non-negative refund.
func (p RefundParameters) Validate() error {
	for id, l := range p.Lines {
		if l.Quantity < 0 {
			return errors.NewValidationError(fmt.Sprintf("quantity_%d", id), "must not be negative")
		}
		if l.Amount.IsNegative() {
			return errors.NewValidationError(fmt.Sprintf("amount_%d", id), "must not be negative")
		}
	}
	if p.ShippingAmount.IsNegative() {
		return errors.NewValidationError("shipping_amount", "must not be negative")
	}
	if p.TotalAmount.IsNegative() {
		return errors.NewValidationError("total_amount", "must not be negative")
	}
	if p.TotalAmount.IsZero() && p.LinesTotal().Add(p.ShippingAmount).IsZero() {
		return errors.NewValidationError("amount", "nothing to refund")
	}
	return nil
}

// ParseRawParameters reads the back-office form fields (quantity_<detail>,
// amount_<detail>, shipping_amount, ...). Values may arrive as strings or numbers.
func ParseRawParameters(raw map[string]any) (RefundParameters, error) {
	p := RefundParameters{Lines: make(map[int64]LineInput)}

	for key, value := range raw {
		switch {
		case strings.HasPrefix(key, "quantity_"):
			id, err := detailID(key, "quantity_")
			if err != nil {
				return p, err
			}
			qty, err := cast.ToInt64E(value)
			if err != nil {
				return p, errors.NewValidationError(key, "must be an integer")
			}
			line := p.Lines[id]
			line.Quantity = qty
			p.Lines[id] = line
		case strings.HasPrefix(key, "amount_"):
			id, err := detailID(key, "amount_")
			if err != nil {
				return p, err
			}
			amount, err := toDecimal(value)
			if err != nil {
				return p, errors.NewValidationError(key, "must be a number")
			}
			line := p.Lines[id]
			line.Amount = amount
			p.Lines[id] = line
		case key == "shipping_amount":
			amount, err := toDecimal(value)
			if err != nil {
				return p, errors.NewValidationError(key, "must be a number")
			}
			p.ShippingAmount = amount
		case key == "total_amount":
			amount, err := toDecimal(value)
			if err != nil {
				return p, errors.NewValidationError(key, "must be a number")
			}
			p.TotalAmount = amount
		case key == "generate_discount":
			p.GenerateDiscount = cast.ToBool(value)
		case key == "offline":
			p.Offline = cast.ToBool(value)
		case key == "voucher":
			p.Voucher = cast.ToBool(value)
		}
	}

	return p, p.Validate()
}

func detailID(key, prefix string) (int64, error) {
	id, err := cast.ToInt64E(strings.TrimPrefix(key, prefix))
	if err != nil || id <= 0 {
		return 0, errors.NewValidationError(key, "invalid order detail id")
	}
	return id, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return decimal.Zero, err
	}
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
