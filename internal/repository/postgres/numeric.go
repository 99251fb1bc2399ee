package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NUMERIC columns travel as text so no precision is lost on the way.

func parseNumeric(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

func numericString(d decimal.Decimal) string {
	return d.String()
}
