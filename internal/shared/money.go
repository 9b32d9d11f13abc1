package shared

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Currency is the ledger base currency and its minor-unit scale.
type Currency struct {
	Code  string
	Scale int32
}

// ParseCurrency validates an ISO 4217 code and resolves its standard scale.
func ParseCurrency(code string) (Currency, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return Currency{}, fmt.Errorf("currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Currency{Code: unit.String(), Scale: int32(scale)}, nil
}

// Major converts a minor-unit amount into a decimal in major units.
func (c Currency) Major(minor int64) decimal.Decimal {
	return decimal.New(minor, -c.Scale)
}

// Money is the wire representation of an amount.
type Money struct {
	Minor    int64           `json:"minor"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Scale    int32           `json:"scale"`
}

// Money renders minor as a Money value.
func (c Currency) Money(minor int64) Money {
	return Money{Minor: minor, Amount: c.Major(minor), Currency: c.Code, Scale: c.Scale}
}
