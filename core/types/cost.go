// Package types - Currency and money helpers shared by pricing, CLI and HTTP
package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	CurrencyGBP Currency = "GBP"
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
)

// String returns the string representation
func (c Currency) String() string {
	return string(c)
}

// Symbol returns the display symbol, or the code itself when unknown
func (c Currency) Symbol() string {
	switch c {
	case CurrencyGBP:
		return "£"
	case CurrencyEUR:
		return "€"
	case CurrencyUSD:
		return "$"
	default:
		return string(c) + " "
	}
}

// Lower returns the lowercase code expected by payment providers
func (c Currency) Lower() string {
	return strings.ToLower(string(c))
}

// Money is a monetary amount with its currency.
// NEVER use float64 for money calculations.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// NewMoney creates Money from a decimal
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// ParseMoney creates Money from a decimal string
func ParseMoney(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: d, Currency: currency}, nil
}

// Cents returns the amount in integer minor units, rounded half-up
func (m Money) Cents() int64 {
	return m.Amount.Round(2).Shift(2).IntPart()
}

// Equal compares amount and currency
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// Display formats the amount with its symbol and two decimals, e.g. "£13.75"
func (m Money) Display() string {
	return m.Currency.Symbol() + m.Amount.StringFixed(2)
}

// String returns "13.75 GBP"
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}
