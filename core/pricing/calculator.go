package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"autowatch/core/types"
	apperrors "autowatch/internal/errors"
)

// BillingCycle is the charging cadence
type BillingCycle string

const (
	Monthly BillingCycle = "monthly"
	Yearly  BillingCycle = "yearly"
)

// ParseBillingCycle accepts "monthly" or "yearly", case-insensitively
func ParseBillingCycle(s string) (BillingCycle, error) {
	switch c := BillingCycle(strings.ToLower(strings.TrimSpace(s))); c {
	case Monthly, Yearly:
		return c, nil
	default:
		return "", apperrors.InvalidArgument("unrecognized billing cycle %q", s)
	}
}

// Request is a quote input
type Request struct {
	Quantity     int          `json:"quantity"`
	IncludeAddOn bool         `json:"include_add_on"`
	BillingCycle BillingCycle `json:"billing_cycle"`
}

// Validate rejects values that must never reach a payment amount
func (r Request) Validate() error {
	if r.Quantity < 1 {
		return apperrors.InvalidArgument("quantity must be at least 1, got %d", r.Quantity)
	}
	if r.BillingCycle != Monthly && r.BillingCycle != Yearly {
		return apperrors.InvalidArgument("unrecognized billing cycle %q", string(r.BillingCycle))
	}
	return nil
}

// Result is a computed quote
type Result struct {
	Request Request `json:"request"`

	// Amount is the charge for one billing period, rounded to cents
	Amount decimal.Decimal `json:"amount"`

	// Monthly is the rounded monthly-equivalent charge including add-on
	Monthly decimal.Decimal `json:"monthly"`

	// Base is the unrounded band price before add-on
	Base decimal.Decimal `json:"base"`

	// AddOn is the surcharge actually applied
	AddOn decimal.Decimal `json:"add_on"`

	// AddOnBundled is set when the add-on is included free with the plan
	AddOnBundled bool `json:"add_on_bundled"`

	// Enterprise is set beyond the last self-service band
	Enterprise bool `json:"enterprise"`

	Plan     string         `json:"plan"`
	Currency types.Currency `json:"currency"`
}

// Cents is the amount in integer minor units for a payment provider
func (r Result) Cents() int64 {
	return r.Money().Cents()
}

// Money returns the amount with its currency
func (r Result) Money() types.Money {
	return types.NewMoney(r.Amount, r.Currency)
}

// Calculator prices requests against one tariff. It holds no mutable state
// and is safe for concurrent use.
type Calculator struct {
	tariff *Tariff
}

// NewCalculator creates a calculator; a nil tariff selects Default()
func NewCalculator(t *Tariff) *Calculator {
	if t == nil {
		t = Default()
	}
	return &Calculator{tariff: t}
}

// Tariff returns the tariff the calculator prices against
func (c *Calculator) Tariff() *Tariff {
	return c.tariff
}

// Calculate computes the charge for a request.
//
// The add-on surcharge applies only when 1 < quantity <= the add-on window;
// above the window it is bundled. The annual transform applies to the rounded
// monthly charge, after the add-on.
func (c *Calculator) Calculate(req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	t := c.tariff
	res := Result{
		Request:  req,
		Base:     t.BasePrice(req.Quantity),
		AddOn:    decimal.Zero,
		Plan:     t.band(req.Quantity).Plan,
		Currency: t.Currency,
	}
	res.Enterprise = res.Plan == EnterprisePlan

	if req.Quantity > t.AddOnMaxQuantity {
		res.AddOnBundled = true
	} else if req.IncludeAddOn && req.Quantity > 1 {
		res.AddOn = t.AddOnPrice
	}

	res.Monthly = res.Base.Add(res.AddOn).Round(2)
	res.Amount = res.Monthly
	if req.BillingCycle == Yearly {
		factor := decimal.NewFromInt(1).Sub(t.AnnualDiscount)
		res.Amount = res.Monthly.Mul(decimal.NewFromInt(t.AnnualMonths)).Mul(factor).Round(2)
	}
	return res, nil
}

var defaultCalculator = NewCalculator(nil)

// Calculate prices a request against the default tariff
func Calculate(quantity int, includeAddOn bool, cycle BillingCycle) (Result, error) {
	return defaultCalculator.Calculate(Request{
		Quantity:     quantity,
		IncludeAddOn: includeAddOn,
		BillingCycle: cycle,
	})
}
