// Package pricing computes monitoring subscription charges from a tiered tariff.
//
// The tariff is a checked-in HCL table (tariff.hcl). Every band stores only its
// per-vehicle rate; the price at a band's lower edge is anchored to the
// cumulative price at the previous band's upper edge, so the piecewise formula
// cannot jump at a boundary.
package pricing

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/shopspring/decimal"

	"autowatch/core/types"
	apperrors "autowatch/internal/errors"
)

//go:embed tariff.hcl
var defaultTariffSource []byte

// EnterprisePlan is the plan identifier beyond the last self-service band
const EnterprisePlan = "enterprise"

// tariffFile is the HCL schema of a tariff table
type tariffFile struct {
	Currency   string          `hcl:"currency"`
	AddOn      addOnBlock      `hcl:"add_on,block"`
	Annual     annualBlock     `hcl:"annual,block"`
	Bands      []bandBlock     `hcl:"band,block"`
	Enterprise enterpriseBlock `hcl:"enterprise,block"`
}

type addOnBlock struct {
	Name         string `hcl:"name"`
	MonthlyPrice string `hcl:"monthly_price"`
	MaxQuantity  int    `hcl:"max_quantity"`
}

type annualBlock struct {
	Months   int    `hcl:"months"`
	Discount string `hcl:"discount"`
}

type bandBlock struct {
	Name          string  `hcl:"name,label"`
	UpTo          int     `hcl:"up_to"`
	Entry         *string `hcl:"entry,optional"`
	Rate          *string `hcl:"rate,optional"`
	Ceiling       *string `hcl:"ceiling,optional"`
	CheckInterval string  `hcl:"check_interval"`
	RetentionDays int     `hcl:"retention_days"`
}

type enterpriseBlock struct {
	CheckInterval string `hcl:"check_interval"`
	RetentionDays int    `hcl:"retention_days"`
}

// Band is one contiguous quantity range sharing a linear rate
type Band struct {
	// Plan is the plan identifier sold for this range
	Plan string `json:"plan"`

	// From and UpTo bound the range, both inclusive
	From int `json:"from"`
	UpTo int `json:"up_to"`

	// Anchor is the cumulative price at From-1
	Anchor decimal.Decimal `json:"anchor"`

	// Entry, when set, is the price at From instead of Anchor+Rate
	Entry *decimal.Decimal `json:"entry,omitempty"`

	// Rate is the per-vehicle monthly increment
	Rate decimal.Decimal `json:"rate"`

	// Ceiling, when set, makes the band interpolate linearly from Anchor
	// to Ceiling across the range
	Ceiling *decimal.Decimal `json:"ceiling,omitempty"`

	CheckInterval time.Duration `json:"check_interval"`
	RetentionDays int           `json:"retention_days"`
}

// Contains reports whether q falls inside the band
func (b Band) Contains(q int) bool {
	return q >= b.From && q <= b.UpTo
}

// priceAt evaluates the band formula; q must be inside the band
func (b Band) priceAt(q int) decimal.Decimal {
	switch {
	case b.Ceiling != nil:
		span := decimal.NewFromInt(int64(b.UpTo - b.From + 1))
		pos := decimal.NewFromInt(int64(q - b.From + 1))
		return b.Anchor.Add(b.Ceiling.Sub(b.Anchor).Mul(pos).Div(span))
	case b.Entry != nil:
		return b.Entry.Add(b.Rate.Mul(decimal.NewFromInt(int64(q - b.From))))
	default:
		return b.Anchor.Add(b.Rate.Mul(decimal.NewFromInt(int64(q - b.From + 1))))
	}
}

// Tariff is a validated, immutable tariff table
type Tariff struct {
	Currency types.Currency `json:"currency"`

	AddOnName        string          `json:"add_on_name"`
	AddOnPrice       decimal.Decimal `json:"add_on_price"`
	AddOnMaxQuantity int             `json:"add_on_max_quantity"`

	AnnualMonths   int64           `json:"annual_months"`
	AnnualDiscount decimal.Decimal `json:"annual_discount"`

	Bands []Band `json:"bands"`

	// Enterprise covers every quantity above the last band; its price is
	// held at the last band's upper-edge price
	Enterprise Band `json:"enterprise"`
}

var defaultTariff = mustParse("tariff.hcl", defaultTariffSource)

// Default returns the checked-in tariff
func Default() *Tariff {
	return defaultTariff
}

// DefaultSource returns the HCL the built-in tariff is parsed from
func DefaultSource() []byte {
	return append([]byte(nil), defaultTariffSource...)
}

// Load reads and validates a tariff file
func Load(path string) (*Tariff, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Config("failed to read tariff "+path, err)
	}
	return Parse(path, src)
}

// Parse decodes and validates HCL tariff source. The filename selects the
// syntax and appears in diagnostics.
func Parse(filename string, src []byte) (*Tariff, error) {
	var f tariffFile
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return nil, apperrors.Parsing("invalid tariff "+filename, err)
	}
	return build(&f)
}

func mustParse(filename string, src []byte) *Tariff {
	t, err := Parse(filename, src)
	if err != nil {
		panic(fmt.Sprintf("embedded tariff is invalid: %v", err))
	}
	return t
}

func build(f *tariffFile) (*Tariff, error) {
	if len(f.Currency) != 3 {
		return nil, tariffErr("currency must be a 3-letter code, got %q", f.Currency)
	}
	if len(f.Bands) == 0 {
		return nil, tariffErr("at least one band is required")
	}

	t := &Tariff{
		Currency:         types.Currency(f.Currency),
		AddOnName:        f.AddOn.Name,
		AddOnMaxQuantity: f.AddOn.MaxQuantity,
		AnnualMonths:     int64(f.Annual.Months),
	}

	var err error
	if t.AddOnPrice, err = nonNegative("add_on.monthly_price", f.AddOn.MonthlyPrice); err != nil {
		return nil, err
	}
	if t.AddOnMaxQuantity < 1 {
		return nil, tariffErr("add_on.max_quantity must be at least 1")
	}
	if t.AnnualMonths < 1 {
		return nil, tariffErr("annual.months must be at least 1")
	}
	if t.AnnualDiscount, err = nonNegative("annual.discount", f.Annual.Discount); err != nil {
		return nil, err
	}
	if t.AnnualDiscount.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, tariffErr("annual.discount must be below 1, got %s", t.AnnualDiscount)
	}

	seen := make(map[string]bool, len(f.Bands))
	anchor := decimal.Zero
	from := 1
	for _, raw := range f.Bands {
		if raw.Name == EnterprisePlan || seen[raw.Name] {
			return nil, tariffErr("band name %q is reserved or duplicated", raw.Name)
		}
		seen[raw.Name] = true

		b, err := buildBand(raw, from, anchor)
		if err != nil {
			return nil, err
		}
		t.Bands = append(t.Bands, b)

		anchor = b.priceAt(b.UpTo)
		from = b.UpTo + 1
	}

	interpolating := 0
	for _, b := range t.Bands {
		if b.Ceiling != nil {
			interpolating++
		}
	}
	if interpolating > 1 {
		return nil, tariffErr("only one band may interpolate to a ceiling, found %d", interpolating)
	}
	if first := t.Bands[0]; !first.priceAt(first.From).IsZero() {
		return nil, tariffErr("band %q must price a single vehicle at zero, got %s", first.Plan, first.priceAt(first.From))
	}

	interval, err := parseInterval(EnterprisePlan, f.Enterprise.CheckInterval)
	if err != nil {
		return nil, err
	}
	if f.Enterprise.RetentionDays < 1 {
		return nil, tariffErr("enterprise retention_days must be at least 1")
	}
	t.Enterprise = Band{
		Plan:          EnterprisePlan,
		From:          from,
		Anchor:        anchor,
		CheckInterval: interval,
		RetentionDays: f.Enterprise.RetentionDays,
	}

	return t, nil
}

func buildBand(raw bandBlock, from int, anchor decimal.Decimal) (Band, error) {
	if raw.UpTo < from {
		return Band{}, tariffErr("band %q: up_to %d must be at least %d", raw.Name, raw.UpTo, from)
	}
	if raw.Ceiling != nil && (raw.Rate != nil || raw.Entry != nil) {
		return Band{}, tariffErr("band %q: ceiling cannot be combined with rate or entry", raw.Name)
	}

	b := Band{
		Plan:          raw.Name,
		From:          from,
		UpTo:          raw.UpTo,
		Anchor:        anchor,
		Rate:          decimal.Zero,
		RetentionDays: raw.RetentionDays,
	}

	var err error
	if raw.Rate != nil {
		if b.Rate, err = nonNegative(raw.Name+".rate", *raw.Rate); err != nil {
			return Band{}, err
		}
	}
	if raw.Entry != nil {
		entry, err := nonNegative(raw.Name+".entry", *raw.Entry)
		if err != nil {
			return Band{}, err
		}
		if entry.LessThan(anchor) {
			return Band{}, tariffErr("band %q: entry %s is below the previous band's price %s", raw.Name, entry, anchor)
		}
		b.Entry = &entry
	}
	if raw.Ceiling != nil {
		ceiling, err := nonNegative(raw.Name+".ceiling", *raw.Ceiling)
		if err != nil {
			return Band{}, err
		}
		if ceiling.LessThan(anchor) {
			return Band{}, tariffErr("band %q: ceiling %s is below the previous band's price %s", raw.Name, ceiling, anchor)
		}
		b.Ceiling = &ceiling
	}

	if b.CheckInterval, err = parseInterval(raw.Name, raw.CheckInterval); err != nil {
		return Band{}, err
	}
	if raw.RetentionDays < 1 {
		return Band{}, tariffErr("band %q: retention_days must be at least 1", raw.Name)
	}
	return b, nil
}

func nonNegative(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperrors.Parsing("tariff "+field+" is not a decimal", err)
	}
	if d.IsNegative() {
		return decimal.Zero, tariffErr("%s must not be negative, got %s", field, s)
	}
	return d, nil
}

func parseInterval(band, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, apperrors.Parsing("band "+band+" check_interval", err)
	}
	if d <= 0 {
		return 0, tariffErr("band %q: check_interval must be positive", band)
	}
	return d, nil
}

func tariffErr(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.TypePricing, format, args...)
}

// MaxSelfService is the largest quantity priced automatically
func (t *Tariff) MaxSelfService() int {
	return t.Bands[len(t.Bands)-1].UpTo
}

// band returns the band covering q (q >= 1), or the enterprise band
func (t *Tariff) band(q int) Band {
	for _, b := range t.Bands {
		if b.Contains(q) {
			return b
		}
	}
	return t.Enterprise
}

// BasePrice is the unrounded monthly base for q vehicles, without add-on.
// Quantities at or below 1 are free; quantities beyond the last band are
// capped at the last band's upper-edge price.
func (t *Tariff) BasePrice(q int) decimal.Decimal {
	if q < 1 {
		return decimal.Zero
	}
	b := t.band(q)
	if b.Plan == EnterprisePlan {
		return b.Anchor
	}
	return b.priceAt(q)
}

// Row is one line of the published price table
type Row struct {
	Plan          string          `json:"plan"`
	From          int             `json:"from"`
	UpTo          int             `json:"up_to,omitempty"`
	PriceAtFrom   decimal.Decimal `json:"price_at_from"`
	PriceAtUpTo   decimal.Decimal `json:"price_at_up_to"`
	Rate          decimal.Decimal `json:"rate"`
	CheckInterval string          `json:"check_interval"`
	RetentionDays int             `json:"retention_days"`
}

// Table renders the bands, rounded for display, followed by the enterprise row
func (t *Tariff) Table() []Row {
	rows := make([]Row, 0, len(t.Bands)+1)
	for _, b := range t.Bands {
		rows = append(rows, Row{
			Plan:          b.Plan,
			From:          b.From,
			UpTo:          b.UpTo,
			PriceAtFrom:   b.priceAt(b.From).Round(2),
			PriceAtUpTo:   b.priceAt(b.UpTo).Round(2),
			Rate:          b.Rate,
			CheckInterval: FrequencyLabel(b.CheckInterval),
			RetentionDays: b.RetentionDays,
		})
	}
	rows = append(rows, Row{
		Plan:          EnterprisePlan,
		From:          t.Enterprise.From,
		PriceAtFrom:   t.Enterprise.Anchor.Round(2),
		PriceAtUpTo:   t.Enterprise.Anchor.Round(2),
		CheckInterval: FrequencyLabel(t.Enterprise.CheckInterval),
		RetentionDays: t.Enterprise.RetentionDays,
	})
	return rows
}
