package pricing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autowatch/core/types"
	apperrors "autowatch/internal/errors"
)

const smallTariff = `
currency = "EUR"

add_on {
  name          = "api"
  monthly_price = "2.50"
  max_quantity  = 10
}

annual {
  months   = 12
  discount = "0.20"
}

band "solo" {
  up_to          = 1
  check_interval = "24h"
  retention_days = 14
}

band "team" {
  up_to          = 10
  entry          = "1.50"
  rate           = "0.50"
  check_interval = "6h"
  retention_days = 60
}

band "max" {
  up_to          = 20
  ceiling        = "20.00"
  check_interval = "90m"
  retention_days = 120
}

enterprise {
  check_interval = "15m"
  retention_days = 365
}
`

func TestDefaultTariffShape(t *testing.T) {
	tariff := Default()
	assert.Equal(t, types.CurrencyGBP, tariff.Currency)
	assert.Equal(t, 250, tariff.MaxSelfService())
	assert.Equal(t, 125, tariff.AddOnMaxQuantity)
	assert.Equal(t, 251, tariff.Enterprise.From)
	assertAmount(t, "110.00", tariff.Enterprise.Anchor)

	var plans []string
	for _, b := range tariff.Bands {
		plans = append(plans, b.Plan)
	}
	assert.Equal(t, []string{"free", "starter", "growth", "pro", "business", "fleet", "dealer"}, plans)
}

func TestParseCustomTariff(t *testing.T) {
	tariff, err := Parse("small.hcl", []byte(smallTariff))
	require.NoError(t, err)

	calc := NewCalculator(tariff)
	res, err := calc.Calculate(Request{Quantity: 1, BillingCycle: Monthly})
	require.NoError(t, err)
	assertAmount(t, "0.00", res.Amount)

	// team: 1.50 + 8 * 0.50
	assertAmount(t, "5.50", tariff.BasePrice(10))
	// max interpolates 5.50 -> 20.00 over 10 steps
	assertAmount(t, "6.95", tariff.BasePrice(11))
	assertAmount(t, "20.00", tariff.BasePrice(20))
	assertAmount(t, "20.00", tariff.BasePrice(99))

	res, err = calc.Calculate(Request{Quantity: 4, IncludeAddOn: true, BillingCycle: Yearly})
	require.NoError(t, err)
	// (2.50 + 2.50) * 12 * 0.8
	assertAmount(t, "48.00", res.Amount)
	assert.Equal(t, types.CurrencyEUR, res.Currency)
}

func TestParseRejectsInvalidTariffs(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(string) string
		errType  apperrors.Type
		contains string
	}{
		{
			name:    "syntax error",
			mutate:  func(s string) string { return s + "\nband {" },
			errType: apperrors.TypeParsing,
		},
		{
			name:    "descending bounds",
			mutate:  func(s string) string { return strings.Replace(s, "up_to          = 20", "up_to          = 5", 1) },
			errType: apperrors.TypePricing,
		},
		{
			name:    "negative rate",
			mutate:  func(s string) string { return strings.Replace(s, `"0.50"`, `"-0.50"`, 1) },
			errType: apperrors.TypePricing,
		},
		{
			name:    "ceiling below anchor",
			mutate:  func(s string) string { return strings.Replace(s, `"20.00"`, `"2.00"`, 1) },
			errType: apperrors.TypePricing,
		},
		{
			name:    "full discount",
			mutate:  func(s string) string { return strings.Replace(s, `"0.20"`, `"1.00"`, 1) },
			errType: apperrors.TypePricing,
		},
		{
			name:    "bad interval",
			mutate:  func(s string) string { return strings.Replace(s, `"90m"`, `"often"`, 1) },
			errType: apperrors.TypeParsing,
		},
		{
			name:    "reserved plan name",
			mutate:  func(s string) string { return strings.Replace(s, `band "max"`, `band "enterprise"`, 1) },
			errType: apperrors.TypePricing,
		},
		{
			name: "two interpolating bands",
			mutate: func(s string) string {
				return strings.Replace(s, "entry          = \"1.50\"\n  rate           = \"0.50\"", `ceiling        = "5.50"`, 1)
			},
			errType:  apperrors.TypePricing,
			contains: "only one band may interpolate",
		},
		{
			name: "first band charges for one vehicle",
			mutate: func(s string) string {
				return strings.Replace(s, "up_to          = 1\n", "up_to          = 1\n  rate           = \"1.00\"\n", 1)
			},
			errType:  apperrors.TypePricing,
			contains: "single vehicle at zero",
		},
		{
			name:    "bad currency",
			mutate:  func(s string) string { return strings.Replace(s, `"EUR"`, `"EURO"`, 1) },
			errType: apperrors.TypePricing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("small.hcl", []byte(tt.mutate(smallTariff)))
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, tt.errType), err.Error())
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestParseRejectsCeilingWithRate(t *testing.T) {
	src := strings.Replace(smallTariff, `ceiling        = "20.00"`, "ceiling        = \"20.00\"\n  rate = \"1.00\"", 1)
	_, err := Parse("small.hcl", []byte(src))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypePricing))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tariff.hcl")
	require.NoError(t, os.WriteFile(path, []byte(smallTariff), 0600))

	tariff, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, tariff.MaxSelfService())
	assert.Equal(t, 90*time.Minute, tariff.Bands[2].CheckInterval)

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
}

func TestTable(t *testing.T) {
	rows := Default().Table()
	require.Len(t, rows, 8)

	assert.Equal(t, "starter", rows[1].Plan)
	assertAmount(t, "3.00", rows[1].PriceAtFrom)
	assertAmount(t, "5.25", rows[1].PriceAtUpTo)
	assert.Equal(t, "Every 12 hours", rows[1].CheckInterval)

	last := rows[len(rows)-1]
	assert.Equal(t, EnterprisePlan, last.Plan)
	assert.Equal(t, 0, last.UpTo)
	assertAmount(t, "110.00", last.PriceAtFrom)
}
