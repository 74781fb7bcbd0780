package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyCents(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"0", 0},
		{"3", 300},
		{"13.75", 1375},
		{"1188.00", 118800},
		{"57.256", 5726},
		{"57.254", 5725},
	}
	for _, tt := range tests {
		m, err := ParseMoney(tt.amount, CurrencyGBP)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.Cents(), tt.amount)
	}
}

func TestMoneyDisplay(t *testing.T) {
	assert.Equal(t, "£13.75", NewMoney(decimal.RequireFromString("13.75"), CurrencyGBP).Display())
	assert.Equal(t, "€3.00", NewMoney(decimal.NewFromInt(3), CurrencyEUR).Display())
	assert.Equal(t, "CHF 1.50", NewMoney(decimal.RequireFromString("1.5"), Currency("CHF")).Display())
	assert.Equal(t, "110.00 GBP", NewMoney(decimal.NewFromInt(110), CurrencyGBP).String())
}

func TestMoneyEqual(t *testing.T) {
	a := NewMoney(decimal.RequireFromString("5.250"), CurrencyGBP)
	b := NewMoney(decimal.RequireFromString("5.25"), CurrencyGBP)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(NewMoney(b.Amount, CurrencyUSD)))
	assert.Equal(t, "gbp", CurrencyGBP.Lower())
}

func TestParseMoneyRejectsGarbage(t *testing.T) {
	_, err := ParseMoney("twelve", CurrencyGBP)
	assert.Error(t, err)
}
