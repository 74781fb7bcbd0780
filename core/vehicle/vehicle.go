// Package vehicle defines the structured vehicle record attached to a tracked
// listing and the single codec used to move it in and out of storage, HTTP
// bodies and the legacy packed listing string.
package vehicle

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Vehicle describes a monitored car. Every field is optional.
type Vehicle struct {
	Make         string           `json:"make,omitempty"`
	Model        string           `json:"model,omitempty"`
	Trim         string           `json:"trim,omitempty"`
	Color        string           `json:"color,omitempty"`
	Registration string           `json:"registration,omitempty"`
	Year         *int             `json:"year,omitempty"`
	Mileage      *int             `json:"mileage,omitempty"`
	EngineSize   *decimal.Decimal `json:"engine_size,omitempty"`
}

// IsZero reports whether no attribute is set
func (v Vehicle) IsZero() bool {
	return v.Make == "" && v.Model == "" && v.Trim == "" && v.Color == "" &&
		v.Registration == "" && v.Year == nil && v.Mileage == nil && v.EngineSize == nil
}

// Title renders e.g. "2019 Ford Focus Titanium 1.0L"
func (v Vehicle) Title() string {
	var parts []string
	if v.Year != nil {
		parts = append(parts, strconv.Itoa(*v.Year))
	}
	for _, s := range []string{v.Make, v.Model, v.Trim} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if v.EngineSize != nil {
		parts = append(parts, v.EngineSize.StringFixed(1)+"L")
	}
	return strings.Join(parts, " ")
}

// Int returns a pointer to n, for building records inline
func Int(n int) *int {
	return &n
}

// Litres returns a pointer to an engine size parsed from s; it panics on
// malformed input and is meant for literals
func Litres(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
