package pricing

import (
	"fmt"
	"time"

	apperrors "autowatch/internal/errors"
)

// Frequency is how often a plan's listings are re-checked
type Frequency struct {
	Interval time.Duration `json:"interval"`
	Label    string        `json:"label"`
}

// Plan summarizes what a quantity buys, independent of price
type Plan struct {
	ID         string        `json:"id"`
	From       int           `json:"from"`
	UpTo       int           `json:"up_to,omitempty"`
	Frequency  Frequency     `json:"frequency"`
	Retention  time.Duration `json:"retention"`
	Enterprise bool          `json:"enterprise"`
}

// PlanFor looks up the plan covering q
func (t *Tariff) PlanFor(q int) (Plan, error) {
	if q < 1 {
		return Plan{}, apperrors.InvalidArgument("quantity must be at least 1, got %d", q)
	}
	b := t.band(q)
	return Plan{
		ID:         b.Plan,
		From:       b.From,
		UpTo:       b.UpTo,
		Frequency:  Frequency{Interval: b.CheckInterval, Label: FrequencyLabel(b.CheckInterval)},
		Retention:  time.Duration(b.RetentionDays) * 24 * time.Hour,
		Enterprise: b.Plan == EnterprisePlan,
	}, nil
}

// Plans lists every plan in band order, enterprise last
func (t *Tariff) Plans() []Plan {
	plans := make([]Plan, 0, len(t.Bands)+1)
	for _, b := range t.Bands {
		p, _ := t.PlanFor(b.From)
		plans = append(plans, p)
	}
	p, _ := t.PlanFor(t.Enterprise.From)
	return append(plans, p)
}

// PlanID maps a quantity to its plan identifier
func PlanID(q int) (string, error) {
	p, err := defaultTariff.PlanFor(q)
	return p.ID, err
}

// CheckFrequency maps a quantity to its price check frequency
func CheckFrequency(q int) (Frequency, error) {
	p, err := defaultTariff.PlanFor(q)
	return p.Frequency, err
}

// RetentionWindow maps a quantity to how long price history is kept
func RetentionWindow(q int) (time.Duration, error) {
	p, err := defaultTariff.PlanFor(q)
	return p.Retention, err
}

// FrequencyLabel renders an interval for humans, e.g. "Every 6 hours"
func FrequencyLabel(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d == day:
		return "Daily"
	case d%day == 0:
		return fmt.Sprintf("Every %d days", d/day)
	case d == time.Hour:
		return "Hourly"
	case d%time.Hour == 0:
		return fmt.Sprintf("Every %d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("Every %d minutes", d/time.Minute)
	default:
		return "Every " + d.String()
	}
}
