// Package billing turns priced quotes into subscriptions: checkout, billing
// provider events and the post-checkout wait for activation.
package billing

import (
	"context"
	"time"

	"autowatch/core/pricing"
	"autowatch/core/types"
)

// Status is the lifecycle state of a subscription
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
)

// Subscription is a customer's monitoring plan
type Subscription struct {
	ID                string               `json:"id"`
	CustomerID        string               `json:"customer_id"`
	CustomerEmail     string               `json:"customer_email,omitempty"`
	ProviderID        string               `json:"provider_id,omitempty"`
	CheckoutSessionID string               `json:"checkout_session_id,omitempty"`
	PlanID            string               `json:"plan_id"`
	Vehicles          int                  `json:"vehicles"`
	APIAccess         bool                 `json:"api_access"`
	BillingCycle      pricing.BillingCycle `json:"billing_cycle"`
	AmountCents       int64                `json:"amount_cents"`
	Currency          types.Currency       `json:"currency"`
	Status            Status               `json:"status"`
	CurrentPeriodEnd  *time.Time           `json:"current_period_end,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// IsActive reports whether the subscription entitles monitoring
func (s Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// Store persists subscriptions
type Store interface {
	CreateSubscription(ctx context.Context, s Subscription) error
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	GetSubscriptionByProviderID(ctx context.Context, providerID string) (Subscription, error)
	UpdateSubscription(ctx context.Context, s Subscription) error
}

// Interval is the provider's recurring interval for a billing cycle
func Interval(c pricing.BillingCycle) string {
	if c == pricing.Yearly {
		return "year"
	}
	return "month"
}

// MapProviderStatus maps a billing provider's subscription status onto ours.
// Unknown statuses map to pending so they never grant access.
func MapProviderStatus(status string) Status {
	switch status {
	case "active", "trialing":
		return StatusActive
	case "past_due", "unpaid", "incomplete", "paused":
		return StatusPastDue
	case "canceled", "cancelled", "incomplete_expired":
		return StatusCancelled
	default:
		return StatusPending
	}
}

// canTransition guards against late or replayed events reviving a
// cancelled subscription
func canTransition(from, to Status) bool {
	if from == StatusCancelled {
		return to == StatusCancelled
	}
	return true
}
