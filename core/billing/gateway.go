package billing

import (
	"context"
	"time"

	"autowatch/core/types"
)

// SessionRequest asks the billing provider for a hosted checkout page
type SessionRequest struct {
	// Reference is our subscription ID, echoed back in provider events
	Reference     string
	CustomerEmail string
	PlanID        string
	Description   string
	AmountCents   int64
	Currency      types.Currency
	Interval      string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// Session is a created checkout session
type Session struct {
	ID  string
	URL string
}

// ProviderSubscription is the provider's view of a subscription
type ProviderSubscription struct {
	ID               string
	Status           string
	CurrentPeriodEnd time.Time
}

// EventType names a billing provider event we react to
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventPaymentFailed       EventType = "invoice.payment_failed"
)

// Event is a verified, provider-neutral billing event
type Event struct {
	ID                     string    `json:"id"`
	Type                   EventType `json:"type"`
	Reference              string    `json:"reference,omitempty"`
	ProviderSubscriptionID string    `json:"provider_subscription_id,omitempty"`
	ProviderStatus         string    `json:"provider_status,omitempty"`
	CurrentPeriodEnd       time.Time `json:"current_period_end,omitempty"`
}

// Gateway is the billing provider
type Gateway interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error)
	GetSubscription(ctx context.Context, providerID string) (ProviderSubscription, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// Relay forwards applied subscription changes to downstream systems
type Relay interface {
	Relay(ctx context.Context, ev Event, sub Subscription) error
}
