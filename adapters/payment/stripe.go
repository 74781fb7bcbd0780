// Package payment provides billing provider adapters.
package payment

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"

	"autowatch/core/billing"
	apperrors "autowatch/internal/errors"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeProvider implements billing.Gateway for Stripe.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe payment provider.
func NewStripeProvider(config StripeConfig) *StripeProvider {
	stripe.Key = config.SecretKey
	return &StripeProvider{config: config}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// CreateCheckoutSession creates a subscription-mode Checkout session priced
// inline from the computed amount.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req billing.SessionRequest) (billing.Session, error) {
	params := sessionParams(req)
	params.Context = ctx

	s, err := checkoutsession.New(params)
	if err != nil {
		return billing.Session{}, err
	}
	return billing.Session{ID: s.ID, URL: s.URL}, nil
}

func sessionParams(req billing.SessionRequest) *stripe.CheckoutSessionParams {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String("Price monitoring: " + req.PlanID),
	}
	if req.Description != "" {
		product.Description = stripe.String(req.Description)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.Reference),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency.Lower()),
					UnitAmount: stripe.Int64(req.AmountCents),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String(req.Interval),
					},
					ProductData: product,
				},
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"subscription_id": req.Reference},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

// GetSubscription retrieves subscription details.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (billing.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return billing.ProviderSubscription{}, err
	}
	return billing.ProviderSubscription{
		ID:               s.ID,
		Status:           string(s.Status),
		CurrentPeriodEnd: unix(s.CurrentPeriodEnd),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps the event.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (billing.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return billing.Event{}, apperrors.Wrap(apperrors.TypeInvalidArgument, "invalid webhook signature", err)
	}
	return mapEvent(event)
}

func mapEvent(event stripe.Event) (billing.Event, error) {
	ev := billing.Event{ID: event.ID, Type: billing.EventType(event.Type)}
	if event.Data == nil {
		return ev, nil
	}

	switch ev.Type {
	case billing.EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return ev, apperrors.Parsing("invalid checkout session payload", err)
		}
		ev.Reference = cs.ClientReferenceID
		if ev.Reference == "" {
			ev.Reference = cs.Metadata["subscription_id"]
		}
		if cs.Subscription != nil {
			ev.ProviderSubscriptionID = cs.Subscription.ID
		}

	case billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var s stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return ev, apperrors.Parsing("invalid subscription payload", err)
		}
		ev.Reference = s.Metadata["subscription_id"]
		ev.ProviderSubscriptionID = s.ID
		ev.ProviderStatus = string(s.Status)
		ev.CurrentPeriodEnd = unix(s.CurrentPeriodEnd)

	case billing.EventPaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return ev, apperrors.Parsing("invalid invoice payload", err)
		}
		if inv.Subscription != nil {
			ev.ProviderSubscriptionID = inv.Subscription.ID
		}
	}
	return ev, nil
}

func unix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
