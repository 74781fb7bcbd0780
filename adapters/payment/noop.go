package payment

import (
	"context"

	"autowatch/core/billing"
	apperrors "autowatch/internal/errors"
)

// ErrPaymentsDisabled is returned when payments are not configured.
var ErrPaymentsDisabled = apperrors.New(apperrors.TypeNotSupported, "payments are not configured")

// NoopProvider is a no-op payment provider for when payments are disabled.
// Free plans still check out; paid plans are refused.
type NoopProvider struct{}

// NewNoopProvider creates a new no-op payment provider.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

// Name returns the provider name.
func (p *NoopProvider) Name() string {
	return "noop"
}

// CreateCheckoutSession returns an error as payments are disabled.
func (p *NoopProvider) CreateCheckoutSession(context.Context, billing.SessionRequest) (billing.Session, error) {
	return billing.Session{}, ErrPaymentsDisabled
}

// GetSubscription returns an error as payments are disabled.
func (p *NoopProvider) GetSubscription(context.Context, string) (billing.ProviderSubscription, error) {
	return billing.ProviderSubscription{}, ErrPaymentsDisabled
}

// ParseWebhook returns an error as payments are disabled.
func (p *NoopProvider) ParseWebhook([]byte, string) (billing.Event, error) {
	return billing.Event{}, ErrPaymentsDisabled
}
