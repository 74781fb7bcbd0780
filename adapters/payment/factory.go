package payment

import (
	"autowatch/core/billing"
	"autowatch/internal/config"
	apperrors "autowatch/internal/errors"
)

// NewProvider creates a payment provider from billing configuration.
func NewProvider(cfg config.BillingConfig) (billing.Gateway, error) {
	switch cfg.Provider {
	case "stripe":
		if cfg.SecretKey == "" {
			return nil, apperrors.New(apperrors.TypeConfig, "stripe secret key is required")
		}
		return NewStripeProvider(StripeConfig{
			SecretKey:     cfg.SecretKey,
			WebhookSecret: cfg.WebhookSecret,
		}), nil
	case "noop", "":
		return NewNoopProvider(), nil
	default:
		return nil, apperrors.Newf(apperrors.TypeConfig, "unknown payment provider: %s", cfg.Provider)
	}
}
