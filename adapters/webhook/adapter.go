// Package webhook relays applied billing events to a downstream endpoint.
// Bodies are signed with HMAC-SHA256 so receivers can verify the sender.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"autowatch/core/billing"
	"autowatch/core/retry"
	apperrors "autowatch/internal/errors"
	"autowatch/internal/logging"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body
const SignatureHeader = "X-Signature"

// Config configures webhook behavior
type Config struct {
	// Endpoint URL
	Endpoint string `json:"endpoint"`

	// Secret for signing; unsigned when empty
	Secret string `json:"secret"`

	// Headers to include
	Headers map[string]string `json:"headers"`

	// Timeout for each request
	Timeout time.Duration `json:"timeout"`

	// Retry bounds redelivery
	Retry retry.Policy `json:"-"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig(endpoint, secret string) *Config {
	return &Config{
		Endpoint: endpoint,
		Secret:   secret,
		Timeout:  10 * time.Second,
		Headers:  make(map[string]string),
		Retry: retry.Policy{
			MaxAttempts: 4,
			Schedule:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
	}
}

// Adapter is the webhook relay
type Adapter struct {
	config *Config
	client *resty.Client
	logger *zap.Logger
}

var _ billing.Relay = (*Adapter)(nil)

// New creates a new webhook adapter
func New(config *Config) *Adapter {
	client := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeaders(config.Headers)

	logger := logging.Named("webhook")
	return &Adapter{
		config: config,
		client: client,
		logger: logger,
	}
}

// Payload is the webhook payload
type Payload struct {
	// Event is the provider event that caused the change
	Event billing.Event `json:"event"`

	// Subscription is the state after the event
	Subscription billing.Subscription `json:"subscription"`

	// Timestamp of delivery
	Timestamp time.Time `json:"timestamp"`
}

// Relay delivers ev and the resulting subscription, retrying per the policy
func (a *Adapter) Relay(ctx context.Context, ev billing.Event, sub billing.Subscription) error {
	body, err := json.Marshal(Payload{
		Event:        ev,
		Subscription: sub,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return apperrors.Wrap(apperrors.TypeInternal, "failed to encode payload", err)
	}

	policy := a.config.Retry.WithLogger(a.logger, "relay "+ev.ID)
	return policy.Do(ctx, func(ctx context.Context) error {
		return a.sendOnce(ctx, body)
	})
}

func (a *Adapter) sendOnce(ctx context.Context, body []byte) error {
	req := a.client.R().
		SetContext(ctx).
		SetBody(body)

	if a.config.Secret != "" {
		req.SetHeader(SignatureHeader, Sign(body, a.config.Secret))
	}

	resp, err := req.Post(a.config.Endpoint)
	if err != nil {
		return apperrors.Network("relay request failed", err)
	}

	switch code := resp.StatusCode(); {
	case code >= http.StatusInternalServerError, code == http.StatusTooManyRequests:
		return apperrors.Network("relay returned "+resp.Status(), nil)
	case code >= http.StatusBadRequest:
		// the receiver rejected the payload; resending will not help
		return retry.Permanent(apperrors.Newf(apperrors.TypeNetwork, "relay returned %d: %s", code, resp.String()))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies an incoming webhook signature
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}
