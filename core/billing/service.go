package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autowatch/core/pricing"
	"autowatch/core/retry"
	apperrors "autowatch/internal/errors"
)

// CheckoutRequest is what a customer submits to subscribe. The server
// recomputes the amount from these values and never accepts one from the
// client.
type CheckoutRequest struct {
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email"`
	Vehicles      int    `json:"vehicles"`
	APIAccess     bool   `json:"api_access"`
	BillingCycle  string `json:"billing_cycle"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
}

// CheckoutResult tells the client where to go next
type CheckoutResult struct {
	Subscription Subscription   `json:"subscription"`
	SessionID    string         `json:"session_id,omitempty"`
	URL          string         `json:"url"`
	Quote        pricing.Result `json:"quote"`
}

// Service coordinates checkout, provider events and activation polling
type Service struct {
	calc    *pricing.Calculator
	gateway Gateway
	store   Store
	relay   Relay
	refresh retry.Policy
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string

	relayMu     sync.Mutex
	relayQueue  chan relayJob
	relayClosed bool
	relayDone   chan struct{}
	relayCtx    context.Context
	relayCancel context.CancelFunc
}

type relayJob struct {
	ev  Event
	sub Subscription
}

// RelayQueueSize bounds the events waiting to be relayed
const RelayQueueSize = 256

// Option configures a Service
type Option func(*Service)

// WithRelay forwards applied events
func WithRelay(r Relay) Option {
	return func(s *Service) { s.relay = r }
}

// WithRefreshPolicy sets the activation polling policy
func WithRefreshPolicy(p retry.Policy) Option {
	return func(s *Service) { s.refresh = p }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time and ID sources, for tests
func WithClock(now func() time.Time, newID func() string) Option {
	return func(s *Service) {
		s.now = now
		s.newID = newID
	}
}

// NewService creates a billing service
func NewService(calc *pricing.Calculator, gateway Gateway, store Store, opts ...Option) *Service {
	s := &Service{
		calc:    calc,
		gateway: gateway,
		store:   store,
		refresh: retry.DefaultPolicy(),
		logger:  zap.NewNop(),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.relay != nil {
		s.relayQueue = make(chan relayJob, RelayQueueSize)
		s.relayDone = make(chan struct{})
		s.relayCtx, s.relayCancel = context.WithCancel(context.Background())
		go s.runRelay()
	}
	return s
}

// runRelay forwards queued events one at a time. Each delivery runs on a
// context detached from the webhook request, so the provider is acknowledged
// without waiting on the relay's retries.
func (s *Service) runRelay() {
	defer close(s.relayDone)
	for job := range s.relayQueue {
		if err := s.relay.Relay(s.relayCtx, job.ev, job.sub); err != nil {
			s.logger.Error("relay failed", zap.String("event", job.ev.ID), zap.Error(err))
		}
	}
}

func (s *Service) enqueueRelay(ev Event, sub Subscription) {
	if s.relayQueue == nil {
		return
	}
	s.relayMu.Lock()
	defer s.relayMu.Unlock()
	if s.relayClosed {
		s.logger.Warn("relay stopped, dropping event", zap.String("event", ev.ID))
		return
	}
	select {
	case s.relayQueue <- relayJob{ev: ev, sub: sub}:
	default:
		s.logger.Warn("relay queue full, dropping event",
			zap.String("event", ev.ID),
			zap.String("subscription", sub.ID))
	}
}

// Shutdown stops accepting relay work and waits for queued events to be
// delivered. When ctx ends first, in-flight deliveries are cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.relayQueue == nil {
		return nil
	}
	s.relayMu.Lock()
	if !s.relayClosed {
		s.relayClosed = true
		close(s.relayQueue)
	}
	s.relayMu.Unlock()

	select {
	case <-s.relayDone:
		s.relayCancel()
		return nil
	case <-ctx.Done():
		s.relayCancel()
		<-s.relayDone
		return apperrors.Wrap(apperrors.TypeNetwork, "relay queue not drained before shutdown", ctx.Err())
	}
}

// Checkout validates and prices the request, opens a provider checkout
// session for paid plans and records a pending subscription. Free plans are
// activated immediately; the enterprise band is refused.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return CheckoutResult{}, apperrors.InvalidArgument("customer_id is required")
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		return CheckoutResult{}, apperrors.InvalidArgument("success_url and cancel_url are required")
	}
	cycle, err := pricing.ParseBillingCycle(req.BillingCycle)
	if err != nil {
		return CheckoutResult{}, err
	}

	quote, err := s.calc.Calculate(pricing.Request{
		Quantity:     req.Vehicles,
		IncludeAddOn: req.APIAccess,
		BillingCycle: cycle,
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	if quote.Enterprise {
		return CheckoutResult{}, apperrors.Newf(apperrors.TypeNotSupported,
			"plans above %d vehicles are arranged with sales", s.calc.Tariff().MaxSelfService())
	}

	now := s.now().UTC()
	sub := Subscription{
		ID:            s.newID(),
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		PlanID:        quote.Plan,
		Vehicles:      req.Vehicles,
		APIAccess:     req.APIAccess && quote.AddOn.IsPositive() || quote.AddOnBundled,
		BillingCycle:  cycle,
		AmountCents:   quote.Cents(),
		Currency:      quote.Currency,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	result := CheckoutResult{Quote: quote}

	if sub.AmountCents == 0 {
		sub.Status = StatusActive
		if err := s.store.CreateSubscription(ctx, sub); err != nil {
			return CheckoutResult{}, err
		}
		result.Subscription = sub
		result.URL = req.SuccessURL
		s.logger.Info("free plan activated", zap.String("subscription", sub.ID), zap.String("customer", sub.CustomerID))
		return result, nil
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, SessionRequest{
		Reference:     sub.ID,
		CustomerEmail: req.CustomerEmail,
		PlanID:        quote.Plan,
		Description:   describe(quote),
		AmountCents:   sub.AmountCents,
		Currency:      quote.Currency,
		Interval:      Interval(cycle),
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		Metadata: map[string]string{
			"subscription_id": sub.ID,
			"customer_id":     sub.CustomerID,
			"plan_id":         quote.Plan,
			"vehicles":        strconv.Itoa(req.Vehicles),
			"api_access":      strconv.FormatBool(sub.APIAccess),
			"billing_cycle":   string(cycle),
		},
	})
	if err != nil {
		return CheckoutResult{}, apperrors.Network("failed to create checkout session", err)
	}

	sub.CheckoutSessionID = session.ID
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return CheckoutResult{}, err
	}

	s.logger.Info("checkout session created",
		zap.String("subscription", sub.ID),
		zap.String("plan", sub.PlanID),
		zap.Int64("amount_cents", sub.AmountCents),
		zap.String("cycle", string(cycle)))

	result.Subscription = sub
	result.SessionID = session.ID
	result.URL = session.URL
	return result, nil
}

func describe(q pricing.Result) string {
	desc := fmt.Sprintf("%s plan, %d vehicles, billed %s", q.Plan, q.Request.Quantity, q.Request.BillingCycle)
	if q.AddOn.IsPositive() {
		desc += ", API access"
	}
	return desc
}

// ApplyEvent updates the subscription an event refers to. It reports false
// for event types we do not handle and for transitions out of cancelled.
func (s *Service) ApplyEvent(ctx context.Context, ev Event) (Subscription, bool, error) {
	var next Status
	switch ev.Type {
	case EventCheckoutCompleted:
		next = StatusActive
	case EventSubscriptionUpdated:
		next = MapProviderStatus(ev.ProviderStatus)
	case EventSubscriptionDeleted:
		next = StatusCancelled
	case EventPaymentFailed:
		next = StatusPastDue
	default:
		s.logger.Debug("ignoring billing event", zap.String("type", string(ev.Type)), zap.String("event", ev.ID))
		return Subscription{}, false, nil
	}

	sub, err := s.lookup(ctx, ev)
	if err != nil {
		return Subscription{}, false, err
	}
	if !canTransition(sub.Status, next) {
		s.logger.Warn("refusing transition",
			zap.String("subscription", sub.ID),
			zap.String("from", string(sub.Status)),
			zap.String("to", string(next)))
		return sub, false, nil
	}

	sub.Status = next
	if ev.ProviderSubscriptionID != "" {
		sub.ProviderID = ev.ProviderSubscriptionID
	}
	if !ev.CurrentPeriodEnd.IsZero() {
		end := ev.CurrentPeriodEnd.UTC()
		sub.CurrentPeriodEnd = &end
	}
	sub.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return Subscription{}, false, err
	}

	s.logger.Info("billing event applied",
		zap.String("event", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("subscription", sub.ID),
		zap.String("status", string(sub.Status)))

	s.enqueueRelay(ev, sub)
	return sub, true, nil
}

func (s *Service) lookup(ctx context.Context, ev Event) (Subscription, error) {
	if ev.Reference != "" {
		return s.store.GetSubscription(ctx, ev.Reference)
	}
	if ev.ProviderSubscriptionID != "" {
		return s.store.GetSubscriptionByProviderID(ctx, ev.ProviderSubscriptionID)
	}
	return Subscription{}, apperrors.InvalidArgument("event %s carries no subscription reference", ev.ID)
}

var errStillPending = errors.New("subscription not active yet")

// AwaitActive polls until the subscription is active, following the refresh
// policy. It consults the provider once the provider ID is known, so it
// converges even when a webhook is delayed or lost.
func (s *Service) AwaitActive(ctx context.Context, id string) (Subscription, error) {
	var sub Subscription
	policy := s.refresh.WithLogger(s.logger, "await_active")

	err := policy.Do(ctx, func(ctx context.Context) error {
		current, err := s.store.GetSubscription(ctx, id)
		if err != nil {
			if apperrors.IsType(err, apperrors.TypeNotFound) {
				return retry.Permanent(err)
			}
			return err
		}
		sub = current

		if current.Status == StatusCancelled {
			return retry.Permanent(apperrors.Newf(apperrors.TypeNotSupported, "subscription %s was cancelled", id))
		}
		if current.IsActive() {
			return nil
		}
		if current.ProviderID == "" {
			return errStillPending
		}

		remote, err := s.gateway.GetSubscription(ctx, current.ProviderID)
		if err != nil {
			return err
		}
		status := MapProviderStatus(remote.Status)
		if status == current.Status {
			return errStillPending
		}

		current.Status = status
		if !remote.CurrentPeriodEnd.IsZero() {
			end := remote.CurrentPeriodEnd.UTC()
			current.CurrentPeriodEnd = &end
		}
		current.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateSubscription(ctx, current); err != nil {
			return err
		}
		sub = current

		if !current.IsActive() {
			return errStillPending
		}
		return nil
	})
	if err != nil {
		return sub, err
	}
	return sub, nil
}
