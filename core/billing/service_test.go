package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autowatch/core/pricing"
	"autowatch/core/retry"
	apperrors "autowatch/internal/errors"
)

type memStore struct {
	mu   sync.Mutex
	subs map[string]Subscription
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[string]Subscription)}
}

func (m *memStore) CreateSubscription(_ context.Context, s Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.ID] = s
	return nil
}

func (m *memStore) GetSubscription(_ context.Context, id string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return Subscription{}, apperrors.NotFound("subscription", id)
	}
	return s, nil
}

func (m *memStore) GetSubscriptionByProviderID(_ context.Context, providerID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ProviderID == providerID {
			return s, nil
		}
	}
	return Subscription{}, apperrors.NotFound("subscription", providerID)
}

func (m *memStore) UpdateSubscription(_ context.Context, s Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID]; !ok {
		return apperrors.NotFound("subscription", s.ID)
	}
	m.subs[s.ID] = s
	return nil
}

type fakeGateway struct {
	sessions []SessionRequest
	statuses []string
	polls    int
	failWith error
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req SessionRequest) (Session, error) {
	if g.failWith != nil {
		return Session{}, g.failWith
	}
	g.sessions = append(g.sessions, req)
	return Session{ID: "cs_1", URL: "https://pay.example/cs_1"}, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (ProviderSubscription, error) {
	status := g.statuses[len(g.statuses)-1]
	if g.polls < len(g.statuses) {
		status = g.statuses[g.polls]
	}
	g.polls++
	return ProviderSubscription{ID: id, Status: status, CurrentPeriodEnd: time.Date(2026, 11, 19, 0, 0, 0, 0, time.UTC)}, nil
}

func (g *fakeGateway) ParseWebhook([]byte, string) (Event, error) {
	return Event{}, errors.New("not used")
}

type recordingRelay struct {
	mu      sync.Mutex
	events  []Event
	release chan struct{}
}

func (r *recordingRelay) Relay(ctx context.Context, ev Event, _ Subscription) error {
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestService(gw Gateway, store Store, opts ...Option) *Service {
	n := 0
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }, func() string {
			n++
			return fmt.Sprintf("sub_%d", n)
		}),
		WithRefreshPolicy(retry.Policy{MaxAttempts: 5, Schedule: []time.Duration{time.Millisecond}}),
	}, opts...)
	return NewService(pricing.NewCalculator(nil), gw, store, opts...)
}

func checkoutRequest(vehicles int, api bool, cycle string) CheckoutRequest {
	return CheckoutRequest{
		CustomerID:    "cus_42",
		CustomerEmail: "driver@example.com",
		Vehicles:      vehicles,
		APIAccess:     api,
		BillingCycle:  cycle,
		SuccessURL:    "https://app.example/ok",
		CancelURL:     "https://app.example/cancel",
	}
}

func TestCheckoutChargesServerComputedAmount(t *testing.T) {
	gw := &fakeGateway{}
	store := newMemStore()
	svc := newTestService(gw, store)

	res, err := svc.Checkout(context.Background(), checkoutRequest(10, true, "monthly"))
	require.NoError(t, err)

	require.Len(t, gw.sessions, 1)
	session := gw.sessions[0]
	assert.Equal(t, int64(1375), session.AmountCents)
	assert.Equal(t, "month", session.Interval)
	assert.Equal(t, "sub_1", session.Reference)
	assert.Equal(t, "growth", session.PlanID)
	assert.Equal(t, "true", session.Metadata["api_access"])

	assert.Equal(t, "https://pay.example/cs_1", res.URL)
	assert.Equal(t, StatusPending, res.Subscription.Status)

	stored, err := store.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", stored.CheckoutSessionID)
	assert.Equal(t, int64(1375), stored.AmountCents)
}

func TestCheckoutYearly(t *testing.T) {
	gw := &fakeGateway{}
	svc := newTestService(gw, newMemStore())

	_, err := svc.Checkout(context.Background(), checkoutRequest(250, false, "yearly"))
	require.NoError(t, err)
	assert.Equal(t, int64(118800), gw.sessions[0].AmountCents)
	assert.Equal(t, "year", gw.sessions[0].Interval)
}

func TestCheckoutFreePlanSkipsProvider(t *testing.T) {
	gw := &fakeGateway{}
	svc := newTestService(gw, newMemStore())

	res, err := svc.Checkout(context.Background(), checkoutRequest(1, true, "monthly"))
	require.NoError(t, err)
	assert.Empty(t, gw.sessions)
	assert.Equal(t, StatusActive, res.Subscription.Status)
	assert.False(t, res.Subscription.APIAccess)
	assert.Equal(t, "https://app.example/ok", res.URL)
}

func TestCheckoutRejections(t *testing.T) {
	svc := newTestService(&fakeGateway{}, newMemStore())
	ctx := context.Background()

	_, err := svc.Checkout(ctx, checkoutRequest(0, false, "monthly"))
	assert.True(t, apperrors.IsType(err, apperrors.TypeInvalidArgument))

	_, err = svc.Checkout(ctx, checkoutRequest(10, false, "fortnightly"))
	assert.True(t, apperrors.IsType(err, apperrors.TypeInvalidArgument))

	_, err = svc.Checkout(ctx, checkoutRequest(400, false, "monthly"))
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotSupported))

	req := checkoutRequest(10, false, "monthly")
	req.CustomerID = " "
	_, err = svc.Checkout(ctx, req)
	assert.True(t, apperrors.IsType(err, apperrors.TypeInvalidArgument))
}

func TestCheckoutProviderFailure(t *testing.T) {
	store := newMemStore()
	svc := newTestService(&fakeGateway{failWith: errors.New("stripe down")}, store)

	_, err := svc.Checkout(context.Background(), checkoutRequest(10, false, "monthly"))
	assert.True(t, apperrors.IsType(err, apperrors.TypeNetwork))
	assert.Empty(t, store.subs)
}

func TestApplyEventLifecycle(t *testing.T) {
	store := newMemStore()
	relay := &recordingRelay{}
	svc := newTestService(&fakeGateway{}, store, WithRelay(relay))
	ctx := context.Background()

	_, err := svc.Checkout(ctx, checkoutRequest(30, false, "monthly"))
	require.NoError(t, err)

	sub, applied, err := svc.ApplyEvent(ctx, Event{ID: "evt_1", Type: EventCheckoutCompleted, Reference: "sub_1", ProviderSubscriptionID: "sub_stripe_9"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, "sub_stripe_9", sub.ProviderID)

	sub, _, err = svc.ApplyEvent(ctx, Event{ID: "evt_2", Type: EventPaymentFailed, ProviderSubscriptionID: "sub_stripe_9"})
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, sub.Status)

	sub, _, err = svc.ApplyEvent(ctx, Event{ID: "evt_3", Type: EventSubscriptionUpdated, ProviderSubscriptionID: "sub_stripe_9", ProviderStatus: "active", CurrentPeriodEnd: fixedNow.AddDate(0, 1, 0)})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)

	sub, _, err = svc.ApplyEvent(ctx, Event{ID: "evt_4", Type: EventSubscriptionDeleted, ProviderSubscriptionID: "sub_stripe_9"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, sub.Status)

	// replayed activation must not revive a cancelled subscription
	sub, applied, err = svc.ApplyEvent(ctx, Event{ID: "evt_1", Type: EventCheckoutCompleted, Reference: "sub_1"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatusCancelled, sub.Status)

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, 4, relay.count())
}

func TestApplyEventDoesNotWaitForRelay(t *testing.T) {
	store := newMemStore()
	relay := &recordingRelay{release: make(chan struct{})}
	svc := newTestService(&fakeGateway{}, store, WithRelay(relay))
	ctx := context.Background()

	_, err := svc.Checkout(ctx, checkoutRequest(30, false, "monthly"))
	require.NoError(t, err)

	start := time.Now()
	_, applied, err := svc.ApplyEvent(ctx, Event{ID: "evt_1", Type: EventCheckoutCompleted, Reference: "sub_1"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, relay.count())

	close(relay.release)
	require.NoError(t, svc.Shutdown(ctx))
	assert.Equal(t, 1, relay.count())
}

func TestShutdownCancelsStuckRelay(t *testing.T) {
	store := newMemStore()
	relay := &recordingRelay{release: make(chan struct{})}
	svc := newTestService(&fakeGateway{}, store, WithRelay(relay))

	_, err := svc.Checkout(context.Background(), checkoutRequest(30, false, "monthly"))
	require.NoError(t, err)
	_, _, err = svc.ApplyEvent(context.Background(), Event{ID: "evt_1", Type: EventCheckoutCompleted, Reference: "sub_1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = svc.Shutdown(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, relay.count())

	// events after shutdown are dropped, not sent on a closed queue
	_, applied, err := svc.ApplyEvent(context.Background(), Event{ID: "evt_2", Type: EventPaymentFailed, Reference: "sub_1"})
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestApplyEventSubscriptionUpdateBeforeCheckoutCompleted(t *testing.T) {
	store := newMemStore()
	svc := newTestService(&fakeGateway{}, store)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, checkoutRequest(30, false, "monthly"))
	require.NoError(t, err)

	sub, applied, err := svc.ApplyEvent(ctx, Event{ID: "evt_2", Type: EventSubscriptionUpdated,
		Reference: "sub_1", ProviderSubscriptionID: "sub_stripe_9", ProviderStatus: "active"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, "sub_stripe_9", sub.ProviderID)

	sub, applied, err = svc.ApplyEvent(ctx, Event{ID: "evt_1", Type: EventCheckoutCompleted, Reference: "sub_1", ProviderSubscriptionID: "sub_stripe_9"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusActive, sub.Status)
}

func TestApplyEventIgnoresUnknownTypes(t *testing.T) {
	svc := newTestService(&fakeGateway{}, newMemStore())
	_, applied, err := svc.ApplyEvent(context.Background(), Event{ID: "evt", Type: "customer.created"})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestApplyEventUnknownSubscription(t *testing.T) {
	svc := newTestService(&fakeGateway{}, newMemStore())
	_, _, err := svc.ApplyEvent(context.Background(), Event{ID: "evt", Type: EventSubscriptionDeleted, ProviderSubscriptionID: "nope"})
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))

	_, _, err = svc.ApplyEvent(context.Background(), Event{ID: "evt", Type: EventSubscriptionDeleted})
	assert.True(t, apperrors.IsType(err, apperrors.TypeInvalidArgument))
}

func TestAwaitActivePollsProvider(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{statuses: []string{"incomplete", "incomplete", "active"}}
	svc := newTestService(gw, store)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, checkoutRequest(10, false, "monthly"))
	require.NoError(t, err)
	sub, _ := store.GetSubscription(ctx, "sub_1")
	sub.ProviderID = "sub_stripe_1"
	require.NoError(t, store.UpdateSubscription(ctx, sub))

	got, err := svc.AwaitActive(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 3, gw.polls)
}

func TestAwaitActiveGivesUp(t *testing.T) {
	store := newMemStore()
	svc := newTestService(&fakeGateway{}, store)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, checkoutRequest(10, false, "monthly"))
	require.NoError(t, err)

	got, err := svc.AwaitActive(ctx, "sub_1")
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, StatusPending, got.Status)
}

func TestAwaitActiveStopsOnMissingSubscription(t *testing.T) {
	svc := newTestService(&fakeGateway{}, newMemStore())
	_, err := svc.AwaitActive(context.Background(), "missing")
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
}

func TestMapProviderStatus(t *testing.T) {
	assert.Equal(t, StatusActive, MapProviderStatus("trialing"))
	assert.Equal(t, StatusPastDue, MapProviderStatus("unpaid"))
	assert.Equal(t, StatusCancelled, MapProviderStatus("canceled"))
	assert.Equal(t, StatusPending, MapProviderStatus("something_new"))
}
