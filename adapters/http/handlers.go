package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"autowatch/adapters/registration"
	"autowatch/core/billing"
	"autowatch/core/monitor"
	"autowatch/core/pricing"
	"autowatch/core/retry"
	"autowatch/core/types"
	"autowatch/core/vehicle"
	apperrors "autowatch/internal/errors"
)

// QuoteResponse is a priced request ready for display
type QuoteResponse struct {
	Vehicles      int            `json:"vehicles"`
	APIAccess     bool           `json:"api_access"`
	BillingCycle  string         `json:"billing_cycle"`
	Plan          string         `json:"plan"`
	Amount        string         `json:"amount"`
	AmountCents   int64          `json:"amount_cents"`
	Monthly       string         `json:"monthly"`
	Display       string         `json:"display"`
	Currency      types.Currency `json:"currency"`
	AddOn         string         `json:"add_on"`
	AddOnBundled  bool           `json:"add_on_bundled"`
	Enterprise    bool           `json:"enterprise"`
	CheckInterval string         `json:"check_interval"`
	RetentionDays int            `json:"retention_days"`
}

// PlanResponse describes what a quantity buys
type PlanResponse struct {
	ID            string `json:"id"`
	From          int    `json:"from"`
	UpTo          int    `json:"up_to,omitempty"`
	CheckInterval string `json:"check_interval"`
	CheckEvery    string `json:"check_every"`
	RetentionDays int    `json:"retention_days"`
	Enterprise    bool   `json:"enterprise"`
}

func planResponse(p pricing.Plan) PlanResponse {
	return PlanResponse{
		ID:            p.ID,
		From:          p.From,
		UpTo:          p.UpTo,
		CheckInterval: p.Frequency.Label,
		CheckEvery:    p.Frequency.Interval.String(),
		RetentionDays: int(p.Retention / (24 * time.Hour)),
		Enterprise:    p.Enterprise,
	}
}

// RegistrationResponse is a registration record with its vehicle view
type RegistrationResponse struct {
	registration.Record
	Vehicle vehicle.Vehicle `json:"vehicle"`
}

func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *Adapter) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	vehicles, err := strconv.Atoi(q.Get("vehicles"))
	if err != nil {
		a.writeAppError(w, apperrors.InvalidArgument("vehicles must be an integer, got %q", q.Get("vehicles")))
		return
	}
	apiAccess := false
	if s := q.Get("api_access"); s != "" {
		if apiAccess, err = strconv.ParseBool(s); err != nil {
			a.writeAppError(w, apperrors.InvalidArgument("api_access must be a boolean, got %q", s))
			return
		}
	}
	cycleParam := q.Get("billing_cycle")
	if cycleParam == "" {
		cycleParam = string(pricing.Monthly)
	}
	cycle, err := pricing.ParseBillingCycle(cycleParam)
	if err != nil {
		a.writeAppError(w, err)
		return
	}

	calc := a.deps.Calculator
	res, err := calc.Calculate(pricing.Request{Quantity: vehicles, IncludeAddOn: apiAccess, BillingCycle: cycle})
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	plan, err := calc.Tariff().PlanFor(vehicles)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.deps.Metrics.QuoteServed(res.Plan, string(cycle))

	a.writeJSON(w, http.StatusOK, QuoteResponse{
		Vehicles:      vehicles,
		APIAccess:     apiAccess,
		BillingCycle:  string(cycle),
		Plan:          res.Plan,
		Amount:        res.Amount.StringFixed(2),
		AmountCents:   res.Cents(),
		Monthly:       res.Monthly.StringFixed(2),
		Display:       res.Money().Display(),
		Currency:      res.Currency,
		AddOn:         res.AddOn.StringFixed(2),
		AddOnBundled:  res.AddOnBundled,
		Enterprise:    res.Enterprise,
		CheckInterval: plan.Frequency.Label,
		RetentionDays: int(plan.Retention / (24 * time.Hour)),
	})
}

func (a *Adapter) handlePlan(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "vehicles")
	vehicles, err := strconv.Atoi(raw)
	if err != nil {
		a.writeAppError(w, apperrors.InvalidArgument("vehicles must be an integer, got %q", raw))
		return
	}
	plan, err := a.deps.Calculator.Tariff().PlanFor(vehicles)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, planResponse(plan))
}

func (a *Adapter) handleTariff(w http.ResponseWriter, r *http.Request) {
	t := a.deps.Calculator.Tariff()
	plans := make([]PlanResponse, 0, len(t.Bands)+1)
	for _, p := range t.Plans() {
		plans = append(plans, planResponse(p))
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"currency":            t.Currency,
		"add_on":              t.AddOnName,
		"add_on_price":        t.AddOnPrice.StringFixed(2),
		"add_on_max_vehicles": t.AddOnMaxQuantity,
		"annual_discount":     t.AnnualDiscount.String(),
		"max_self_service":    t.MaxSelfService(),
		"rows":                t.Table(),
		"plans":               plans,
	})
}

func (a *Adapter) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if a.deps.Billing == nil {
		a.writeAppError(w, apperrors.NotSupported("checkout"))
		return
	}

	var req billing.CheckoutRequest
	if err := a.parseJSON(r, &req); err != nil {
		a.writeAppError(w, err)
		return
	}
	if base := strings.TrimRight(a.config.PublicURL, "/"); base != "" {
		if req.SuccessURL == "" {
			req.SuccessURL = base + "/billing/success"
		}
		if req.CancelURL == "" {
			req.CancelURL = base + "/billing/cancel"
		}
	}

	res, err := a.deps.Billing.Checkout(r.Context(), req)
	if err != nil {
		a.deps.Metrics.CheckoutAttempted("", "error")
		a.writeAppError(w, err)
		return
	}
	a.deps.Metrics.CheckoutAttempted(res.Subscription.PlanID, string(res.Subscription.Status))
	a.writeJSON(w, http.StatusCreated, res)
}

func (a *Adapter) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	if a.deps.Billing == nil || a.deps.Gateway == nil {
		a.writeAppError(w, apperrors.NotSupported("billing webhooks"))
		return
	}

	defer r.Body.Close()
	payload, err := a.readBody(r)
	if err != nil {
		a.writeAppError(w, err)
		return
	}

	ev, err := a.deps.Gateway.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		a.logger.Warn("rejected billing webhook", zap.Error(err))
		a.deps.Metrics.WebhookReceived("unknown", "rejected")
		a.writeAppError(w, err)
		return
	}

	sub, applied, err := a.deps.Billing.ApplyEvent(r.Context(), ev)
	switch {
	case apperrors.IsType(err, apperrors.TypeNotFound):
		// not one of ours; acknowledge so the provider stops redelivering
		a.logger.Info("billing event for unknown subscription",
			zap.String("event", ev.ID),
			zap.String("type", string(ev.Type)))
		a.deps.Metrics.WebhookReceived(string(ev.Type), "unknown_subscription")
		a.writeJSON(w, http.StatusOK, map[string]interface{}{"received": true, "applied": false})
		return
	case err != nil:
		a.deps.Metrics.WebhookReceived(string(ev.Type), "error")
		a.writeAppError(w, err)
		return
	}

	result := "ignored"
	if applied {
		result = "applied"
	}
	a.deps.Metrics.WebhookReceived(string(ev.Type), result)

	resp := map[string]interface{}{"received": true, "applied": applied}
	if applied {
		resp["subscription_id"] = sub.ID
		resp["status"] = sub.Status
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *Adapter) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	await, _ := strconv.ParseBool(r.URL.Query().Get("await"))
	if !await || a.deps.Billing == nil {
		if a.deps.Subscriptions == nil {
			a.writeAppError(w, apperrors.NotSupported("subscriptions"))
			return
		}
		sub, err := a.deps.Subscriptions.GetSubscription(r.Context(), id)
		if err != nil {
			a.writeAppError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, sub)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.config.AwaitTimeout)
	defer cancel()

	sub, err := a.deps.Billing.AwaitActive(ctx, id)
	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		a.writeJSON(w, http.StatusOK, sub)
	case sub.ID != "" && (errors.As(err, &exhausted) || errors.Is(err, context.DeadlineExceeded)):
		// still pending; the client may poll again
		a.writeJSON(w, http.StatusAccepted, sub)
	default:
		a.writeAppError(w, err)
	}
}

type trackBody struct {
	Listing string          `json:"listing"`
	Vehicle vehicle.Vehicle `json:"vehicle"`
}

func (a *Adapter) handleTrackListing(w http.ResponseWriter, r *http.Request) {
	if a.deps.Tracker == nil {
		a.writeAppError(w, apperrors.NotSupported("listing tracking"))
		return
	}

	var body trackBody
	if err := a.parseJSON(r, &body); err != nil {
		a.writeAppError(w, err)
		return
	}

	listing, err := a.deps.Tracker.Track(r.Context(), monitor.TrackRequest{
		SubscriptionID: chi.URLParam(r, "id"),
		Listing:        body.Listing,
		Vehicle:        body.Vehicle,
	})
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, listing)
}

func (a *Adapter) handleListingPrices(w http.ResponseWriter, r *http.Request) {
	if a.deps.Tracker == nil {
		a.writeAppError(w, apperrors.NotSupported("listing tracking"))
		return
	}

	history, err := a.deps.Tracker.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, history)
}

func (a *Adapter) handleRegistration(w http.ResponseWriter, r *http.Request) {
	if a.deps.Registrations == nil {
		a.writeAppError(w, apperrors.NotSupported("registration lookup"))
		return
	}

	rec, err := a.deps.Registrations.Lookup(r.Context(), chi.URLParam(r, "plate"))
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, RegistrationResponse{Record: rec, Vehicle: rec.Vehicle()})
}
