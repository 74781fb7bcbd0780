// Package monitor re-checks tracked listing prices on the schedule each plan
// buys and prunes price history past the plan's retention window.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autowatch/core/pricing"
	"autowatch/core/types"
	"autowatch/core/vehicle"
	apperrors "autowatch/internal/errors"
	"autowatch/internal/metrics"
)

// Listing is a tracked vehicle advert
type Listing struct {
	ID             string           `json:"id"`
	SubscriptionID string           `json:"subscription_id"`
	URL            string           `json:"url"`
	Vehicle        vehicle.Vehicle  `json:"vehicle"`
	LastPrice      *decimal.Decimal `json:"last_price,omitempty"`
	Currency       types.Currency   `json:"currency,omitempty"`
	LastCheckedAt  *time.Time       `json:"last_checked_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// PricePoint is one observed price of a listing
type PricePoint struct {
	ListingID string          `json:"listing_id"`
	Price     decimal.Decimal `json:"price"`
	Currency  types.Currency  `json:"currency"`
	CheckedAt time.Time       `json:"checked_at"`
}

// Store is the persistence the monitor needs
type Store interface {
	// ListingsForPlan returns listings owned by active subscriptions on plan
	ListingsForPlan(ctx context.Context, planID string) ([]Listing, error)
	AddPricePoint(ctx context.Context, p PricePoint) error
	// MarkChecked records the latest observed price on the listing
	MarkChecked(ctx context.Context, listingID string, price decimal.Decimal, currency types.Currency, at time.Time) error
	// PrunePricePoints deletes points older than before for listings on plan
	PrunePricePoints(ctx context.Context, planID string, before time.Time) (int64, error)
}

// Scraper fetches the current asking price of a listing
type Scraper interface {
	Price(ctx context.Context, listingURL string) (types.Money, error)
}

// Report summarizes one plan run
type Report struct {
	Plan    string `json:"plan"`
	Checked int    `json:"checked"`
	Changed int    `json:"changed"`
	Failed  int    `json:"failed"`
	Pruned  int64  `json:"pruned"`
}

// Monitor schedules and runs price checks
type Monitor struct {
	tariff  *pricing.Tariff
	store   Store
	scraper Scraper
	logger  *zap.Logger
	metrics *metrics.Collector
	timeout time.Duration
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics records run results
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) { m.metrics = c }
}

// WithRequestTimeout bounds each scrape
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor for the plans of t
func New(t *pricing.Tariff, store Store, scraper Scraper, opts ...Option) *Monitor {
	if t == nil {
		t = pricing.Default()
	}
	m := &Monitor{
		tariff:  t,
		store:   store,
		scraper: scraper,
		logger:  zap.NewNop(),
		timeout: 30 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start schedules one job per plan at the plan's check interval. Jobs run
// until Stop; ctx is passed to every run.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return apperrors.New(apperrors.TypeInternal, "monitor already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{m.logger})), cron.WithLogger(cronLogger{m.logger}))
	for _, plan := range m.tariff.Plans() {
		spec := "@every " + plan.Frequency.Interval.String()
		if _, err := c.AddFunc(spec, func() {
			if _, err := m.RunPlan(ctx, plan); err != nil {
				m.logger.Error("price check run failed", zap.String("plan", plan.ID), zap.Error(err))
			}
		}); err != nil {
			return apperrors.Wrapf(apperrors.TypeConfig, err, "failed to schedule plan %s", plan.ID)
		}
		m.logger.Info("scheduled price checks",
			zap.String("plan", plan.ID),
			zap.String("frequency", plan.Frequency.Label))
	}

	c.Start()
	m.cron = c
	return nil
}

// Stop halts scheduling and returns a context done when running jobs finish
func (m *Monitor) Stop() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := m.cron.Stop()
	m.cron = nil
	return ctx
}

// RunPlan checks every listing on plan once, records changed prices and
// prunes history older than the plan's retention. A failed scrape is logged
// and counted; it does not stop the batch.
func (m *Monitor) RunPlan(ctx context.Context, plan pricing.Plan) (Report, error) {
	report := Report{Plan: plan.ID}

	listings, err := m.store.ListingsForPlan(ctx, plan.ID)
	if err != nil {
		return report, err
	}

	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		changed, err := m.check(ctx, l)
		report.Checked++
		switch {
		case err != nil:
			report.Failed++
			m.metrics.ScrapeFinished(plan.ID, "error")
			m.logger.Warn("price check failed",
				zap.String("plan", plan.ID),
				zap.String("listing", l.ID),
				zap.String("url", l.URL),
				zap.Error(err))
		case changed:
			report.Changed++
			m.metrics.ScrapeFinished(plan.ID, "changed")
			m.metrics.PriceChanged(plan.ID)
		default:
			m.metrics.ScrapeFinished(plan.ID, "unchanged")
		}
	}

	if plan.Retention > 0 {
		pruned, err := m.store.PrunePricePoints(ctx, plan.ID, m.now().UTC().Add(-plan.Retention))
		if err != nil {
			return report, err
		}
		report.Pruned = pruned
		m.metrics.Pruned(plan.ID, pruned)
	}

	m.logger.Info("price check run finished",
		zap.String("plan", report.Plan),
		zap.Int("checked", report.Checked),
		zap.Int("changed", report.Changed),
		zap.Int("failed", report.Failed),
		zap.Int64("pruned", report.Pruned))
	return report, nil
}

func (m *Monitor) check(ctx context.Context, l Listing) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	price, err := m.scraper.Price(reqCtx, l.URL)
	if err != nil {
		return false, err
	}

	now := m.now().UTC()
	changed := PriceChanged(l, price)
	if changed {
		if err := m.store.AddPricePoint(ctx, PricePoint{
			ListingID: l.ID,
			Price:     price.Amount,
			Currency:  price.Currency,
			CheckedAt: now,
		}); err != nil {
			return false, err
		}
	}
	if err := m.store.MarkChecked(ctx, l.ID, price.Amount, price.Currency, now); err != nil {
		return false, err
	}
	return changed, nil
}

// PriceChanged reports whether price differs from the last one stored on l.
// The first observation always counts as a change.
func PriceChanged(l Listing, price types.Money) bool {
	if l.LastPrice == nil {
		return true
	}
	if l.Currency != "" && l.Currency != price.Currency {
		return true
	}
	return !l.LastPrice.Equal(price.Amount)
}

type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
