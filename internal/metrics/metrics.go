// Package metrics provides Prometheus metrics collection for autowatch.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autowatch"

// Collector holds all Prometheus metrics for autowatch.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Pricing metrics
	Quotes *prometheus.CounterVec

	// Billing metrics
	Checkouts     *prometheus.CounterVec
	WebhookEvents *prometheus.CounterVec

	// Monitor metrics
	Scrapes       *prometheus.CounterVec
	PricesChanged *prometheus.CounterVec
	PointsPruned  *prometheus.CounterVec

	// Registration lookup metrics
	RegistrationCache *prometheus.CounterVec
}

// New creates a collector on its own registry, with Go and process
// collectors attached.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c := NewWithRegistry(reg)
	c.registry = reg
	return c
}

// NewWithRegistry creates a collector registering into reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		Quotes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quotes_total",
				Help:      "Total number of price quotes computed",
			},
			[]string{"plan", "cycle"},
		),
		Checkouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkouts_total",
				Help:      "Total number of checkout attempts",
			},
			[]string{"plan", "result"},
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "billing_webhook_events_total",
				Help:      "Total number of billing provider events received",
			},
			[]string{"type", "result"},
		),
		Scrapes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scrapes_total",
				Help:      "Total number of listing price checks",
			},
			[]string{"plan", "result"},
		),
		PricesChanged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_changes_total",
				Help:      "Total number of listing price changes recorded",
			},
			[]string{"plan"},
		),
		PointsPruned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_points_pruned_total",
				Help:      "Total number of price points removed by retention",
			},
			[]string{"plan"},
		),
		RegistrationCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registration_lookups_total",
				Help:      "Registration lookups by cache outcome",
			},
			[]string{"outcome"},
		),
	}
	if r, ok := reg.(*prometheus.Registry); ok {
		c.registry = r
	}
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// QuoteServed records a computed quote.
func (c *Collector) QuoteServed(plan, cycle string) {
	if c == nil {
		return
	}
	c.Quotes.WithLabelValues(plan, cycle).Inc()
}

// CheckoutAttempted records a checkout outcome.
func (c *Collector) CheckoutAttempted(plan, result string) {
	if c == nil {
		return
	}
	c.Checkouts.WithLabelValues(plan, result).Inc()
}

// WebhookReceived records a billing provider event.
func (c *Collector) WebhookReceived(eventType, result string) {
	if c == nil {
		return
	}
	c.WebhookEvents.WithLabelValues(eventType, result).Inc()
}

// ScrapeFinished records one listing price check.
func (c *Collector) ScrapeFinished(plan, result string) {
	if c == nil {
		return
	}
	c.Scrapes.WithLabelValues(plan, result).Inc()
}

// PriceChanged records a stored price change.
func (c *Collector) PriceChanged(plan string) {
	if c == nil {
		return
	}
	c.PricesChanged.WithLabelValues(plan).Inc()
}

// Pruned records price points removed by retention.
func (c *Collector) Pruned(plan string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.PointsPruned.WithLabelValues(plan).Add(float64(n))
}

// RegistrationLookup records a registration cache outcome: hit, miss or mock.
func (c *Collector) RegistrationLookup(outcome string) {
	if c == nil {
		return
	}
	c.RegistrationCache.WithLabelValues(outcome).Inc()
}
