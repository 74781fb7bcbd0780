package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autowatch/internal/metrics"
)

func TestHelpersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ObserveRequest("GET", "/api/v1/quote", 200, 5*time.Millisecond)
	m.ObserveRequest("GET", "/api/v1/quote", 200, 7*time.Millisecond)
	m.QuoteServed("growth", "monthly")
	m.ScrapeFinished("pro", "error")
	m.Pruned("pro", 3)
	m.Pruned("pro", 0)
	m.RegistrationLookup("hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/v1/quote", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Quotes.WithLabelValues("growth", "monthly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scrapes.WithLabelValues("pro", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PointsPruned.WithLabelValues("pro")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistrationCache.WithLabelValues("hit")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var m *metrics.Collector
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", "/", 200, time.Millisecond)
		m.CheckoutAttempted("growth", "ok")
		m.WebhookReceived("checkout.session.completed", "applied")
		m.PriceChanged("pro")
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := metrics.New()
	m.QuoteServed("starter", "yearly")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `autowatch_quotes_total{cycle="yearly",plan="starter"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
