// Package http exposes quoting, checkout, billing webhooks, listing tracking
// and registration lookups as a JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"autowatch/adapters/registration"
	"autowatch/core/billing"
	"autowatch/core/monitor"
	"autowatch/core/pricing"
	apperrors "autowatch/internal/errors"
	"autowatch/internal/logging"
	"autowatch/internal/metrics"
)

// Config holds HTTP adapter configuration
type Config struct {
	// Address to listen on
	Address string `json:"address"`

	// ReadTimeout for requests
	ReadTimeout time.Duration `json:"read_timeout"`

	// WriteTimeout for responses
	WriteTimeout time.Duration `json:"write_timeout"`

	// MaxBodySize limits request body size
	MaxBodySize int64 `json:"max_body_size"`

	// AllowedOrigins for CORS; empty disables CORS headers
	AllowedOrigins []string `json:"allowed_origins"`

	// AwaitTimeout bounds ?await=true on subscription reads
	AwaitTimeout time.Duration `json:"await_timeout"`

	// PublicURL is where customers reach the app; checkout return URLs
	// default to pages under it
	PublicURL string `json:"public_url"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Address:        ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxBodySize:    1 << 20,
		AllowedOrigins: []string{"*"},
		AwaitTimeout:   20 * time.Second,
	}
}

// RegistrationLookup resolves number plates
type RegistrationLookup interface {
	Lookup(ctx context.Context, plate string) (registration.Record, error)
}

// Deps are the services the API fronts. Registrations and Metrics may be nil.
type Deps struct {
	Calculator    *pricing.Calculator
	Billing       *billing.Service
	Gateway       billing.Gateway
	Subscriptions billing.Store
	Tracker       *monitor.Tracker
	Registrations RegistrationLookup
	Metrics       *metrics.Collector
}

// Adapter is the HTTP adapter
type Adapter struct {
	deps   Deps
	config *Config
	server *http.Server
	logger *zap.Logger
}

// New creates a new HTTP adapter
func New(deps Deps, config *Config) *Adapter {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Calculator == nil {
		deps.Calculator = pricing.NewCalculator(nil)
	}

	a := &Adapter{
		deps:   deps,
		config: config,
		logger: logging.Named("http"),
	}
	a.server = &http.Server{
		Addr:         config.Address,
		Handler:      a.Router(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return a
}

// Router returns the HTTP handler
func (a *Adapter) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(a.recoveryMiddleware)
	r.Use(a.requestIDMiddleware)
	r.Use(a.loggingMiddleware)
	r.Use(a.corsMiddleware)

	r.Get("/health", a.handleHealth)
	if a.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/quote", a.handleQuote)
		r.Get("/plans/{vehicles}", a.handlePlan)
		r.Get("/tariff", a.handleTariff)
		r.Post("/checkout", a.handleCheckout)
		r.Post("/webhooks/billing", a.handleBillingWebhook)
		r.Get("/subscriptions/{id}", a.handleGetSubscription)
		r.Post("/subscriptions/{id}/listings", a.handleTrackListing)
		r.Get("/listings/{id}/prices", a.handleListingPrices)
		r.Get("/registrations/{plate}", a.handleRegistration)
	})

	return r
}

// Start serves until Shutdown. It returns nil after a graceful shutdown,
// including one that happened before Start.
func (a *Adapter) Start() error {
	a.logger.Info("listening", zap.String("address", a.config.Address))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (a *Adapter) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Middleware

func (a *Adapter) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.config.AllowedOrigins) > 0 {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin(r.Header.Get("Origin")))
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Adapter) allowedOrigin(origin string) string {
	for _, o := range a.config.AllowedOrigins {
		if o == "*" || o == origin {
			return o
		}
	}
	return a.config.AllowedOrigins[0]
}

func (a *Adapter) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (a *Adapter) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		a.deps.Metrics.ObserveRequest(r.Method, route, ww.Status(), elapsed)

		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", r.Header.Get("X-Request-ID")))
	})
}

func (a *Adapter) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				a.logger.Error("panic serving request",
					zap.String("path", r.URL.Path),
					zap.Any("panic", err))
				a.writeAppError(w, apperrors.Internal("internal server error", fmt.Errorf("panic: %v", err)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Helpers

func (a *Adapter) parseJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	body, err := a.readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.Input("invalid request body: " + err.Error())
	}
	return nil
}

func (a *Adapter) readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, a.config.MaxBodySize+1))
	if err != nil {
		return nil, apperrors.InvalidArgument("failed to read body: %v", err)
	}
	if int64(len(body)) > a.config.MaxBodySize {
		return nil, apperrors.InvalidArgument("request body exceeds %d bytes", a.config.MaxBodySize)
	}
	return body, nil
}

func (a *Adapter) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *Adapter) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// writeAppError maps a typed error to a status code
func (a *Adapter) writeAppError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		a.writeJSON(w, status, map[string]interface{}{
			"success": false,
			"error":   appErr.Message,
			"type":    appErr.Type,
		})
		return
	}
	a.writeError(w, status, "internal server error")
}

// StatusFor returns the HTTP status for err
func StatusFor(err error) int {
	switch {
	case apperrors.IsType(err, apperrors.TypeInvalidArgument),
		apperrors.IsType(err, apperrors.TypeInput):
		return http.StatusBadRequest
	case apperrors.IsType(err, apperrors.TypeNotFound):
		return http.StatusNotFound
	case apperrors.IsType(err, apperrors.TypeNotSupported):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
