// Package bootstrap wires configuration into a running application.
package bootstrap

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	httpadapter "autowatch/adapters/http"
	"autowatch/adapters/payment"
	"autowatch/adapters/registration"
	"autowatch/adapters/scraper"
	"autowatch/adapters/storage"
	"autowatch/adapters/webhook"
	"autowatch/core/billing"
	"autowatch/core/monitor"
	"autowatch/core/pricing"
	"autowatch/core/retry"
	"autowatch/internal/config"
	"autowatch/internal/logging"
	"autowatch/internal/metrics"
)

// ShutdownTimeout bounds graceful shutdown
const ShutdownTimeout = 10 * time.Second

// App holds every wired component
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	Calculator    *pricing.Calculator
	Store         *storage.SQLStore
	Gateway       billing.Gateway
	Billing       *billing.Service
	Tracker       *monitor.Tracker
	Monitor       *monitor.Monitor
	Scraper       *scraper.Scraper
	Registrations *registration.Lookup
	Metrics       *metrics.Collector
	HTTP          *httpadapter.Adapter
}

// New builds the application from cfg. The database is opened and migrated.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logging.Named("app"),
		Metrics: metrics.New(),
	}

	tariff := pricing.Default()
	if cfg.Pricing.TariffFile != "" {
		t, err := pricing.Load(cfg.Pricing.TariffFile)
		if err != nil {
			return nil, err
		}
		tariff = t
	}
	a.Calculator = pricing.NewCalculator(tariff)

	store, err := storage.Open(ctx, storage.Backend(cfg.Database.Driver), cfg.Database.DSN, logging.Named("storage"))
	if err != nil {
		return nil, err
	}
	a.Store = store

	gateway, err := payment.NewProvider(cfg.Billing)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.Gateway = gateway

	opts := []billing.Option{
		billing.WithLogger(logging.Named("billing")),
		billing.WithRefreshPolicy(retry.Policy{
			MaxAttempts: cfg.Billing.RefreshAttempts,
			Schedule:    cfg.Billing.RefreshSchedule,
		}),
	}
	if cfg.Relay.Endpoint != "" {
		opts = append(opts, billing.WithRelay(webhook.New(webhook.DefaultConfig(cfg.Relay.Endpoint, cfg.Relay.Secret))))
	}
	a.Billing = billing.NewService(a.Calculator, gateway, store, opts...)
	a.Tracker = monitor.NewTracker(store, store, logging.Named("tracker"))

	a.Scraper = scraper.New(scraper.Config{
		Timeout:   cfg.Monitor.RequestTimeout,
		UserAgent: cfg.Monitor.UserAgent,
		Selector:  cfg.Monitor.PriceSelector,
		Currency:  tariff.Currency,
	})
	a.Monitor = monitor.New(tariff, store, a.Scraper,
		monitor.WithLogger(logging.Named("monitor")),
		monitor.WithMetrics(a.Metrics),
		monitor.WithRequestTimeout(cfg.Monitor.RequestTimeout))

	a.Registrations = registration.New(registration.Config{
		BaseURL:  cfg.Registration.BaseURL,
		APIKey:   cfg.Registration.APIKey,
		Timeout:  cfg.Registration.Timeout,
		CacheTTL: cfg.Registration.CacheTTL,
		CacheMax: cfg.Registration.CacheMax,
	}, a.Metrics)

	httpCfg := httpadapter.DefaultConfig()
	httpCfg.Address = cfg.Server.Address
	httpCfg.ReadTimeout = cfg.Server.ReadTimeout
	httpCfg.WriteTimeout = cfg.Server.WriteTimeout
	httpCfg.MaxBodySize = cfg.Server.MaxBodySize
	httpCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	httpCfg.PublicURL = cfg.Server.PublicURL

	a.HTTP = httpadapter.New(httpadapter.Deps{
		Calculator:    a.Calculator,
		Billing:       a.Billing,
		Gateway:       gateway,
		Subscriptions: store,
		Tracker:       a.Tracker,
		Registrations: a.Registrations,
		Metrics:       a.Metrics,
	}, httpCfg)

	a.Logger.Info("application initialized",
		zap.String("database", cfg.Database.Driver),
		zap.String("billing", gateway.Name()),
		zap.Bool("monitor", cfg.Monitor.Enabled),
		zap.Bool("relay", cfg.Relay.Endpoint != ""))
	return a, nil
}

// Run serves HTTP and, when enabled, runs scheduled price checks until ctx
// is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.Config.Monitor.Enabled {
		if err := a.Monitor.Start(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.HTTP.Start()
	}()

	var runErr error
	select {
	case err := <-errCh:
		runErr = err
	case <-ctx.Done():
		a.Logger.Info("shutting down")
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown stops the scheduler, drains HTTP and closes the database
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Monitor != nil {
		select {
		case <-a.Monitor.Stop().Done():
		case <-ctx.Done():
			a.Logger.Warn("price checks still running at shutdown")
		}
	}
	if a.HTTP != nil {
		if err := a.HTTP.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Billing != nil {
		if err := a.Billing.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	a.Logger.Info("shutdown complete")
	return errors.Join(errs...)
}
