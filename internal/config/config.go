// Package config provides configuration management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"autowatch/core/types"
	apperrors "autowatch/internal/errors"
	"autowatch/internal/logging"
)

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version" yaml:"version"`

	// Pricing contains tariff configuration
	Pricing PricingConfig `json:"pricing" yaml:"pricing"`

	// Server contains HTTP server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Database contains storage configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Billing contains payment provider configuration
	Billing BillingConfig `json:"billing" yaml:"billing"`

	// Registration contains vehicle registration lookup configuration
	Registration RegistrationConfig `json:"registration" yaml:"registration"`

	// Monitor contains price monitoring configuration
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`

	// Relay contains outbound billing event relay configuration
	Relay RelayConfig `json:"relay" yaml:"relay"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging" yaml:"logging"`
}

// PricingConfig contains pricing-related settings
type PricingConfig struct {
	// TariffFile overrides the embedded tariff table (HCL)
	TariffFile string `json:"tariff_file,omitempty" yaml:"tariff_file,omitempty"`

	// DisplayCurrency is assumed for scraped prices that carry no currency symbol
	DisplayCurrency types.Currency `json:"display_currency" yaml:"display_currency"`
}

// ServerConfig contains HTTP settings
type ServerConfig struct {
	Address        string        `json:"address" yaml:"address"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	MaxBodySize    int64         `json:"max_body_size" yaml:"max_body_size"`
	AllowedOrigins []string      `json:"allowed_origins" yaml:"allowed_origins"`
	PublicURL      string        `json:"public_url" yaml:"public_url"`
}

// DatabaseConfig contains storage settings
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite"
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific connection string
	DSN string `json:"dsn" yaml:"dsn"`
}

// BillingConfig contains payment provider settings
type BillingConfig struct {
	// Provider is "stripe" or "noop"
	Provider      string `json:"provider" yaml:"provider"`
	SecretKey     string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty" yaml:"webhook_secret,omitempty"`

	// RefreshAttempts bounds subscription polling after checkout
	RefreshAttempts int `json:"refresh_attempts" yaml:"refresh_attempts"`

	// RefreshSchedule is the delay before each polling attempt
	RefreshSchedule []time.Duration `json:"refresh_schedule" yaml:"refresh_schedule"`
}

// RegistrationConfig contains registration lookup settings
type RegistrationConfig struct {
	BaseURL  string        `json:"base_url" yaml:"base_url"`
	APIKey   string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	CacheMax int           `json:"cache_max" yaml:"cache_max"`
}

// MonitorConfig contains scheduled price check settings
type MonitorConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	UserAgent      string        `json:"user_agent" yaml:"user_agent"`
	PriceSelector  string        `json:"price_selector" yaml:"price_selector"`
}

// RelayConfig contains outbound webhook settings
type RelayConfig struct {
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Secret   string `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// Default returns a default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dbPath := filepath.Join(homeDir, ".autowatch", "autowatch.db")

	return &Config{
		Version: "1.0",
		Pricing: PricingConfig{
			DisplayCurrency: types.CurrencyGBP,
		},
		Server: ServerConfig{
			Address:        ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxBodySize:    1 << 20,
			AllowedOrigins: []string{"*"},
			PublicURL:      "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    dbPath,
		},
		Billing: BillingConfig{
			Provider:        "noop",
			RefreshAttempts: 6,
			RefreshSchedule: []time.Duration{
				1 * time.Second,
				2 * time.Second,
				4 * time.Second,
				8 * time.Second,
			},
		},
		Registration: RegistrationConfig{
			BaseURL:  "https://driver-vehicle-licensing.api.gov.uk/vehicle-enquiry/v1",
			Timeout:  10 * time.Second,
			CacheTTL: 24 * time.Hour,
			CacheMax: 1024,
		},
		Monitor: MonitorConfig{
			Enabled:        true,
			RequestTimeout: 20 * time.Second,
			UserAgent:      "autowatch/1.0 (+price-monitor)",
			PriceSelector:  "[data-testid=advert-price], .price, [itemprop=price]",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a JSON or YAML file.
// A missing file yields the defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, config); err != nil {
			return nil, apperrors.Config("failed to parse "+path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, apperrors.Config("failed to read "+path, err)
	}

	config.ApplyEnv(os.LookupEnv)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func decode(path string, data []byte, into *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, into)
	default:
		return json.Unmarshal(data, into)
	}
}

// ApplyEnv overlays secrets and deployment settings from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("AUTOWATCH_STRIPE_SECRET_KEY", &c.Billing.SecretKey)
	set("AUTOWATCH_STRIPE_WEBHOOK_SECRET", &c.Billing.WebhookSecret)
	set("AUTOWATCH_BILLING_PROVIDER", &c.Billing.Provider)
	set("AUTOWATCH_DATABASE_DRIVER", &c.Database.Driver)
	set("AUTOWATCH_DATABASE_DSN", &c.Database.DSN)
	set("AUTOWATCH_REGISTRATION_API_KEY", &c.Registration.APIKey)
	set("AUTOWATCH_RELAY_ENDPOINT", &c.Relay.Endpoint)
	set("AUTOWATCH_RELAY_SECRET", &c.Relay.Secret)
	set("AUTOWATCH_ADDR", &c.Server.Address)
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return apperrors.Newf(apperrors.TypeConfig, "unsupported database driver %q", c.Database.Driver)
	}

	switch c.Billing.Provider {
	case "noop":
	case "stripe":
		if c.Billing.SecretKey == "" {
			return apperrors.New(apperrors.TypeConfig, "billing.secret_key is required for stripe")
		}
	default:
		return apperrors.Newf(apperrors.TypeConfig, "unsupported billing provider %q", c.Billing.Provider)
	}

	if c.Billing.RefreshAttempts < 1 {
		return apperrors.New(apperrors.TypeConfig, "billing.refresh_attempts must be at least 1")
	}
	return nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Global configuration instance
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}
