package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "autowatch/internal/errors"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "noop", cfg.Billing.Provider)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autowatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9090"
database:
  driver: postgres
  dsn: postgres://localhost/autowatch
billing:
  provider: stripe
  secret_key: sk_test_123
  refresh_attempts: 3
  refresh_schedule: [500ms, 1s]
monitor:
  request_timeout: 5s
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "sk_test_123", cfg.Billing.SecretKey)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, cfg.Billing.RefreshSchedule)
	assert.Equal(t, 5*time.Second, cfg.Monitor.RequestTimeout)
	// untouched sections keep their defaults
	assert.Equal(t, 1024, cfg.Registration.CacheMax)
}

func TestLoadJSONRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autowatch.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"database":{"driver":"mysql"}}`), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
}

func TestValidateStripeNeedsSecret(t *testing.T) {
	cfg := Default()
	cfg.Billing.Provider = "stripe"
	assert.Error(t, cfg.Validate())

	cfg.Billing.SecretKey = "sk_test"
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AUTOWATCH_STRIPE_SECRET_KEY":    "sk_live_x",
		"AUTOWATCH_DATABASE_DSN":         "file:test.db",
		"AUTOWATCH_REGISTRATION_API_KEY": "",
	}
	cfg := Default()
	cfg.Registration.APIKey = "from-file"
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "sk_live_x", cfg.Billing.SecretKey)
	assert.Equal(t, "file:test.db", cfg.Database.DSN)
	assert.Equal(t, "from-file", cfg.Registration.APIKey)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "autowatch.yml")
	cfg := Default()
	cfg.Server.Address = ":7000"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", loaded.Server.Address)
}
