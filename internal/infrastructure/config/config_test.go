package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ENCRYPTION_KEY", "test-key")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/signals?sslmode=disable")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://u:p@db:5432/signals?sslmode=disable", cfg.Database.URL)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	assert.Equal(t, 5*time.Second, cfg.Poller.CloseInterval)
	assert.Equal(t, 15*time.Second, cfg.Poller.MidInterval)
	assert.Equal(t, 60*time.Second, cfg.Poller.FarInterval)
	assert.Equal(t, 300*time.Second, cfg.Poller.MaxInterval)
	assert.Equal(t, 10, cfg.Dispatcher.FailureThreshold)
	assert.Equal(t, 3, cfg.Dispatcher.MaxAttempts)
	assert.Equal(t, 7*24*time.Hour, cfg.Signals.MaxOpenDuration)
	assert.Equal(t, 10*time.Second, cfg.PriceFeeds.CacheTTL)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWT:        JWTConfig{Secret: "s"},
			Security:   SecurityConfig{EncryptionKey: "k"},
			Database:   DatabaseConfig{URL: "postgres://localhost/x"},
			Poller:     PollerConfig{WorkerCount: 1, BatchSize: 1, Lease: 30 * time.Second, PriceTimeout: 5 * time.Second, MinInterval: time.Second, MaxInterval: time.Minute},
			Dispatcher: DispatcherConfig{MaxAttempts: 3, FailureThreshold: 10},
		}
	}
	require.NoError(t, validate(base()))

	tests := map[string]func(*Config){
		"missing jwt secret": func(c *Config) { c.JWT.Secret = "" },
		"missing key":        func(c *Config) { c.Security.EncryptionKey = "" },
		"short lease":        func(c *Config) { c.Poller.Lease = time.Second },
		"no workers":         func(c *Config) { c.Poller.WorkerCount = 0 },
		"zero threshold":     func(c *Config) { c.Dispatcher.FailureThreshold = 0 },
		"kafka no brokers":   func(c *Config) { c.Kafka.Enabled = true },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}
