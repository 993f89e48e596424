package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

func TestBreaker_TripsExactlyAtThreshold(t *testing.T) {
	b := NewBreaker(3)
	cfg := entities.WebhookConfig{IsActive: true, CircuitState: entities.CircuitStateClosed}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var tripped bool
	for i := 1; i <= 2; i++ {
		cfg, tripped = b.OnResult(cfg, false, "HTTP 500", now)
		assert.False(t, tripped, "failure %d", i)
		assert.Equal(t, entities.CircuitStateClosed, cfg.CircuitState)
		assert.True(t, cfg.IsActive)
	}

	cfg, tripped = b.OnResult(cfg, false, "HTTP 500", now)
	assert.True(t, tripped)
	assert.Equal(t, entities.CircuitStateOpen, cfg.CircuitState)
	assert.False(t, cfg.IsActive)
	assert.Equal(t, 3, cfg.ConsecutiveFailures)
	assert.NotNil(t, cfg.DisabledAt)

	cfg, tripped = b.OnResult(cfg, false, "HTTP 500", now)
	assert.False(t, tripped, "an open circuit does not trip again")
	assert.Equal(t, entities.CircuitStateOpen, cfg.CircuitState)
	assert.Equal(t, 3, cfg.ConsecutiveFailures, "late failures keep the tripping count")
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(3)
	cfg := entities.WebhookConfig{IsActive: true, CircuitState: entities.CircuitStateClosed}
	now := time.Now()

	cfg, _ = b.OnResult(cfg, false, "timeout", now)
	cfg, _ = b.OnResult(cfg, false, "timeout", now)
	cfg, _ = b.OnResult(cfg, true, "", now)
	assert.Equal(t, 0, cfg.ConsecutiveFailures)
	assert.Nil(t, cfg.LastError)
	assert.NotNil(t, cfg.LastSentAt)

	cfg, tripped := b.OnResult(cfg, false, "timeout", now)
	assert.False(t, tripped)
	assert.Equal(t, 1, cfg.ConsecutiveFailures)
}

func TestBreaker_OpenStaysOpenUntilReset(t *testing.T) {
	b := NewBreaker(1)
	cfg := entities.WebhookConfig{IsActive: true, CircuitState: entities.CircuitStateClosed}

	cfg, tripped := b.OnResult(cfg, false, "HTTP 502", time.Now())
	assert.True(t, tripped)

	cfg, _ = b.OnResult(cfg, true, "", time.Now())
	assert.Equal(t, entities.CircuitStateOpen, cfg.CircuitState, "success does not close the circuit")
	assert.False(t, cfg.IsActive)
	assert.Equal(t, 1, cfg.ConsecutiveFailures, "late success keeps the failure count")
	if assert.NotNil(t, cfg.LastError) {
		assert.Equal(t, "HTTP 502", *cfg.LastError)
	}

	cfg = b.Reset(cfg)
	assert.Equal(t, entities.CircuitStateClosed, cfg.CircuitState)
	assert.True(t, cfg.IsActive)
	assert.Zero(t, cfg.ConsecutiveFailures)
	assert.Nil(t, cfg.DisabledAt)
}
