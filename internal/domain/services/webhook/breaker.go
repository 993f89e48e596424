package webhook

import (
	"time"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// DefaultFailureThreshold is the number of consecutive failed deliveries
// that opens the circuit.
const DefaultFailureThreshold = 10

// Breaker is the per-destination circuit. CLOSED counts consecutive failed
// deliveries and moves to OPEN exactly when the count reaches Threshold.
// OPEN is left only through Reset.
type Breaker struct {
	Threshold int
}

func NewBreaker(threshold int) Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return Breaker{Threshold: threshold}
}

// OnResult applies the final outcome of one delivery and reports whether
// this outcome tripped the circuit. An OPEN circuit is returned unchanged,
// so late results from deliveries already in flight keep the count that
// tripped it.
func (b Breaker) OnResult(cfg entities.WebhookConfig, success bool, errMsg string, at time.Time) (entities.WebhookConfig, bool) {
	if cfg.CircuitState == entities.CircuitStateOpen {
		return cfg, false
	}
	at = at.UTC()
	if success {
		cfg.ConsecutiveFailures = 0
		cfg.LastSentAt = &at
		cfg.LastError = nil
		return cfg, false
	}

	cfg.ConsecutiveFailures++
	if errMsg != "" {
		cfg.LastError = &errMsg
	}

	if cfg.CircuitState != entities.CircuitStateClosed {
		cfg.CircuitState = entities.CircuitStateClosed
	}

	if cfg.ConsecutiveFailures == b.Threshold {
		cfg.CircuitState = entities.CircuitStateOpen
		cfg.IsActive = false
		cfg.DisabledAt = &at
		return cfg, true
	}
	return cfg, false
}

// Reset closes the circuit and re-enables the destination.
func (b Breaker) Reset(cfg entities.WebhookConfig) entities.WebhookConfig {
	cfg.CircuitState = entities.CircuitStateClosed
	cfg.ConsecutiveFailures = 0
	cfg.IsActive = true
	cfg.DisabledAt = nil
	cfg.LastError = nil
	return cfg
}
