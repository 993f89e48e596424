package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential wait durations capped at the policy maximum.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     bool
}

func NewBackoff(p Policy) *Backoff {
	return &Backoff{
		initial:    p.InitialBackoff,
		max:        p.MaxBackoff,
		multiplier: p.Multiplier,
		jitter:     p.Jitter,
	}
}

// Calculate returns the wait before the given attempt (1-based):
// initial * multiplier^(attempt-1), capped. Jitter spreads the result
// over [d/2, d].
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.initial) * math.Pow(b.multiplier, float64(attempt-1))
	if d > float64(b.max) || math.IsInf(d, 0) {
		d = float64(b.max)
	}
	if b.jitter {
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}
