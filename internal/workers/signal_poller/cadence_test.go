package signal_poller

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func activeLong() *entities.Signal {
	return &entities.Signal{
		Direction:   entities.DirectionLong,
		Status:      entities.SignalStatusActive,
		EntryPrice:  d("100"),
		StopLoss:    d("90"),
		TakeProfit1: d("110"),
		TakeProfit2: decimal.NewNullDecimal(d("120")),
	}
}

func TestProximityCadence_Bands(t *testing.T) {
	c := NewProximityCadence(DefaultCadenceConfig())
	sig := activeLong()

	tests := []struct {
		name  string
		price string
		want  time.Duration
	}{
		{"near stop", "91", 5 * time.Second},
		{"near target", "109", 5 * time.Second},
		{"mid", "105", 15 * time.Second},
		{"boundary close", "92", 5 * time.Second},
		{"boundary mid", "96", 15 * time.Second},
		{"midway", "100", 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.NextInterval(sig, d(tt.price)))
		})
	}
}

func TestProximityCadence_PendingUsesEntry(t *testing.T) {
	c := NewProximityCadence(DefaultCadenceConfig())
	sig := activeLong()
	sig.Status = entities.SignalStatusPending

	assert.Equal(t, 5*time.Second, c.NextInterval(sig, d("101")))
	assert.Equal(t, 60*time.Second, c.NextInterval(sig, d("130")))
}

func TestProximityCadence_PastTP1AndClamp(t *testing.T) {
	cfg := DefaultCadenceConfig()
	cfg.MaxInterval = 90 * time.Second
	c := NewProximityCadence(cfg)

	sig := activeLong()
	sig.Status = entities.SignalStatusTP1Hit

	assert.Equal(t, 10*time.Second, c.NextInterval(sig, d("119")))
	assert.Equal(t, 90*time.Second, c.NextInterval(sig, d("105")), "60s doubled is clamped")
}

func TestProximityCadence_MonotoneInDistance(t *testing.T) {
	c := NewProximityCadence(DefaultCadenceConfig())
	sig := activeLong()
	sig.Status = entities.SignalStatusPending

	prev := time.Duration(0)
	for _, p := range []string{"100", "100.5", "102", "104", "107", "150"} {
		got := c.NextInterval(sig, d(p))
		assert.GreaterOrEqual(t, got, prev, "price %s", p)
		prev = got
	}
}
