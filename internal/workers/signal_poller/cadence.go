package signal_poller

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	"github.com/signal-bridge/signal_service/internal/domain/services/lifecycle"
)

// CadenceStrategy decides how long to wait before the next poll of a signal.
type CadenceStrategy interface {
	NextInterval(signal *entities.Signal, price decimal.Decimal) time.Duration
}

// CadenceConfig configures ProximityCadence.
type CadenceConfig struct {
	CloseInterval time.Duration
	MidInterval   time.Duration
	FarInterval   time.Duration
	CloseRatio    decimal.Decimal
	MidRatio      decimal.Decimal
	PastTP1Factor float64
	MinInterval   time.Duration
	MaxInterval   time.Duration
}

func DefaultCadenceConfig() CadenceConfig {
	return CadenceConfig{
		CloseInterval: 5 * time.Second,
		MidInterval:   15 * time.Second,
		FarInterval:   60 * time.Second,
		CloseRatio:    decimal.RequireFromString("0.10"),
		MidRatio:      decimal.RequireFromString("0.30"),
		PastTP1Factor: 2,
		MinInterval:   time.Second,
		MaxInterval:   300 * time.Second,
	}
}

// ProximityCadence polls more often the closer price is to the nearest
// level the signal is waiting on, measured in units of |tp1 - stop|.
type ProximityCadence struct {
	cfg CadenceConfig
}

func NewProximityCadence(cfg CadenceConfig) *ProximityCadence {
	def := DefaultCadenceConfig()
	if cfg.CloseInterval <= 0 {
		cfg.CloseInterval = def.CloseInterval
	}
	if cfg.MidInterval <= 0 {
		cfg.MidInterval = def.MidInterval
	}
	if cfg.FarInterval <= 0 {
		cfg.FarInterval = def.FarInterval
	}
	if cfg.CloseRatio.Sign() <= 0 {
		cfg.CloseRatio = def.CloseRatio
	}
	if cfg.MidRatio.Sign() <= 0 {
		cfg.MidRatio = def.MidRatio
	}
	if cfg.PastTP1Factor < 1 {
		cfg.PastTP1Factor = def.PastTP1Factor
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = def.MaxInterval
	}
	return &ProximityCadence{cfg: cfg}
}

// Ratio is the distance to the nearest level divided by |tp1 - stop|.
func (c *ProximityCadence) Ratio(signal *entities.Signal, price decimal.Decimal) decimal.Decimal {
	span := signal.TakeProfit1.Sub(signal.StopLoss).Abs()
	if span.IsZero() {
		return decimal.Zero
	}
	level := lifecycle.NearestLevel(signal, price)
	return price.Sub(level).Abs().Div(span)
}

func (c *ProximityCadence) NextInterval(signal *entities.Signal, price decimal.Decimal) time.Duration {
	ratio := c.Ratio(signal, price)

	var d time.Duration
	switch {
	case ratio.LessThanOrEqual(c.cfg.CloseRatio):
		d = c.cfg.CloseInterval
	case ratio.LessThanOrEqual(c.cfg.MidRatio):
		d = c.cfg.MidInterval
	default:
		d = c.cfg.FarInterval
	}
	if signal.Status.TPLevel() >= 1 {
		d = time.Duration(float64(d) * c.cfg.PastTP1Factor)
	}

	if d < c.cfg.MinInterval {
		return c.cfg.MinInterval
	}
	if d > c.cfg.MaxInterval {
		return c.cfg.MaxInterval
	}
	return d
}
