package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatsPeriod identifies a stored rollup window
type StatsPeriod string

const (
	StatsPeriodAllTime StatsPeriod = "all_time"
	StatsPeriod30d     StatsPeriod = "30d"
	StatsPeriod7d      StatsPeriod = "7d"
)

// StoredPeriods are recomputed by the aggregator on every run.
var StoredPeriods = []StatsPeriod{StatsPeriodAllTime, StatsPeriod30d, StatsPeriod7d}

// Window returns the trailing window of the period. Zero means all time.
func (p StatsPeriod) Window() time.Duration {
	switch p {
	case StatsPeriod30d:
		return 30 * 24 * time.Hour
	case StatsPeriod7d:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Rollup is the aggregate performance of a set of closed signals.
type Rollup struct {
	TotalSignals int `json:"total_signals"`
	Wins         int `json:"wins"`
	Losses       int `json:"losses"`
	Partials     int `json:"partials"`
	Breakevens   int `json:"breakevens"`

	TP1Hits    int             `json:"tp1_hits"`
	TP2Hits    int             `json:"tp2_hits"`
	TP3Hits    int             `json:"tp3_hits"`
	TP1HitRate decimal.Decimal `json:"tp1_hit_rate"`
	TP2HitRate decimal.Decimal `json:"tp2_hit_rate"`
	TP3HitRate decimal.Decimal `json:"tp3_hit_rate"`

	WinRate  decimal.Decimal `json:"win_rate"`
	LossRate decimal.Decimal `json:"loss_rate"`

	TotalR       decimal.Decimal `json:"total_r"`
	AvgR         decimal.Decimal `json:"avg_r"`
	BestR        decimal.Decimal `json:"best_r"`
	WorstR       decimal.Decimal `json:"worst_r"`
	AvgWinR      decimal.Decimal `json:"avg_win_r"`
	AvgLossR     decimal.Decimal `json:"avg_loss_r"`
	Expectancy   decimal.Decimal `json:"expectancy"`
	ProfitFactor decimal.Decimal `json:"profit_factor"`
	MaxDrawdownR decimal.Decimal `json:"max_drawdown_r"`
	Sharpe       decimal.Decimal `json:"sharpe"`

	AvgDurationSeconds   int64      `json:"avg_duration_seconds"`
	MaxConsecutiveWins   int        `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int        `json:"max_consecutive_losses"`
	FirstClosedAt        *time.Time `json:"first_closed_at,omitempty"`
	LastClosedAt         *time.Time `json:"last_closed_at,omitempty"`
}

func (r Rollup) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *Rollup) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	case nil:
		*r = Rollup{}
		return nil
	}
	return fmt.Errorf("unsupported rollup column type %T", src)
}

// ProviderStats is a stored rollup for one provider and period.
type ProviderStats struct {
	ProviderID   uuid.UUID       `json:"provider_id" db:"provider_id"`
	Period       StatsPeriod     `json:"period" db:"period"`
	TotalSignals int             `json:"total_signals" db:"total_signals"`
	WinRate      decimal.Decimal `json:"win_rate" db:"win_rate"`
	TotalR       decimal.Decimal `json:"total_r" db:"total_r"`
	Rollup       Rollup          `json:"rollup" db:"metrics"`
	ComputedAt   time.Time       `json:"computed_at" db:"computed_at"`
}

// LeaderboardEntry is one ranked provider.
type LeaderboardEntry struct {
	Rank         int             `json:"rank"`
	ProviderID   uuid.UUID       `json:"provider_id"`
	ProviderName string          `json:"provider_name"`
	TotalSignals int             `json:"total_signals"`
	WinRate      decimal.Decimal `json:"win_rate"`
	TotalR       decimal.Decimal `json:"total_r"`
	Expectancy   decimal.Decimal `json:"expectancy"`
	ProfitFactor decimal.Decimal `json:"profit_factor"`
	Sharpe       decimal.Decimal `json:"sharpe"`
}

// Leaderboard is a ranked list over a period.
type Leaderboard struct {
	Period      string              `json:"period"`
	GeneratedAt time.Time           `json:"generated_at"`
	Entries     []*LeaderboardEntry `json:"entries"`
}

// PerformanceReport is a provider rollup over a trailing window.
type PerformanceReport struct {
	ProviderID   uuid.UUID `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
	Days         int       `json:"days"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Rollup       Rollup    `json:"metrics"`
}

// EquityPoint is the cumulative R after one closed signal.
type EquityPoint struct {
	Timestamp   time.Time       `json:"timestamp"`
	SignalID    uuid.UUID       `json:"signal_id"`
	RValue      decimal.Decimal `json:"r_value"`
	CumulativeR decimal.Decimal `json:"cumulative_r"`
	TradeCount  int             `json:"trade_count"`
	WinCount    int             `json:"win_count"`
	LossCount   int             `json:"loss_count"`
}

// EquityCurve is cumulative R over time for one provider.
type EquityCurve struct {
	ProviderID   uuid.UUID      `json:"provider_id"`
	ProviderName string         `json:"provider_name"`
	Days         int            `json:"days"`
	Points       []*EquityPoint `json:"points"`
	StartDate    *time.Time     `json:"start_date,omitempty"`
	EndDate      *time.Time     `json:"end_date,omitempty"`
}
