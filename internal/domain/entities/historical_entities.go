package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Candle is one OHLC bar.
type Candle struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
}

// HistoricalResolveRequest selects the open signals to backtest. From and To
// bound entry_time and are inclusive.
type HistoricalResolveRequest struct {
	ProviderID *uuid.UUID `json:"provider_id,omitempty"`
	Symbol     string     `json:"symbol,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
}

// HistoricalOutcome classifies one backtested signal.
type HistoricalOutcome string

const (
	HistoricalWin      HistoricalOutcome = "WIN"
	HistoricalLoss     HistoricalOutcome = "LOSS"
	HistoricalPartial  HistoricalOutcome = "PARTIAL"
	HistoricalOpen     HistoricalOutcome = "OPEN"
	HistoricalNoFill   HistoricalOutcome = "NO_FILL"
	HistoricalConflict HistoricalOutcome = "CONFLICT"
	HistoricalFailed   HistoricalOutcome = "FAILED"
)

// HistoricalResult is the backtest of one signal.
type HistoricalResult struct {
	SignalID uuid.UUID           `json:"signal_id"`
	Symbol   string              `json:"symbol"`
	Outcome  HistoricalOutcome   `json:"outcome"`
	Status   SignalStatus        `json:"status"`
	Events   []EventType         `json:"events"`
	RValue   decimal.NullDecimal `json:"r_value"`
	Exit     decimal.NullDecimal `json:"exit_price"`
	Candles  int                 `json:"candles"`
}

// HistoricalReport summarises one backtest run.
type HistoricalReport struct {
	Total     int                 `json:"total_signals"`
	Resolved  int                 `json:"resolved"`
	Advanced  int                 `json:"advanced"`
	Unfilled  int                 `json:"unfilled"`
	Failed    int                 `json:"failed"`
	Conflicts int                 `json:"conflicts"`
	Wins      int                 `json:"wins"`
	Losses    int                 `json:"losses"`
	Partials  int                 `json:"partials"`
	WinRate   decimal.Decimal     `json:"win_rate"`
	TotalR    decimal.Decimal     `json:"total_r"`
	Results   []*HistoricalResult `json:"results"`
}
