package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// SignalStatus is the lifecycle state of a signal
type SignalStatus string

const (
	SignalStatusPending SignalStatus = "PENDING"
	SignalStatusActive  SignalStatus = "ACTIVE"
	SignalStatusTP1Hit  SignalStatus = "TP1_HIT"
	SignalStatusTP2Hit  SignalStatus = "TP2_HIT"
	SignalStatusTP3Hit  SignalStatus = "TP3_HIT"
	SignalStatusSLHit   SignalStatus = "SL_HIT"
	SignalStatusClosed  SignalStatus = "CLOSED"
	SignalStatusInvalid SignalStatus = "INVALID"
)

// AllSignalStatuses lists every status in lifecycle order.
var AllSignalStatuses = []SignalStatus{
	SignalStatusPending,
	SignalStatusActive,
	SignalStatusTP1Hit,
	SignalStatusTP2Hit,
	SignalStatusTP3Hit,
	SignalStatusSLHit,
	SignalStatusClosed,
	SignalStatusInvalid,
}

// PollableStatuses are the statuses the poll scheduler selects.
var PollableStatuses = []SignalStatus{
	SignalStatusPending,
	SignalStatusActive,
	SignalStatusTP1Hit,
	SignalStatusTP2Hit,
}

func (s SignalStatus) Valid() bool {
	switch s {
	case SignalStatusPending, SignalStatusActive, SignalStatusTP1Hit, SignalStatusTP2Hit,
		SignalStatusTP3Hit, SignalStatusSLHit, SignalStatusClosed, SignalStatusInvalid:
		return true
	}
	return false
}

// IsTerminal reports whether the status accepts no further transitions.
func (s SignalStatus) IsTerminal() bool {
	switch s {
	case SignalStatusTP3Hit, SignalStatusSLHit, SignalStatusClosed, SignalStatusInvalid:
		return true
	case SignalStatusPending, SignalStatusActive, SignalStatusTP1Hit, SignalStatusTP2Hit:
		return false
	}
	return false
}

// IsInTrade reports whether the entry has been filled and the position is still open.
func (s SignalStatus) IsInTrade() bool {
	switch s {
	case SignalStatusActive, SignalStatusTP1Hit, SignalStatusTP2Hit:
		return true
	}
	return false
}

// TPLevel returns the take-profit level a status represents, or 0.
func (s SignalStatus) TPLevel() int {
	switch s {
	case SignalStatusTP1Hit:
		return 1
	case SignalStatusTP2Hit:
		return 2
	case SignalStatusTP3Hit:
		return 3
	}
	return 0
}

// Direction is the side of the trade
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign is +1 for LONG and -1 for SHORT.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// AssetClass drives price routing and validation thresholds
type AssetClass string

const (
	AssetClassFutures AssetClass = "FUTURES"
	AssetClassForex   AssetClass = "FOREX"
	AssetClassCrypto  AssetClass = "CRYPTO"
	AssetClassStocks  AssetClass = "STOCKS"
	AssetClassOther   AssetClass = "OTHER"
)

func (a AssetClass) Valid() bool {
	switch a {
	case AssetClassFutures, AssetClassForex, AssetClassCrypto, AssetClassStocks, AssetClassOther:
		return true
	}
	return false
}

// EventType labels an entry in the signal event log
type EventType string

const (
	EventTypeEntryRegistered  EventType = "ENTRY_REGISTERED"
	EventTypeEntryHit         EventType = "ENTRY_HIT"
	EventTypeTP1Hit           EventType = "TP1_HIT"
	EventTypeTP2Hit           EventType = "TP2_HIT"
	EventTypeTP3Hit           EventType = "TP3_HIT"
	EventTypeSLHit            EventType = "SL_HIT"
	EventTypePriceUpdate      EventType = "PRICE_UPDATE"
	EventTypeManualClose      EventType = "MANUAL_CLOSE"
	EventTypeExpired          EventType = "EXPIRED"
	EventTypeValidationFailed EventType = "VALIDATION_FAILED"
)

// AllEventTypes lists the event types webhooks may subscribe to.
var AllEventTypes = []EventType{
	EventTypeEntryRegistered,
	EventTypeEntryHit,
	EventTypeTP1Hit,
	EventTypeTP2Hit,
	EventTypeTP3Hit,
	EventTypeSLHit,
	EventTypePriceUpdate,
	EventTypeManualClose,
	EventTypeExpired,
	EventTypeValidationFailed,
}

func (e EventType) Valid() bool {
	switch e {
	case EventTypeEntryRegistered, EventTypeEntryHit, EventTypeTP1Hit, EventTypeTP2Hit,
		EventTypeTP3Hit, EventTypeSLHit, EventTypePriceUpdate, EventTypeManualClose,
		EventTypeExpired, EventTypeValidationFailed:
		return true
	}
	return false
}

// TargetStatus is the status an event moves a signal into. Events that do not
// change status return the empty string.
func (e EventType) TargetStatus() SignalStatus {
	switch e {
	case EventTypeEntryHit:
		return SignalStatusActive
	case EventTypeTP1Hit:
		return SignalStatusTP1Hit
	case EventTypeTP2Hit:
		return SignalStatusTP2Hit
	case EventTypeTP3Hit:
		return SignalStatusTP3Hit
	case EventTypeSLHit:
		return SignalStatusSLHit
	case EventTypeManualClose, EventTypeExpired:
		return SignalStatusClosed
	case EventTypeValidationFailed:
		return SignalStatusInvalid
	case EventTypeEntryRegistered, EventTypePriceUpdate:
		return ""
	}
	return ""
}

// EventSource names the subsystem that produced an event
type EventSource string

const (
	EventSourceValidator  EventSource = "VALIDATOR"
	EventSourcePoller     EventSource = "POLLER"
	EventSourceManual     EventSource = "MANUAL"
	EventSourceExpiry     EventSource = "EXPIRY"
	EventSourceHistorical EventSource = "HISTORICAL"
)

// SignalSource is where a submission came from
type SignalSource string

const (
	SignalSourceAPI         SignalSource = "API"
	SignalSourceTradingView SignalSource = "TRADINGVIEW"
	SignalSourceManual      SignalSource = "MANUAL"
)

// Signal is the aggregate root of the engine. Status and the outcome fields
// are a projection of the event log.
type Signal struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	ProviderID uuid.UUID    `json:"provider_id" db:"provider_id"`
	ExternalID *string      `json:"external_id,omitempty" db:"external_id"`
	Strategy   *string      `json:"strategy,omitempty" db:"strategy"`
	Timeframe  *string      `json:"timeframe,omitempty" db:"timeframe"`
	Source     SignalSource `json:"source" db:"source"`

	Symbol     string     `json:"symbol" db:"symbol"`
	AssetClass AssetClass `json:"asset_class" db:"asset_class"`
	Direction  Direction  `json:"direction" db:"direction"`

	EntryPrice   decimal.Decimal     `json:"entry_price" db:"entry_price"`
	StopLoss     decimal.Decimal     `json:"stop_loss" db:"stop_loss"`
	TakeProfit1  decimal.Decimal     `json:"take_profit_1" db:"take_profit_1"`
	TakeProfit2  decimal.NullDecimal `json:"take_profit_2" db:"take_profit_2"`
	TakeProfit3  decimal.NullDecimal `json:"take_profit_3" db:"take_profit_3"`
	RiskDistance decimal.Decimal     `json:"risk_distance" db:"risk_distance"`
	RRRatio      decimal.Decimal     `json:"rr_ratio" db:"rr_ratio"`

	Status      SignalStatus `json:"status" db:"status"`
	MaxTPHit    int          `json:"max_tp_hit" db:"max_tp_hit"`
	EntryTime   time.Time    `json:"entry_time" db:"entry_time"`
	ActivatedAt *time.Time   `json:"activated_at,omitempty" db:"activated_at"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty" db:"closed_at"`
	CloseReason *EventType   `json:"close_reason,omitempty" db:"close_reason"`

	ExitPrice    decimal.NullDecimal `json:"exit_price" db:"exit_price"`
	RValue       decimal.NullDecimal `json:"r_value" db:"r_value"`
	PnLPct       decimal.NullDecimal `json:"pnl_pct" db:"pnl_pct"`
	MaxFavorable decimal.NullDecimal `json:"max_favorable" db:"max_favorable"`
	MaxAdverse   decimal.NullDecimal `json:"max_adverse" db:"max_adverse"`
	LastPrice    decimal.NullDecimal `json:"last_price" db:"last_price"`
	LastPriceAt  *time.Time          `json:"last_price_at,omitempty" db:"last_price_at"`

	NextPollAt   *time.Time `json:"next_poll_at,omitempty" db:"next_poll_at"`
	PollFailures int        `json:"poll_failures" db:"poll_failures"`

	RawPayload           types.JSONText `json:"raw_payload,omitempty" db:"raw_payload"`
	ValidationErrors     pq.StringArray `json:"validation_errors" db:"validation_errors"`
	ValidationWarnings   pq.StringArray `json:"validation_warnings" db:"validation_warnings"`
	ValidationConfidence int            `json:"validation_confidence" db:"validation_confidence"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TakeProfit returns the take-profit price for level 1..3 and whether it is set.
func (s *Signal) TakeProfit(level int) (decimal.Decimal, bool) {
	switch level {
	case 1:
		return s.TakeProfit1, true
	case 2:
		return s.TakeProfit2.Decimal, s.TakeProfit2.Valid
	case 3:
		return s.TakeProfit3.Decimal, s.TakeProfit3.Valid
	}
	return decimal.Zero, false
}

// SignalEvent is one append-only entry in the signal's history.
type SignalEvent struct {
	ID        uuid.UUID           `json:"id" db:"id"`
	Sequence  int64               `json:"sequence" db:"seq"`
	SignalID  uuid.UUID           `json:"signal_id" db:"signal_id"`
	EventType EventType           `json:"event_type" db:"event_type"`
	Price     decimal.NullDecimal `json:"price" db:"price"`
	Source    EventSource         `json:"source" db:"source"`
	EventTime time.Time           `json:"event_time" db:"event_time"`
	Metadata  types.JSONText      `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
}

// NewSignalEvent builds an event with a fresh id. Metadata is marshalled as
// JSON; a nil map yields an empty object.
func NewSignalEvent(signalID uuid.UUID, eventType EventType, price *decimal.Decimal, source EventSource, at time.Time, metadata map[string]interface{}) SignalEvent {
	ev := SignalEvent{
		ID:        uuid.New(),
		SignalID:  signalID,
		EventType: eventType,
		Source:    source,
		EventTime: at.UTC(),
		Metadata:  types.JSONText("{}"),
	}
	if price != nil {
		ev.Price = decimal.NewNullDecimal(*price)
	}
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			ev.Metadata = types.JSONText(b)
		}
	}
	return ev
}

// PriceSnapshot is an audit record of an externally observed price.
type PriceSnapshot struct {
	ID           uuid.UUID           `json:"id" db:"id"`
	Symbol       string              `json:"symbol" db:"symbol"`
	Price        decimal.Decimal     `json:"price" db:"price"`
	Bid          decimal.NullDecimal `json:"bid" db:"bid"`
	Ask          decimal.NullDecimal `json:"ask" db:"ask"`
	Source       string              `json:"source" db:"source"`
	SnapshotTime time.Time           `json:"snapshot_time" db:"snapshot_time"`
}

// PriceQuote is what a price source returns.
type PriceQuote struct {
	Symbol     string              `json:"symbol"`
	AssetClass AssetClass          `json:"asset_class"`
	Price      decimal.Decimal     `json:"price"`
	Bid        decimal.NullDecimal `json:"bid"`
	Ask        decimal.NullDecimal `json:"ask"`
	Timestamp  time.Time           `json:"timestamp"`
	Source     string              `json:"source"`
}

// Snapshot converts a quote into its audit record.
func (q *PriceQuote) Snapshot() *PriceSnapshot {
	return &PriceSnapshot{
		ID:           uuid.New(),
		Symbol:       q.Symbol,
		Price:        q.Price,
		Bid:          q.Bid,
		Ask:          q.Ask,
		Source:       q.Source,
		SnapshotTime: q.Timestamp,
	}
}

// SignalSubmission is the raw, unvalidated input for a new signal. Price
// fields are pointers so that a missing level can be told apart from zero.
type SignalSubmission struct {
	ProviderID  uuid.UUID        `json:"-"`
	Symbol      string           `json:"symbol" validate:"required,max=32"`
	Direction   string           `json:"direction" validate:"required,max=8"`
	AssetClass  string           `json:"asset_class,omitempty" validate:"omitempty,oneof=FUTURES FOREX CRYPTO STOCKS OTHER futures forex crypto stocks other"`
	EntryPrice  *decimal.Decimal `json:"entry_price"`
	StopLoss    *decimal.Decimal `json:"stop_loss"`
	TakeProfit1 *decimal.Decimal `json:"take_profit_1"`
	TakeProfit2 *decimal.Decimal `json:"take_profit_2,omitempty"`
	TakeProfit3 *decimal.Decimal `json:"take_profit_3,omitempty"`
	Strategy    string           `json:"strategy,omitempty" validate:"max=128"`
	Timeframe   string           `json:"timeframe,omitempty" validate:"max=16"`
	ExternalID  string           `json:"external_id,omitempty" validate:"max=128"`
	Timestamp   string           `json:"timestamp,omitempty"`
	Source      SignalSource     `json:"-"`
	Raw         json.RawMessage  `json:"-"`
}

// SubmissionResult is returned by signal submission. It never carries a raw
// storage error; rejections are expressed through Errors.
type SubmissionResult struct {
	Signal     *Signal  `json:"signal"`
	Accepted   bool     `json:"accepted"`
	Duplicate  bool     `json:"duplicate"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	Confidence int      `json:"confidence"`
}

// SignalFilter narrows signal listings.
type SignalFilter struct {
	ProviderID *uuid.UUID
	Symbol     string
	Status     *SignalStatus
	Limit      int
	Offset     int
}

// SignalDetail is a signal with its full event timeline.
type SignalDetail struct {
	Signal *Signal        `json:"signal"`
	Events []*SignalEvent `json:"events"`
}
