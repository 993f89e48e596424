package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// CircuitState is the breaker state of a webhook destination
type CircuitState string

const (
	CircuitStateClosed CircuitState = "CLOSED"
	CircuitStateOpen   CircuitState = "OPEN"
)

// EventTypeSet is a text[] column of subscribed event types.
type EventTypeSet []EventType

// Contains reports whether et is subscribed.
func (s EventTypeSet) Contains(et EventType) bool {
	for _, v := range s {
		if v == et {
			return true
		}
	}
	return false
}

func (s EventTypeSet) Value() (driver.Value, error) {
	arr := make(pq.StringArray, len(s))
	for i, v := range s {
		arr[i] = string(v)
	}
	return arr.Value()
}

func (s *EventTypeSet) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	out := make(EventTypeSet, len(arr))
	for i, v := range arr {
		out[i] = EventType(v)
	}
	*s = out
	return nil
}

// HeaderMap is a JSONB column of custom request headers.
type HeaderMap map[string]string

func (h HeaderMap) Value() (driver.Value, error) {
	if h == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(h)
}

func (h *HeaderMap) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*h = HeaderMap{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported header column type %T", src)
	}
	m := HeaderMap{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*h = m
	return nil
}

// WebhookConfig is an outbound notification destination owned by a provider.
type WebhookConfig struct {
	ID                  uuid.UUID    `json:"id" db:"id"`
	ProviderID          uuid.UUID    `json:"provider_id" db:"provider_id"`
	URL                 string       `json:"url" db:"url"`
	EventTypes          EventTypeSet `json:"event_types" db:"event_types"`
	Headers             HeaderMap    `json:"headers" db:"headers"`
	IsActive            bool         `json:"is_active" db:"is_active"`
	ConsecutiveFailures int          `json:"consecutive_failures" db:"consecutive_failures"`
	CircuitState        CircuitState `json:"circuit_state" db:"circuit_state"`
	DisabledAt          *time.Time   `json:"disabled_at,omitempty" db:"disabled_at"`
	LastSentAt          *time.Time   `json:"last_sent_at,omitempty" db:"last_sent_at"`
	LastError           *string      `json:"last_error,omitempty" db:"last_error"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at" db:"updated_at"`
}

// Subscribes reports whether the config wants this event type. An empty set
// subscribes to everything.
func (c *WebhookConfig) Subscribes(et EventType) bool {
	return len(c.EventTypes) == 0 || c.EventTypes.Contains(et)
}

// NotificationLog records a single delivery attempt.
type NotificationLog struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	WebhookConfigID uuid.UUID      `json:"webhook_config_id" db:"webhook_config_id"`
	SignalID        uuid.UUID      `json:"signal_id" db:"signal_id"`
	EventID         uuid.UUID      `json:"event_id" db:"event_id"`
	EventType       EventType      `json:"event_type" db:"event_type"`
	Payload         types.JSONText `json:"payload" db:"payload"`
	HTTPStatus      *int           `json:"http_status,omitempty" db:"http_status"`
	ResponseExcerpt *string        `json:"response_excerpt,omitempty" db:"response_excerpt"`
	Error           *string        `json:"error,omitempty" db:"error"`
	Attempt         int            `json:"attempt" db:"attempt"`
	Success         bool           `json:"success" db:"success"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// WebhookPayload is the JSON body sent to destinations.
type WebhookPayload struct {
	EventID   uuid.UUID           `json:"event_id"`
	SignalID  uuid.UUID           `json:"signal_id"`
	EventType EventType           `json:"event_type"`
	Price     decimal.NullDecimal `json:"price"`
	Timestamp time.Time           `json:"timestamp"`
	Signal    WebhookSignalView   `json:"signal"`
}

// WebhookSignalView is the signal summary embedded in a payload.
type WebhookSignalView struct {
	ProviderID  uuid.UUID           `json:"provider_id"`
	Symbol      string              `json:"symbol"`
	AssetClass  AssetClass          `json:"asset_class"`
	Direction   Direction           `json:"direction"`
	Status      SignalStatus        `json:"status"`
	EntryPrice  decimal.Decimal     `json:"entry_price"`
	StopLoss    decimal.Decimal     `json:"stop_loss"`
	TakeProfit1 decimal.Decimal     `json:"take_profit_1"`
	TakeProfit2 decimal.NullDecimal `json:"take_profit_2"`
	TakeProfit3 decimal.NullDecimal `json:"take_profit_3"`
	ExitPrice   decimal.NullDecimal `json:"exit_price"`
	RValue      decimal.NullDecimal `json:"r_value"`
	PnLPct      decimal.NullDecimal `json:"pnl_pct"`
	Strategy    *string             `json:"strategy,omitempty"`
}

// NewWebhookPayload builds the payload for a signal event.
func NewWebhookPayload(signal *Signal, event *SignalEvent) WebhookPayload {
	return WebhookPayload{
		EventID:   event.ID,
		SignalID:  signal.ID,
		EventType: event.EventType,
		Price:     event.Price,
		Timestamp: event.EventTime,
		Signal: WebhookSignalView{
			ProviderID:  signal.ProviderID,
			Symbol:      signal.Symbol,
			AssetClass:  signal.AssetClass,
			Direction:   signal.Direction,
			Status:      signal.Status,
			EntryPrice:  signal.EntryPrice,
			StopLoss:    signal.StopLoss,
			TakeProfit1: signal.TakeProfit1,
			TakeProfit2: signal.TakeProfit2,
			TakeProfit3: signal.TakeProfit3,
			ExitPrice:   signal.ExitPrice,
			RValue:      signal.RValue,
			PnLPct:      signal.PnLPct,
			Strategy:    signal.Strategy,
		},
	}
}

// CreateWebhookRequest is the payload for webhook config creation.
type CreateWebhookRequest struct {
	URL        string            `json:"url" validate:"required,url,max=2048"`
	EventTypes []EventType       `json:"event_types"`
	Headers    map[string]string `json:"headers"`
}

// UpdateWebhookRequest changes a webhook config. Nil fields are left unchanged.
type UpdateWebhookRequest struct {
	URL        *string            `json:"url,omitempty" validate:"omitempty,url,max=2048"`
	EventTypes *[]EventType       `json:"event_types,omitempty"`
	Headers    *map[string]string `json:"headers,omitempty"`
	IsActive   *bool              `json:"is_active,omitempty"`
}

// DeliveryOutcome is the final result of delivering one event to one config.
type DeliveryOutcome struct {
	WebhookConfigID uuid.UUID
	Success         bool
	Attempts        int
	StatusCode      int
	Err             error
}

// TestDeliveryResult is returned by a test delivery. Test deliveries are not
// logged and never move the circuit.
type TestDeliveryResult struct {
	Status    string  `json:"status"`
	Code      int     `json:"code"`
	LatencyMS float64 `json:"latency_ms"`
	Message   string  `json:"message,omitempty"`
}
