package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

// Field aliases accepted from TradingView alert templates, in priority order.
var (
	symbolFields     = []string{"symbol", "ticker", "instrument"}
	directionFields  = []string{"direction", "side", "action"}
	entryFields      = []string{"entry", "entry_price", "price", "open", "entry_level"}
	stopFields       = []string{"sl", "stop_loss", "stoploss", "stop", "stop_level", "sl_price"}
	timestampFields  = []string{"timestamp", "time", "timenow"}
	strategyFields   = []string{"strategy", "strategy_name", "alert"}
	timeframeFields  = []string{"timeframe", "interval"}
	externalIDFields = []string{"external_id", "id", "alert_id", "signal_id"}
	assetClassFields = []string{"asset_class", "market"}
)

func takeProfitFields(level int) []string {
	fields := []string{
		fmt.Sprintf("tp%d", level),
		fmt.Sprintf("take_profit_%d", level),
		fmt.Sprintf("takeprofit%d", level),
		fmt.Sprintf("target%d", level),
		fmt.Sprintf("t%d", level),
		fmt.Sprintf("tp%d_price", level),
		fmt.Sprintf("profit_%d", level),
		fmt.Sprintf("tp_%d", level),
	}
	if level == 1 {
		fields = append(fields, "tp", "take_profit", "target")
	}
	return fields
}

// TradingViewAlert is a parsed alert body.
type TradingViewAlert struct {
	Submission  *entities.SignalSubmission
	ProviderKey string
}

// ParseTradingView decodes a TradingView alert with flexible field names.
// Prices may be JSON numbers or numeric strings. The raw body is kept on the
// submission for audit.
func ParseTradingView(body []byte) (*TradingViewAlert, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, domainerrors.ValidationError("body", "alert body must be a JSON object")
	}
	lowered := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		lowered[strings.ToLower(strings.TrimSpace(k))] = v
	}

	sub := &entities.SignalSubmission{
		Symbol:     pickString(lowered, symbolFields),
		Direction:  pickString(lowered, directionFields),
		AssetClass: pickString(lowered, assetClassFields),
		Strategy:   pickString(lowered, strategyFields),
		Timeframe:  pickString(lowered, timeframeFields),
		ExternalID: pickString(lowered, externalIDFields),
		Timestamp:  pickString(lowered, timestampFields),
		Source:     entities.SignalSourceTradingView,
		Raw:        json.RawMessage(body),
	}
	if !entities.AssetClass(strings.ToUpper(sub.AssetClass)).Valid() {
		sub.AssetClass = ""
	}

	var err error
	if sub.EntryPrice, err = pickDecimal(lowered, entryFields); err != nil {
		return nil, err
	}
	if sub.StopLoss, err = pickDecimal(lowered, stopFields); err != nil {
		return nil, err
	}
	if sub.TakeProfit1, err = pickDecimal(lowered, takeProfitFields(1)); err != nil {
		return nil, err
	}
	if sub.TakeProfit2, err = pickDecimal(lowered, takeProfitFields(2)); err != nil {
		return nil, err
	}
	if sub.TakeProfit3, err = pickDecimal(lowered, takeProfitFields(3)); err != nil {
		return nil, err
	}

	return &TradingViewAlert{
		Submission:  sub,
		ProviderKey: pickString(lowered, []string{"provider_key", "api_key"}),
	}, nil
}

func pickString(fields map[string]interface{}, names []string) string {
	for _, name := range names {
		v, ok := fields[name]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case json.Number:
			return t.String()
		}
	}
	return ""
}

// pickDecimal returns nil when none of the names is present or all are
// empty. A present but non-numeric value is a validation error.
func pickDecimal(fields map[string]interface{}, names []string) (*decimal.Decimal, error) {
	for _, name := range names {
		v, ok := fields[name]
		if !ok || v == nil {
			continue
		}
		var raw string
		switch t := v.(type) {
		case json.Number:
			raw = t.String()
		case string:
			raw = strings.TrimSpace(t)
			if raw == "" {
				continue
			}
		default:
			return nil, domainerrors.ValidationError(name, "must be a number")
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, domainerrors.ValidationError(name, fmt.Sprintf("invalid number %q", raw))
		}
		return &d, nil
	}
	return nil, nil
}
