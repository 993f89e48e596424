package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/services/lifecycle"
)

var futuresRoots = map[string]struct{}{
	"NQ": {}, "MNQ": {}, "ES": {}, "MES": {}, "YM": {}, "MYM": {},
	"RTY": {}, "M2K": {}, "GC": {}, "MGC": {}, "CL": {}, "MCL": {},
	"SI": {}, "SIL": {}, "ZB": {}, "ZN": {}, "ZW": {}, "ZC": {},
}

// cryptoBases catches six-letter crypto pairs such as BTCUSD that would
// otherwise look like forex.
var cryptoBases = map[string]struct{}{
	"BTC": {}, "ETH": {}, "SOL": {}, "XRP": {}, "ADA": {}, "BNB": {},
	"LTC": {}, "DOT": {}, "TRX": {}, "XLM": {}, "UNI": {}, "LNK": {},
}

var cryptoQuotes = []string{"USDT", "BUSD", "USDC", "USD", "BTC", "ETH"}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NormalizeSymbol folds width and case, strips an exchange prefix
// ("BINANCE:BTCUSDT"), pair separators ("EUR/USD") and a continuous
// contract suffix ("NQ1!").
func NormalizeSymbol(raw string) string {
	s := width.Narrow.String(strings.TrimSpace(raw))
	s = cases.Upper(language.Und).String(s)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(s)
	if n := len(s); n >= 2 && s[n-1] == '!' && s[n-2] >= '0' && s[n-2] <= '9' {
		s = s[:n-2]
	}
	return s
}

// DetectAssetClass infers the asset class from a normalized symbol.
func DetectAssetClass(symbol string) entities.AssetClass {
	if _, ok := futuresRoots[symbol]; ok {
		return entities.AssetClassFutures
	}
	if isLetters(symbol) && len(symbol) == 6 {
		if _, ok := cryptoBases[symbol[:3]]; ok {
			return entities.AssetClassCrypto
		}
		return entities.AssetClassForex
	}
	for _, q := range cryptoQuotes {
		if len(symbol) > len(q) && strings.HasSuffix(symbol, q) {
			return entities.AssetClassCrypto
		}
	}
	return entities.AssetClassStocks
}

// NormalizeDirection maps LONG/BUY and SHORT/SELL onto a direction.
func NormalizeDirection(raw string) (entities.Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return entities.DirectionLong, true
	case "SHORT", "SELL":
		return entities.DirectionShort, true
	}
	return "", false
}

// ParseTimestamp accepts RFC3339 variants and unix epochs in seconds or
// milliseconds. ok is false when the input was present but unparseable, in
// which case now is returned.
func ParseTimestamp(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
		if f >= 1e12 {
			return time.UnixMilli(int64(f)).UTC(), true
		}
		if f < 1e10 {
			sec := int64(f)
			return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), true
		}
	}
	return now.UTC(), false
}

// Findings are hard errors and soft warnings collected while checking a signal.
type Findings struct {
	Errors   []string
	Warnings []string
}

func (f *Findings) errorf(format string, args ...interface{}) {
	f.Errors = append(f.Errors, fmt.Sprintf(format, args...))
}

func (f *Findings) warnf(format string, args ...interface{}) {
	f.Warnings = append(f.Warnings, fmt.Sprintf(format, args...))
}

// Normalize converts a raw submission into a canonical PENDING signal. It
// returns an error only when the submission cannot be represented at all (no
// symbol or an unknown direction). Missing price levels are reported as
// findings so the signal can still be retained as INVALID.
func Normalize(sub *entities.SignalSubmission, now time.Time) (*entities.Signal, Findings, error) {
	var findings Findings
	symbol := NormalizeSymbol(sub.Symbol)
	if symbol == "" {
		return nil, findings, domainerrors.ValidationError("symbol", "symbol is empty after normalization")
	}
	direction, ok := NormalizeDirection(sub.Direction)
	if !ok {
		return nil, findings, domainerrors.ValidationError("direction", fmt.Sprintf("unknown direction %q, expected LONG/BUY or SHORT/SELL", sub.Direction))
	}

	assetClass := entities.AssetClass(strings.ToUpper(strings.TrimSpace(sub.AssetClass)))
	if !assetClass.Valid() {
		assetClass = DetectAssetClass(symbol)
	}

	entryTime, parsed := ParseTimestamp(sub.Timestamp, now)
	if !parsed {
		findings.warnf("unparseable timestamp %q, using receive time", sub.Timestamp)
	}
	if sub.EntryPrice == nil {
		findings.errorf("entry_price is required")
	}
	if sub.StopLoss == nil {
		findings.errorf("stop_loss is required")
	}
	if sub.TakeProfit1 == nil {
		findings.errorf("take_profit_1 is required")
	}

	source := sub.Source
	if source == "" {
		source = entities.SignalSourceAPI
	}

	sig := &entities.Signal{
		ID:          uuid.New(),
		ProviderID:  sub.ProviderID,
		Source:      source,
		Symbol:      symbol,
		AssetClass:  assetClass,
		Direction:   direction,
		EntryPrice:  deref(sub.EntryPrice),
		StopLoss:    deref(sub.StopLoss),
		TakeProfit1: deref(sub.TakeProfit1),
		Status:      entities.SignalStatusPending,
		EntryTime:   entryTime,
		RawPayload:  types.JSONText("{}"),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if sub.TakeProfit2 != nil {
		sig.TakeProfit2 = decimal.NewNullDecimal(*sub.TakeProfit2)
	}
	if sub.TakeProfit3 != nil {
		sig.TakeProfit3 = decimal.NewNullDecimal(*sub.TakeProfit3)
	}
	if s := strings.TrimSpace(sub.Strategy); s != "" {
		sig.Strategy = &s
	}
	if s := strings.TrimSpace(sub.Timeframe); s != "" {
		sig.Timeframe = &s
	}
	if s := strings.TrimSpace(sub.ExternalID); s != "" {
		sig.ExternalID = &s
	}
	if len(sub.Raw) > 0 {
		sig.RawPayload = types.JSONText(sub.Raw)
	}

	sig.RiskDistance = lifecycle.RiskDistance(sig.EntryPrice, sig.StopLoss)
	sig.RRRatio = lifecycle.RRRatio(sig.EntryPrice, sig.StopLoss, sig.TakeProfit1)
	return sig, findings, nil
}

func deref(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return s != ""
}
