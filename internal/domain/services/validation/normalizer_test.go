package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"nq1!", "NQ"},
		{" CME_MINI:NQ1! ", "NQ"},
		{"BINANCE:btcusdt", "BTCUSDT"},
		{"EUR/USD", "EURUSD"},
		{"ＥＵＲＵＳＤ", "EURUSD"},
		{"aapl", "AAPL"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSymbol(tt.in))
		})
	}
}

func TestDetectAssetClass(t *testing.T) {
	tests := map[string]entities.AssetClass{
		"NQ":      entities.AssetClassFutures,
		"MGC":     entities.AssetClassFutures,
		"EURUSD":  entities.AssetClassForex,
		"BTCUSD":  entities.AssetClassCrypto,
		"BTCUSDT": entities.AssetClassCrypto,
		"SOLETH":  entities.AssetClassCrypto,
		"AAPL":    entities.AssetClassStocks,
	}
	for symbol, want := range tests {
		t.Run(symbol, func(t *testing.T) {
			assert.Equal(t, want, DetectAssetClass(symbol))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	want := time.Date(2024, 2, 13, 12, 34, 56, 0, time.UTC)

	for _, raw := range []string{"2024-02-13T12:34:56Z", "2024-02-13 12:34:56", "1707827696", "1707827696000"} {
		got, ok := ParseTimestamp(raw, now)
		assert.True(t, ok, raw)
		assert.True(t, want.Equal(got), "%s -> %s", raw, got)
	}

	got, ok := ParseTimestamp("", now)
	assert.True(t, ok)
	assert.Equal(t, now, got)

	got, ok = ParseTimestamp("soon", now)
	assert.False(t, ok)
	assert.Equal(t, now, got)
}

func TestNormalize(t *testing.T) {
	sub := submission()
	sub.Direction = "SELL"
	sub.AssetClass = "other"
	sub.EntryPrice = dp("100")
	sub.StopLoss = dp("104")
	sub.TakeProfit1 = dp("90")
	sub.Strategy = "  breakout "
	sub.ExternalID = "tv-42"

	sig, findings, err := Normalize(sub, testNow)
	require.NoError(t, err)

	assert.Empty(t, findings.Errors)
	assert.Equal(t, "NQ", sig.Symbol)
	assert.Equal(t, entities.DirectionShort, sig.Direction)
	assert.Equal(t, entities.AssetClassOther, sig.AssetClass)
	assert.Equal(t, entities.SignalSourceAPI, sig.Source)
	assert.True(t, sig.RiskDistance.Equal(*dp("4")))
	assert.True(t, sig.RRRatio.Equal(*dp("2.5")))
	require.NotNil(t, sig.Strategy)
	assert.Equal(t, "breakout", *sig.Strategy)
	require.NotNil(t, sig.ExternalID)
	assert.Equal(t, "tv-42", *sig.ExternalID)
	assert.Equal(t, entities.SignalStatusPending, sig.Status)
}

func TestNormalize_Unrepresentable(t *testing.T) {
	sub := submission()
	sub.Direction = "sideways"
	_, _, err := Normalize(sub, testNow)
	assert.True(t, domainerrors.IsValidation(err))

	sub = submission()
	sub.Symbol = " / "
	_, _, err = Normalize(sub, testNow)
	assert.True(t, domainerrors.IsValidation(err))
}
