package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

func TestParseTradingView_FlexibleFields(t *testing.T) {
	body := []byte(`{
		"alert": "Signal",
		"Ticker": "CME_MINI:NQ1!",
		"side": "buy",
		"price": 20150.5,
		"stop": "20050",
		"target1": 20250,
		"take_profit_2": 20350,
		"tp_3": "20450.00",
		"time": "2025-02-13T10:30:00Z",
		"interval": "5",
		"alert_id": "tv-1",
		"provider_key": "sel:verifier"
	}`)

	alert, err := ParseTradingView(body)
	require.NoError(t, err)
	sub := alert.Submission

	assert.Equal(t, "sel:verifier", alert.ProviderKey)
	assert.Equal(t, "CME_MINI:NQ1!", sub.Symbol)
	assert.Equal(t, "buy", sub.Direction)
	assert.Equal(t, "20150.5", sub.EntryPrice.String())
	assert.Equal(t, "20050", sub.StopLoss.String())
	assert.Equal(t, "20250", sub.TakeProfit1.String())
	assert.Equal(t, "20350", sub.TakeProfit2.String())
	assert.Equal(t, "20450", sub.TakeProfit3.String())
	assert.Equal(t, "2025-02-13T10:30:00Z", sub.Timestamp)
	assert.Equal(t, "Signal", sub.Strategy)
	assert.Equal(t, "5", sub.Timeframe)
	assert.Equal(t, "tv-1", sub.ExternalID)
	assert.Equal(t, entities.SignalSourceTradingView, sub.Source)
	assert.JSONEq(t, string(body), string(sub.Raw))
}

func TestParseTradingView_PrefersCanonicalNames(t *testing.T) {
	alert, err := ParseTradingView([]byte(`{"symbol":"ES","direction":"SHORT","entry":5000,"price":4999,"sl":5010,"tp1":4990,"tp":4980}`))
	require.NoError(t, err)
	assert.Equal(t, "5000", alert.Submission.EntryPrice.String())
	assert.Equal(t, "4990", alert.Submission.TakeProfit1.String())
	assert.Nil(t, alert.Submission.TakeProfit2)
	assert.Empty(t, alert.ProviderKey)
}

func TestParseTradingView_Errors(t *testing.T) {
	_, err := ParseTradingView([]byte(`[1,2]`))
	assert.True(t, domainerrors.IsValidation(err))

	_, err = ParseTradingView([]byte(`{"symbol":"ES","direction":"LONG","entry":"abc"}`))
	assert.True(t, domainerrors.IsValidation(err))

	_, err = ParseTradingView([]byte(`{"symbol":"ES","direction":"LONG","sl":true}`))
	assert.True(t, domainerrors.IsValidation(err))
}

func TestParseTradingView_MissingLevelsLeftNil(t *testing.T) {
	alert, err := ParseTradingView([]byte(`{"symbol":"ES","direction":"LONG","entry":"","sl":5000}`))
	require.NoError(t, err)
	assert.Nil(t, alert.Submission.EntryPrice)
	assert.Nil(t, alert.Submission.TakeProfit1)
	assert.NotNil(t, alert.Submission.StopLoss)
}
