package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

var testNow = time.Date(2025, 2, 13, 12, 0, 0, 0, time.UTC)

func dp(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func submission() *entities.SignalSubmission {
	return &entities.SignalSubmission{
		ProviderID:  uuid.New(),
		Symbol:      "NQ1!",
		Direction:   "buy",
		EntryPrice:  dp("18000"),
		StopLoss:    dp("17950"),
		TakeProfit1: dp("18100"),
		TakeProfit2: dp("18150"),
		TakeProfit3: dp("18200"),
		Timestamp:   testNow.Add(-10 * time.Second).Format(time.RFC3339),
	}
}

func validate(t *testing.T, sub *entities.SignalSubmission, open ...*entities.Signal) (*entities.Signal, Result) {
	t.Helper()
	sig, findings, err := Normalize(sub, testNow)
	require.NoError(t, err)
	v := NewValidator(DefaultConfig())
	res := v.Validate(sig, findings, open, testNow)
	v.Stamp(sig, res, testNow)
	return sig, res
}

func TestValidate_CleanSignal(t *testing.T) {
	sig, res := validate(t, submission())

	assert.True(t, res.Valid())
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 100, res.Confidence)
	assert.Equal(t, entities.SignalStatusPending, sig.Status)
	assert.True(t, sig.RiskDistance.IsPositive())
	assert.True(t, sig.RRRatio.IsPositive())
	require.NotNil(t, sig.NextPollAt)
	assert.Equal(t, testNow, *sig.NextPollAt)
}

func TestValidate_StopEqualsEntry(t *testing.T) {
	sub := submission()
	sub.StopLoss = dp("18000")

	sig, res := validate(t, sub)

	require.False(t, res.Valid())
	assert.Equal(t, entities.SignalStatusInvalid, sig.Status)
	assert.Nil(t, sig.NextPollAt)
	assert.True(t, anyContains(res.Errors, "risk_distance"), "errors: %v", res.Errors)
	assert.Equal(t, []string(res.Errors), []string(sig.ValidationErrors))
}

func TestValidate_HardErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entities.SignalSubmission)
		want   string
	}{
		{"missing entry", func(s *entities.SignalSubmission) { s.EntryPrice = nil }, "entry_price is required"},
		{"negative stop", func(s *entities.SignalSubmission) { s.StopLoss = dp("-1") }, "stop_loss must be positive"},
		{"long stop above entry", func(s *entities.SignalSubmission) { s.StopLoss = dp("18010") }, "stop_loss 18010 must be below"},
		{"long tp1 below entry", func(s *entities.SignalSubmission) { s.TakeProfit1 = dp("17990") }, "take_profit_1 17990 must be above"},
		{"tp2 before tp1", func(s *entities.SignalSubmission) { s.TakeProfit2 = dp("18050") }, "take_profit_2 18050 must be beyond"},
		{"risk ceiling", func(s *entities.SignalSubmission) { s.StopLoss = dp("17000") }, "ceiling for FUTURES"},
		{"future entry", func(s *entities.SignalSubmission) {
			s.Timestamp = testNow.Add(5 * time.Minute).Format(time.RFC3339)
		}, "in the future"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := submission()
			tt.mutate(sub)

			sig, res := validate(t, sub)

			assert.False(t, res.Valid())
			assert.Equal(t, entities.SignalStatusInvalid, sig.Status)
			assert.True(t, anyContains(res.Errors, tt.want), "errors: %v", res.Errors)
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entities.SignalSubmission)
		want   string
	}{
		{"low rr", func(s *entities.SignalSubmission) { s.TakeProfit1 = dp("18020") }, "below minimum"},
		{"high rr", func(s *entities.SignalSubmission) {
			s.StopLoss = dp("17995")
			s.TakeProfit1 = dp("18100")
		}, "unusually high"},
		{"no tp3", func(s *entities.SignalSubmission) { s.TakeProfit3 = nil }, "take_profit_3 not set"},
		{"stale", func(s *entities.SignalSubmission) {
			s.Timestamp = testNow.Add(-10 * time.Minute).Format(time.RFC3339)
		}, "stale"},
		{"precision", func(s *entities.SignalSubmission) { s.EntryPrice = dp("18000.125") }, "3 decimals"},
		{"bad timestamp", func(s *entities.SignalSubmission) { s.Timestamp = "yesterday" }, "unparseable timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := submission()
			tt.mutate(sub)

			sig, res := validate(t, sub)

			assert.True(t, res.Valid(), "errors: %v", res.Errors)
			assert.Equal(t, entities.SignalStatusPending, sig.Status)
			assert.True(t, anyContains(res.Warnings, tt.want), "warnings: %v", res.Warnings)
			assert.Less(t, res.Confidence, 100)
		})
	}
}

func TestValidate_Duplicate(t *testing.T) {
	open := &entities.Signal{
		ID:         uuid.New(),
		Symbol:     "NQ",
		Direction:  entities.DirectionLong,
		EntryPrice: decimal.RequireFromString("18010"),
		Status:     entities.SignalStatusActive,
	}
	_, res := validate(t, submission(), open)
	assert.True(t, anyContains(res.Warnings, "possible duplicate"), "warnings: %v", res.Warnings)

	open.Direction = entities.DirectionShort
	_, res = validate(t, submission(), open)
	assert.False(t, anyContains(res.Warnings, "possible duplicate"))
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 100, Confidence(0, 0))
	assert.Equal(t, 80, Confidence(1, 1))
	assert.Equal(t, 0, Confidence(5, 5))
}

func anyContains(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
