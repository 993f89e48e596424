package stats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func closedSignal(status entities.SignalStatus, r string, maxTP int, closedAfter time.Duration) *entities.Signal {
	closedAt := base.Add(closedAfter)
	return &entities.Signal{
		ID:         uuid.New(),
		ProviderID: uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Status:     status,
		MaxTPHit:   maxTP,
		EntryTime:  base,
		ClosedAt:   &closedAt,
		RValue:     decimal.NewNullDecimal(decimal.RequireFromString(r)),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		signal *entities.Signal
		want   Outcome
	}{
		{"tp3 is a win", closedSignal(entities.SignalStatusTP3Hit, "3", 3, time.Hour), OutcomeWin},
		{"stop before any tp is a loss", closedSignal(entities.SignalStatusSLHit, "-1", 0, time.Hour), OutcomeLoss},
		{"stop after tp1 is a partial", closedSignal(entities.SignalStatusSLHit, "-1", 1, time.Hour), OutcomePartial},
		{"closed in profit is a win", closedSignal(entities.SignalStatusClosed, "0.5", 0, time.Hour), OutcomeWin},
		{"closed at a loss is a loss", closedSignal(entities.SignalStatusClosed, "-0.2", 0, time.Hour), OutcomeLoss},
		{"closed flat is breakeven", closedSignal(entities.SignalStatusClosed, "0", 0, time.Hour), OutcomeBreakeven},
		{"invalid is ignored", closedSignal(entities.SignalStatusInvalid, "0", 0, time.Hour), OutcomeNone},
		{"open is ignored", closedSignal(entities.SignalStatusActive, "0", 0, time.Hour), OutcomeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.signal))
		})
	}
}

func sample() []*entities.Signal {
	return []*entities.Signal{
		closedSignal(entities.SignalStatusTP3Hit, "3", 3, 1*time.Hour),
		closedSignal(entities.SignalStatusSLHit, "-1", 0, 2*time.Hour),
		closedSignal(entities.SignalStatusSLHit, "-1", 1, 3*time.Hour),
		closedSignal(entities.SignalStatusClosed, "0.5", 1, 4*time.Hour),
		closedSignal(entities.SignalStatusClosed, "0", 0, 5*time.Hour),
	}
}

func TestCompute(t *testing.T) {
	rl := Compute(sample())

	assert.Equal(t, 5, rl.TotalSignals)
	assert.Equal(t, 2, rl.Wins)
	assert.Equal(t, 1, rl.Losses)
	assert.Equal(t, 1, rl.Partials)
	assert.Equal(t, 1, rl.Breakevens)

	assert.Equal(t, "66.67", rl.WinRate.String())
	assert.Equal(t, "33.33", rl.LossRate.String())
	assert.Equal(t, "60", rl.TP1HitRate.String())
	assert.Equal(t, "20", rl.TP2HitRate.String())
	assert.Equal(t, "20", rl.TP3HitRate.String())

	assert.Equal(t, "1.5", rl.TotalR.String())
	assert.Equal(t, "0.3", rl.AvgR.String())
	assert.Equal(t, "3", rl.BestR.String())
	assert.Equal(t, "-1", rl.WorstR.String())
	assert.Equal(t, "1.75", rl.AvgWinR.String())
	assert.Equal(t, "1", rl.AvgLossR.String())
	assert.Equal(t, "0.8334", rl.Expectancy.String())
	assert.Equal(t, "1.75", rl.ProfitFactor.String())
	assert.Equal(t, "2", rl.MaxDrawdownR.String())

	assert.Equal(t, 1, rl.MaxConsecutiveWins)
	assert.Equal(t, 1, rl.MaxConsecutiveLosses)
	assert.Equal(t, int64(3*3600), rl.AvgDurationSeconds)
	require.NotNil(t, rl.FirstClosedAt)
	assert.Equal(t, base.Add(time.Hour), *rl.FirstClosedAt)
	assert.False(t, rl.Sharpe.IsZero())
}

func TestCompute_IsDeterministic(t *testing.T) {
	signals := sample()
	first, err := json.Marshal(Compute(signals))
	require.NoError(t, err)

	reversed := make([]*entities.Signal, len(signals))
	for i, s := range signals {
		reversed[len(signals)-1-i] = s
	}
	second, err := json.Marshal(Compute(reversed))
	require.NoError(t, err)
	third, err := json.Marshal(Compute(signals))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, string(first), string(third))
}

func TestCompute_Empty(t *testing.T) {
	rl := Compute(nil)
	assert.Equal(t, 0, rl.TotalSignals)
	assert.True(t, rl.WinRate.IsZero())
	assert.True(t, rl.Sharpe.IsZero())
	assert.Nil(t, rl.FirstClosedAt)
}

func TestCompute_SkipsOpenSignals(t *testing.T) {
	open := closedSignal(entities.SignalStatusActive, "0", 0, time.Hour)
	rl := Compute([]*entities.Signal{open, closedSignal(entities.SignalStatusTP3Hit, "2", 3, time.Hour)})
	assert.Equal(t, 1, rl.TotalSignals)
	assert.True(t, rl.Sharpe.IsZero(), "sharpe needs two samples")
	assert.True(t, rl.ProfitFactor.IsZero(), "no losses")
}

func TestCompute_Streaks(t *testing.T) {
	signals := []*entities.Signal{
		closedSignal(entities.SignalStatusTP3Hit, "2", 3, 1*time.Hour),
		closedSignal(entities.SignalStatusTP3Hit, "2", 3, 2*time.Hour),
		closedSignal(entities.SignalStatusTP3Hit, "2", 3, 3*time.Hour),
		closedSignal(entities.SignalStatusSLHit, "-1", 0, 4*time.Hour),
		closedSignal(entities.SignalStatusSLHit, "-1", 0, 5*time.Hour),
	}
	rl := Compute(signals)
	assert.Equal(t, 3, rl.MaxConsecutiveWins)
	assert.Equal(t, 2, rl.MaxConsecutiveLosses)
	assert.Equal(t, "2", rl.MaxDrawdownR.String())
}

func TestEquity(t *testing.T) {
	points := Equity(sample())
	require.Len(t, points, 5)

	cumulative := []string{"3", "2", "1", "1.5", "1.5"}
	for i, p := range points {
		assert.Equal(t, cumulative[i], p.CumulativeR.String(), "point %d", i)
		assert.Equal(t, i+1, p.TradeCount)
	}
	assert.Equal(t, 2, points[4].WinCount)
	assert.Equal(t, 1, points[4].LossCount)
}

func TestRank(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	c := uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	d := uuid.MustParse("00000000-0000-0000-0000-00000000000d")

	rollup := func(totalR, winRate string) entities.Rollup {
		return entities.Rollup{TotalR: decimal.RequireFromString(totalR), WinRate: decimal.RequireFromString(winRate)}
	}
	rows := []Ranked{
		{ProviderID: d, Rollup: rollup("5", "50")},
		{ProviderID: c, Rollup: rollup("5", "60")},
		{ProviderID: b, Rollup: rollup("5", "50")},
		{ProviderID: a, Rollup: rollup("9", "10")},
	}

	entries := Rank(rows, 0)
	require.Len(t, entries, 4)
	assert.Equal(t, []uuid.UUID{a, c, b, d}, []uuid.UUID{entries[0].ProviderID, entries[1].ProviderID, entries[2].ProviderID, entries[3].ProviderID})
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
	}

	assert.Len(t, Rank(rows, 2), 2)
}
