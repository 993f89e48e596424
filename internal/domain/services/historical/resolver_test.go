package historical

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories/repotest"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func bar(hour int, low, high, close string) entities.Candle {
	return entities.Candle{
		OpenTime: t0.Add(time.Duration(hour) * time.Hour),
		Open:     d(low),
		High:     d(high),
		Low:      d(low),
		Close:    d(close),
	}
}

func testSignal(symbol string, direction entities.Direction, entry time.Time) entities.Signal {
	s := entities.Signal{
		ID:           uuid.New(),
		ProviderID:   uuid.New(),
		Symbol:       symbol,
		AssetClass:   entities.AssetClassCrypto,
		Direction:    direction,
		EntryPrice:   d("100"),
		StopLoss:     d("95"),
		TakeProfit1:  d("105"),
		TakeProfit2:  decimal.NewNullDecimal(d("110")),
		TakeProfit3:  decimal.NewNullDecimal(d("115")),
		RiskDistance: d("5"),
		Status:       entities.SignalStatusPending,
		EntryTime:    entry,
	}
	if direction == entities.DirectionShort {
		s.StopLoss = d("105")
		s.TakeProfit1 = d("95")
		s.TakeProfit2 = decimal.NewNullDecimal(d("90"))
		s.TakeProfit3 = decimal.NewNullDecimal(d("85"))
	}
	return s
}

func TestFold(t *testing.T) {
	tests := []struct {
		name      string
		direction entities.Direction
		bars      []entities.Candle
		status    entities.SignalStatus
		outcome   entities.HistoricalOutcome
		events    []entities.EventType
		exit      string
	}{
		{
			name:      "bar spanning stop and target resolves to the stop",
			direction: entities.DirectionLong,
			bars:      []entities.Candle{bar(0, "99", "101", "100.5"), bar(1, "94", "106", "100")},
			status:    entities.SignalStatusSLHit,
			outcome:   entities.HistoricalLoss,
			events:    []entities.EventType{entities.EventTypeEntryHit, entities.EventTypeSLHit},
			exit:      "94",
		},
		{
			name:      "gap through every target",
			direction: entities.DirectionLong,
			bars:      []entities.Candle{bar(0, "99", "101", "100.5"), bar(1, "100", "116", "115.5")},
			status:    entities.SignalStatusTP3Hit,
			outcome:   entities.HistoricalWin,
			events: []entities.EventType{entities.EventTypeEntryHit, entities.EventTypeTP1Hit,
				entities.EventTypeTP2Hit, entities.EventTypeTP3Hit},
			exit: "116",
		},
		{
			name:      "target then stop is partial",
			direction: entities.DirectionLong,
			bars: []entities.Candle{bar(0, "99", "101", "100.5"), bar(1, "101", "106", "104"),
				bar(2, "90", "102", "91"), bar(3, "80", "120", "100")},
			status:  entities.SignalStatusSLHit,
			outcome: entities.HistoricalPartial,
			events:  []entities.EventType{entities.EventTypeEntryHit, entities.EventTypeTP1Hit, entities.EventTypeSLHit},
			exit:    "90",
		},
		{
			name:      "entry never reached",
			direction: entities.DirectionLong,
			bars:      []entities.Candle{bar(0, "90", "99", "98"), bar(1, "91", "99.5", "99")},
			status:    entities.SignalStatusPending,
			outcome:   entities.HistoricalNoFill,
		},
		{
			name:      "short checks the high first",
			direction: entities.DirectionShort,
			bars:      []entities.Candle{bar(0, "99", "101", "99.5"), bar(1, "94", "106", "100")},
			status:    entities.SignalStatusSLHit,
			outcome:   entities.HistoricalLoss,
			events:    []entities.EventType{entities.EventTypeEntryHit, entities.EventTypeSLHit},
			exit:      "106",
		},
		{
			name:      "still open when bars run out",
			direction: entities.DirectionLong,
			bars:      []entities.Candle{bar(0, "99", "101", "100.5"), bar(1, "100", "106", "104")},
			status:    entities.SignalStatusTP1Hit,
			outcome:   entities.HistoricalOpen,
			events:    []entities.EventType{entities.EventTypeEntryHit, entities.EventTypeTP1Hit},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSignal("BTCUSDT", tt.direction, t0)
			tr := Fold(s, tt.bars)

			assert.Equal(t, tt.status, tr.Signal.Status)
			assert.Equal(t, tt.outcome, Classify(&tr.Signal))
			var got []entities.EventType
			for _, trig := range tr.Triggers {
				got = append(got, trig.EventType)
			}
			assert.Equal(t, tt.events, got)
			if tt.exit != "" {
				require.True(t, tr.Signal.ExitPrice.Valid)
				assert.True(t, tr.Signal.ExitPrice.Decimal.Equal(d(tt.exit)), "exit %s", tr.Signal.ExitPrice.Decimal)
				assert.NotNil(t, tr.Signal.ClosedAt)
				assert.Nil(t, tr.Signal.NextPollAt)
			}
		})
	}
}

func TestFold_OpenSignalKeepsLastClose(t *testing.T) {
	s := testSignal("BTCUSDT", entities.DirectionLong, t0)
	tr := Fold(s, []entities.Candle{bar(0, "99", "101", "100.5"), bar(1, "100", "103", "102.25")})

	assert.Equal(t, entities.SignalStatusActive, tr.Signal.Status)
	assert.True(t, tr.Signal.LastPrice.Decimal.Equal(d("102.25")))
	require.NotNil(t, tr.Signal.LastPriceAt)
	assert.Equal(t, t0.Add(2*time.Hour), *tr.Signal.LastPriceAt)
	assert.True(t, tr.Signal.MaxFavorable.Decimal.Equal(d("103")))
	assert.True(t, tr.Signal.MaxAdverse.Decimal.Equal(d("99")))
}

type fakeCandles struct {
	mu     sync.Mutex
	bars   map[string][]entities.Candle
	calls  map[string]int
	before func(symbol string)
}

func (f *fakeCandles) GetCandles(_ context.Context, symbol string, _ entities.AssetClass, from, to time.Time) ([]entities.Candle, error) {
	f.mu.Lock()
	f.calls[symbol]++
	f.mu.Unlock()
	if f.before != nil {
		f.before(symbol)
	}
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, errors.New("no data")
	}
	var out []entities.Candle
	for _, b := range bars {
		if !b.OpenTime.Before(from) && !b.OpenTime.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []entities.EventType
}

func (r *recordingSink) Publish(_ context.Context, _ *entities.Signal, events []*entities.SignalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range events {
		r.events = append(r.events, ev.EventType)
	}
}

func newResolver(candles *fakeCandles) (*Resolver, *repotest.Signals, *recordingSink) {
	repo := repotest.NewSignals()
	sink := &recordingSink{}
	r := NewResolver(repo, candles, sink, logger.Nop())
	r.now = func() time.Time { return t0.Add(90 * 24 * time.Hour) }
	return r, repo, sink
}

func TestResolver_Resolve(t *testing.T) {
	candles := &fakeCandles{
		calls: map[string]int{},
		bars: map[string][]entities.Candle{
			"BTCUSDT": {bar(0, "99", "101", "100.5"), bar(1, "100", "116", "115"), bar(2, "90", "99", "95")},
		},
	}
	r, repo, sink := newResolver(candles)
	ctx := context.Background()

	win := testSignal("BTCUSDT", entities.DirectionLong, t0)
	repo.Put(win)
	unfilled := testSignal("BTCUSDT", entities.DirectionLong, t0.Add(2*time.Hour))
	repo.Put(unfilled)
	noData := testSignal("ETHUSDT", entities.DirectionLong, t0)
	repo.Put(noData)
	closed := testSignal("BTCUSDT", entities.DirectionLong, t0)
	closed.Status = entities.SignalStatusClosed
	repo.Put(closed)

	report, err := r.Resolve(ctx, &entities.HistoricalResolveRequest{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total, "terminal signals are not backtested")
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Wins)
	assert.Equal(t, 1, report.Unfilled)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "1", report.WinRate.String())
	assert.Equal(t, "3.2", report.TotalR.String())
	assert.Len(t, report.Results, 2)
	assert.Equal(t, 1, candles.calls["BTCUSDT"], "bars are fetched once per symbol")

	stored, err := repo.GetByID(ctx, win.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SignalStatusTP3Hit, stored.Status)
	assert.Nil(t, stored.NextPollAt)

	events, err := repo.Events(ctx, win.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for _, ev := range events {
		assert.Equal(t, entities.EventSourceHistorical, ev.Source)
	}
	assert.Equal(t, t0.Add(time.Hour), events[3].EventTime)
	assert.Contains(t, sink.events, entities.EventTypeTP3Hit)

	untouched, err := repo.GetByID(ctx, unfilled.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SignalStatusPending, untouched.Status)
	assert.False(t, untouched.LastPrice.Valid)
}

func TestResolver_FiltersByWindowAndSymbol(t *testing.T) {
	candles := &fakeCandles{calls: map[string]int{}, bars: map[string][]entities.Candle{}}
	r, repo, _ := newResolver(candles)

	repo.Put(testSignal("BTCUSDT", entities.DirectionLong, t0))
	repo.Put(testSignal("BTCUSDT", entities.DirectionLong, t0.Add(48*time.Hour)))
	repo.Put(testSignal("ETHUSDT", entities.DirectionLong, t0))

	from, to := t0.Add(-time.Hour), t0.Add(time.Hour)
	report, err := r.Resolve(context.Background(), &entities.HistoricalResolveRequest{Symbol: "BTCUSDT", From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 0, candles.calls["ETHUSDT"])

	_, err = r.Resolve(context.Background(), &entities.HistoricalResolveRequest{From: &to, To: &from})
	assert.True(t, domainerrors.IsValidation(err))
}

func TestResolver_ConcurrentChangeIsNotOverwritten(t *testing.T) {
	candles := &fakeCandles{
		calls: map[string]int{},
		bars: map[string][]entities.Candle{
			"BTCUSDT": {bar(0, "99", "101", "100.5"), bar(1, "90", "100", "91")},
		},
	}
	r, repo, sink := newResolver(candles)
	ctx := context.Background()

	sig := testSignal("BTCUSDT", entities.DirectionLong, t0)
	repo.Put(sig)
	candles.before = func(string) {
		cur, err := repo.GetByID(ctx, sig.ID)
		require.NoError(t, err)
		cur.Status = entities.SignalStatusClosed
		cur.UpdatedAt = cur.UpdatedAt.Add(time.Second)
		repo.Put(*cur)
	}

	report, err := r.Resolve(ctx, &entities.HistoricalResolveRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)
	assert.Zero(t, report.Resolved)
	assert.Empty(t, sink.events)

	stored, err := repo.GetByID(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SignalStatusClosed, stored.Status)
}
