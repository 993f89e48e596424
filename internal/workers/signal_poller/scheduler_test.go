package signal_poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/internal/domain/repositories/repotest"
)

var pollNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	calls  atomic.Int64
}

func (f *fakePrices) GetPrice(_ context.Context, symbol string, _ entities.AssetClass) (*entities.PriceQuote, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &entities.PriceQuote{Symbol: symbol, Price: f.prices[symbol], Timestamp: pollNow, Source: "fake"}, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []*entities.SignalEvent
}

func (c *captureSink) Publish(_ context.Context, _ *entities.Signal, events []*entities.SignalEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func pendingSignal(symbol string) entities.Signal {
	due := pollNow.Add(-time.Second)
	return entities.Signal{
		ID:           uuid.New(),
		ProviderID:   uuid.New(),
		Symbol:       symbol,
		AssetClass:   entities.AssetClassCrypto,
		Direction:    entities.DirectionLong,
		EntryPrice:   d("100"),
		StopLoss:     d("90"),
		TakeProfit1:  d("110"),
		TakeProfit2:  decimal.NewNullDecimal(d("120")),
		TakeProfit3:  decimal.NewNullDecimal(d("130")),
		RiskDistance: d("10"),
		Status:       entities.SignalStatusPending,
		EntryTime:    pollNow.Add(-time.Hour),
		NextPollAt:   &due,
	}
}

func newTestScheduler(t *testing.T, repo *repotest.Signals, snaps repositories.SnapshotRepository, prices PriceSource, sink *captureSink) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour
	cfg.WorkerCount = 4
	s, err := NewScheduler(cfg, repo, snaps, prices, nil, sink, zap.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return pollNow }
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(5 * time.Second) })
	return s
}

func TestScheduler_EntryHit(t *testing.T) {
	repo, snaps, sink := repotest.NewSignals(), repotest.NewSnapshots(), &captureSink{}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"BTCUSDT": d("100.5")}}
	sig := pendingSignal("BTCUSDT")
	repo.Put(sig)

	s := newTestScheduler(t, repo, snaps, prices, sink)
	n, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := repo.GetByID(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SignalStatusActive, stored.Status)
	require.NotNil(t, stored.ActivatedAt)
	require.NotNil(t, stored.NextPollAt)
	assert.True(t, stored.NextPollAt.After(pollNow))
	assert.True(t, stored.LastPrice.Decimal.Equal(d("100.5")))

	events, err := repo.Events(context.Background(), sig.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entities.EventTypeEntryHit, events[0].EventType)
	assert.Equal(t, entities.EventSourcePoller, events[0].Source)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 1, snaps.Count())

	n, err = s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "next poll is in the future")
}

func TestScheduler_GapThroughAllTargets(t *testing.T) {
	repo, sink := repotest.NewSignals(), &captureSink{}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"ETHUSDT": d("135")}}
	sig := pendingSignal("ETHUSDT")
	sig.Status = entities.SignalStatusActive
	repo.Put(sig)

	s := newTestScheduler(t, repo, repotest.NewSnapshots(), prices, sink)
	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SignalStatusTP3Hit, stored.Status)
	assert.Equal(t, 3, stored.MaxTPHit)
	assert.Nil(t, stored.NextPollAt)
	assert.Equal(t, "3.5", stored.RValue.Decimal.String())

	events, err := repo.Events(context.Background(), sig.ID)
	require.NoError(t, err)
	types := make([]entities.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.EventType
	}
	assert.Equal(t, []entities.EventType{entities.EventTypeTP1Hit, entities.EventTypeTP2Hit, entities.EventTypeTP3Hit}, types)
	assert.Equal(t, 3, sink.count())
}

func TestScheduler_PriceFailureBacksOff(t *testing.T) {
	repo, sink := repotest.NewSignals(), &captureSink{}
	prices := &fakePrices{err: errors.New("upstream down")}
	sig := pendingSignal("SOLUSDT")
	sig.PollFailures = 2
	repo.Put(sig)

	s := newTestScheduler(t, repo, repotest.NewSnapshots(), prices, sink)
	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.PollFailures)
	require.NotNil(t, stored.NextPollAt)
	assert.Equal(t, pollNow.Add(20*time.Second), *stored.NextPollAt)
	assert.Equal(t, entities.SignalStatusPending, stored.Status)

	events, err := repo.Events(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Zero(t, sink.count())
}

func TestScheduler_PriceFailureLeavesClosedSignalAlone(t *testing.T) {
	repo, sink := repotest.NewSignals(), &captureSink{}
	prices := &fakePrices{err: errors.New("upstream down")}
	sig := pendingSignal("ETHUSDT")
	repo.Put(sig)

	claimed, err := repo.GetByID(context.Background(), sig.ID)
	require.NoError(t, err)

	closedAt := pollNow.Add(-time.Second)
	closed := *claimed
	closed.Status = entities.SignalStatusClosed
	closed.ClosedAt = &closedAt
	closed.NextPollAt = nil
	closed.UpdatedAt = claimed.UpdatedAt.Add(time.Second)
	repo.Put(closed)

	s := newTestScheduler(t, repo, repotest.NewSnapshots(), prices, sink)
	s.Process(context.Background(), claimed)

	stored, err := repo.GetByID(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SignalStatusClosed, stored.Status)
	assert.Nil(t, stored.NextPollAt)
	assert.Zero(t, stored.PollFailures)
	assert.Zero(t, sink.count())
}

func TestScheduler_StaleGuardIsSkipped(t *testing.T) {
	repo, sink := repotest.NewSignals(), &captureSink{}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"BTCUSDT": d("100")}}
	sig := pendingSignal("BTCUSDT")
	repo.Put(sig)

	stale, err := repo.GetByID(context.Background(), sig.ID)
	require.NoError(t, err)

	fresh := *stale
	fresh.PollFailures = 1
	fresh.UpdatedAt = stale.UpdatedAt.Add(time.Second)
	repo.Put(fresh)

	s := newTestScheduler(t, repo, repotest.NewSnapshots(), prices, sink)
	s.Process(context.Background(), stale)

	events, err := repo.Events(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Zero(t, sink.count())
	assert.Zero(t, repo.PersistCount())
}

func TestScheduler_ConcurrentSchedulersClaimDisjointSets(t *testing.T) {
	repo := repotest.NewSignals()
	prices := &fakePrices{prices: map[string]decimal.Decimal{"BTCUSDT": d("100")}}

	const total = 60
	ids := make([]uuid.UUID, 0, total)
	for i := 0; i < total; i++ {
		sig := pendingSignal("BTCUSDT")
		repo.Put(sig)
		ids = append(ids, sig.ID)
	}

	sinkA, sinkB := &captureSink{}, &captureSink{}
	a := newTestScheduler(t, repo, nil, prices, sinkA)
	b := newTestScheduler(t, repo, nil, prices, sinkB)
	a.cfg.BatchSize, b.cfg.BatchSize = 25, 25

	var wg sync.WaitGroup
	for _, s := range []*Scheduler{a, b} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			for {
				n, err := s.RunCycle(context.Background())
				if err != nil || n == 0 {
					return
				}
			}
		}(s)
	}
	wg.Wait()

	for _, id := range ids {
		events, err := repo.Events(context.Background(), id)
		require.NoError(t, err)
		require.Len(t, events, 1, "signal %s", id)
		assert.Equal(t, entities.EventTypeEntryHit, events[0].EventType)
	}
	assert.Equal(t, total, sinkA.count()+sinkB.count())
	assert.Equal(t, total, repo.PersistCount())
	assert.Equal(t, int64(total), prices.calls.Load())
}
