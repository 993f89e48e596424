package stats_aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRecomputer struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
	all   int
}

func newFakeRecomputer() *fakeRecomputer {
	return &fakeRecomputer{calls: make(map[uuid.UUID]int)}
}

func (f *fakeRecomputer) Recompute(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	return nil
}

func (f *fakeRecomputer) RecomputeAll(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all++
	return 2, nil
}

func (f *fakeRecomputer) count(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func TestWorker_TriggersAreCoalesced(t *testing.T) {
	rec := newFakeRecomputer()
	w := NewWorker(Config{TriggerDebounce: 20 * time.Millisecond}, rec, zap.NewNop())

	a, b := uuid.New(), uuid.New()
	for i := 0; i < 5; i++ {
		w.Trigger(a)
	}
	w.Trigger(b)

	assert.Eventually(t, func() bool { return rec.count(a) == 1 && rec.count(b) == 1 }, time.Second, 5*time.Millisecond)

	w.Trigger(a)
	assert.Eventually(t, func() bool { return rec.count(a) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Shutdown(time.Second))
}

func TestWorker_ShutdownFlushesPending(t *testing.T) {
	rec := newFakeRecomputer()
	w := NewWorker(Config{TriggerDebounce: time.Hour}, rec, zap.NewNop())
	require.NoError(t, w.Start(context.Background()))

	id := uuid.New()
	w.Trigger(id)
	require.NoError(t, w.Shutdown(time.Second))
	assert.Equal(t, 1, rec.count(id))

	w.Trigger(id)
	assert.Equal(t, 1, rec.count(id), "triggers after shutdown are ignored")
}

func TestWorker_RunAll(t *testing.T) {
	rec := newFakeRecomputer()
	w := NewWorker(DefaultConfig(), rec, zap.NewNop())
	w.RunAll(context.Background())
	assert.Equal(t, 1, rec.all)
}

func TestWorker_InvalidSchedule(t *testing.T) {
	w := NewWorker(Config{Schedule: "not a schedule"}, newFakeRecomputer(), zap.NewNop())
	assert.Error(t, w.Start(context.Background()))
}
