// Package stats_aggregator keeps provider rollups current.
package stats_aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/pkg/metrics"
)

// Recomputer rebuilds stored rollups.
type Recomputer interface {
	Recompute(ctx context.Context, providerID uuid.UUID) error
	RecomputeAll(ctx context.Context) (int, error)
}

type Config struct {
	Schedule        string
	TriggerDebounce time.Duration
	RunTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Schedule:        "@every 5m",
		TriggerDebounce: 2 * time.Second,
		RunTimeout:      5 * time.Minute,
	}
}

// Worker recomputes every provider on a schedule, and single providers
// shortly after one of their signals closes. Triggers arriving within the
// debounce window are coalesced per provider.
type Worker struct {
	cfg    Config
	stats  Recomputer
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	timer   *time.Timer
	stopped bool

	flushWG sync.WaitGroup
}

func NewWorker(cfg Config, stats Recomputer, logger *zap.Logger) *Worker {
	def := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.TriggerDebounce <= 0 {
		cfg.TriggerDebounce = def.TriggerDebounce
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	return &Worker{
		cfg:     cfg,
		stats:   stats,
		cron:    cron.New(),
		logger:  logger,
		pending: make(map[uuid.UUID]struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(w.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RunTimeout)
		defer cancel()
		w.RunAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid stats schedule %q: %w", w.cfg.Schedule, err)
	}
	w.cron.Start()
	w.logger.Info("Stats aggregator started", zap.String("schedule", w.cfg.Schedule))
	return nil
}

// RunAll recomputes every active provider.
func (w *Worker) RunAll(ctx context.Context) {
	start := time.Now()
	n, err := w.stats.RecomputeAll(ctx)
	metrics.StatsRecomputeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		w.logger.Error("Stats recompute run failed", zap.Int("providers", n), zap.Error(err))
		return
	}
	w.logger.Info("Stats recompute run complete",
		zap.Int("providers", n),
		zap.Duration("duration", time.Since(start)))
}

// Trigger schedules a recompute for one provider. It never blocks.
func (w *Worker) Trigger(providerID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.pending[providerID] = struct{}{}
	if w.timer == nil {
		w.flushWG.Add(1)
		w.timer = time.AfterFunc(w.cfg.TriggerDebounce, func() {
			defer w.flushWG.Done()
			ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RunTimeout)
			defer cancel()
			w.Flush(ctx)
		})
	}
}

// Flush recomputes every pending provider now.
func (w *Worker) Flush(ctx context.Context) int {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[uuid.UUID]struct{})
	w.timer = nil
	w.mu.Unlock()

	done := 0
	for id := range batch {
		start := time.Now()
		if err := w.stats.Recompute(ctx, id); err != nil {
			w.logger.Warn("Triggered stats recompute failed", zap.String("provider_id", id.String()), zap.Error(err))
			continue
		}
		metrics.StatsRecomputeDuration.Observe(time.Since(start).Seconds())
		done++
	}
	return done
}

// Shutdown stops the schedule and flushes outstanding triggers.
func (w *Worker) Shutdown(timeout time.Duration) error {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil && w.timer.Stop() {
		w.timer = nil
		w.flushWG.Done()
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cronDone := w.cron.Stop()
	w.Flush(ctx)

	flushed := make(chan struct{})
	go func() {
		w.flushWG.Wait()
		close(flushed)
	}()

	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		return fmt.Errorf("stats aggregator shutdown timeout exceeded")
	}
	select {
	case <-flushed:
	case <-ctx.Done():
		return fmt.Errorf("stats aggregator shutdown timeout exceeded")
	}
	w.logger.Info("Stats aggregator stopped")
	return nil
}
