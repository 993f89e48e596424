// Package signal_expiry closes signals that stay open too long.
package signal_expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	signalsvc "github.com/signal-bridge/signal_service/internal/domain/services/signal"
)

type Config struct {
	Schedule        string
	MaxOpenDuration time.Duration
	BatchSize       int
	RunTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Schedule:        "@every 10m",
		MaxOpenDuration: 7 * 24 * time.Hour,
		BatchSize:       200,
		RunTimeout:      5 * time.Minute,
	}
}

type Worker struct {
	cfg     Config
	signals repositories.SignalRepository
	sink    signalsvc.EventSink
	cron    *cron.Cron
	logger  *zap.Logger
	now     func() time.Time
}

func NewWorker(cfg Config, signals repositories.SignalRepository, sink signalsvc.EventSink, logger *zap.Logger) *Worker {
	def := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.MaxOpenDuration <= 0 {
		cfg.MaxOpenDuration = def.MaxOpenDuration
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if sink == nil {
		sink = signalsvc.FanOut(nil)
	}
	return &Worker{
		cfg:     cfg,
		signals: signals,
		sink:    sink,
		cron:    cron.New(),
		logger:  logger,
		now:     time.Now,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(w.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RunTimeout)
		defer cancel()
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("Signal expiry run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", w.cfg.Schedule, err)
	}
	w.cron.Start()
	w.logger.Info("Signal expiry worker started",
		zap.String("schedule", w.cfg.Schedule),
		zap.Duration("max_open", w.cfg.MaxOpenDuration))
	return nil
}

// RunOnce closes every signal opened before now minus the maximum open
// duration. Signals that change concurrently are left for the next run.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.now().UTC()
	cutoff := now.Add(-w.cfg.MaxOpenDuration)

	expired := 0
	for {
		batch, err := w.signals.OpenedBefore(ctx, cutoff, w.cfg.BatchSize)
		if err != nil {
			return expired, fmt.Errorf("load expired signals: %w", err)
		}
		closedInBatch := 0
		for _, sig := range batch {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			if w.expire(ctx, sig, now) {
				closedInBatch++
			}
		}
		expired += closedInBatch
		if len(batch) < w.cfg.BatchSize || closedInBatch == 0 {
			break
		}
	}

	if expired > 0 {
		w.logger.Info("Expired stale signals", zap.Int("count", expired), zap.Time("cutoff", cutoff))
	}
	return expired, nil
}

func (w *Worker) expire(ctx context.Context, sig *entities.Signal, now time.Time) bool {
	price := sig.EntryPrice
	if sig.LastPrice.Valid {
		price = sig.LastPrice.Decimal
	}
	next, events, err := signalsvc.CloseTransition(*sig, price, now, entities.EventTypeExpired, entities.EventSourceExpiry)
	if err != nil {
		w.logger.Debug("Signal not expirable", zap.String("signal_id", sig.ID.String()), zap.Error(err))
		return false
	}
	if err := w.signals.Persist(ctx, repositories.GuardOf(sig), &next, events); err != nil {
		if domainerrors.IsStorageConflict(err) {
			w.logger.Debug("Signal changed during expiry, skipping", zap.String("signal_id", sig.ID.String()))
			return false
		}
		w.logger.Error("Failed to expire signal", zap.String("signal_id", sig.ID.String()), zap.Error(err))
		return false
	}
	w.sink.Publish(ctx, &next, events)
	return true
}

func (w *Worker) Shutdown(timeout time.Duration) error {
	done := w.cron.Stop()
	select {
	case <-done.Done():
		w.logger.Info("Signal expiry worker stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("signal expiry shutdown timeout exceeded")
	}
}
