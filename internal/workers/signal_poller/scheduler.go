// Package signal_poller claims due signals, fetches their price and drives
// them through the lifecycle state machine.
package signal_poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/internal/domain/services/lifecycle"
	signalsvc "github.com/signal-bridge/signal_service/internal/domain/services/signal"
	"github.com/signal-bridge/signal_service/pkg/metrics"
	"github.com/signal-bridge/signal_service/pkg/retry"
	"github.com/signal-bridge/signal_service/pkg/tracing"
)

// PriceSource returns the current price for a symbol.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string, assetClass entities.AssetClass) (*entities.PriceQuote, error)
}

// Config holds the scheduler settings.
type Config struct {
	PollInterval      time.Duration
	BatchSize         int
	WorkerCount       int
	PriceTimeout      time.Duration
	Lease             time.Duration
	FailureBackoff    time.Duration
	MaxFailureBackoff time.Duration
	StaleWarnAfter    int
	SnapshotInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Second,
		BatchSize:         100,
		WorkerCount:       8,
		PriceTimeout:      5 * time.Second,
		Lease:             30 * time.Second,
		FailureBackoff:    5 * time.Second,
		MaxFailureBackoff: 5 * time.Minute,
		StaleWarnAfter:    5,
		SnapshotInterval:  time.Minute,
	}
}

type job struct {
	signal *entities.Signal
	done   *sync.WaitGroup
}

// Scheduler runs the poll loop and its worker pool.
type Scheduler struct {
	cfg       Config
	signals   repositories.SignalRepository
	snapshots repositories.SnapshotRepository
	prices    PriceSource
	cadence   CadenceStrategy
	sink      signalsvc.EventSink
	backoff   *retry.Backoff
	logger    *zap.Logger
	now       func() time.Time

	jobs chan job

	snapMu       sync.Mutex
	lastSnapshot map[string]time.Time

	polledCounter     metric.Int64Counter
	durationHistogram metric.Float64Histogram

	loopWG     sync.WaitGroup
	workerWG   sync.WaitGroup
	loopCtx    context.Context
	loopCancel context.CancelFunc
	workCtx    context.Context
	workCancel context.CancelFunc
	stopOnce   sync.Once
}

func NewScheduler(
	cfg Config,
	signals repositories.SignalRepository,
	snapshots repositories.SnapshotRepository,
	prices PriceSource,
	cadence CadenceStrategy,
	sink signalsvc.EventSink,
	logger *zap.Logger,
) (*Scheduler, error) {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = def.PriceTimeout
	}
	if cfg.Lease <= cfg.PriceTimeout {
		cfg.Lease = cfg.PriceTimeout + def.Lease
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.MaxFailureBackoff < cfg.FailureBackoff {
		cfg.MaxFailureBackoff = def.MaxFailureBackoff
	}
	if cadence == nil {
		cadence = NewProximityCadence(DefaultCadenceConfig())
	}

	meter := otel.Meter("signal-poller")
	polledCounter, err := meter.Int64Counter(
		"poller.signals.total",
		metric.WithDescription("Signals polled by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create polled counter: %w", err)
	}
	durationHistogram, err := meter.Float64Histogram(
		"poller.cycle.duration.seconds",
		metric.WithDescription("Duration of one claim-and-process cycle"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	workCtx, workCancel := context.WithCancel(context.Background())

	return &Scheduler{
		cfg:       cfg,
		signals:   signals,
		snapshots: snapshots,
		prices:    prices,
		cadence:   cadence,
		sink:      sink,
		backoff: retry.NewBackoff(retry.Policy{
			InitialBackoff: cfg.FailureBackoff,
			MaxBackoff:     cfg.MaxFailureBackoff,
			Multiplier:     2,
		}),
		logger:            logger,
		now:               time.Now,
		jobs:              make(chan job, cfg.WorkerCount),
		lastSnapshot:      make(map[string]time.Time),
		polledCounter:     polledCounter,
		durationHistogram: durationHistogram,
		loopCtx:           loopCtx,
		loopCancel:        loopCancel,
		workCtx:           workCtx,
		workCancel:        workCancel,
	}, nil
}

// Start launches the worker pool and the poll loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting signal poller",
		zap.Int("worker_count", s.cfg.WorkerCount),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Duration("poll_interval", s.cfg.PollInterval))

	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.workerWG.Add(1)
		go s.worker(i)
	}

	s.loopWG.Add(1)
	go s.loop(ctx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.loopCtx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunCycle(s.loopCtx); err != nil {
				s.logger.Error("Poll cycle failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.workerWG.Done()
	for j := range s.jobs {
		s.Process(s.workCtx, j.signal)
		j.done.Done()
	}
	s.logger.Debug("Poller worker stopped", zap.Int("worker_id", id))
}

// RunCycle claims one batch of due signals, hands them to the pool and
// waits until the batch is processed. It returns the number claimed.
func (s *Scheduler) RunCycle(ctx context.Context) (int, error) {
	start := time.Now()
	claimed, err := s.signals.ClaimDue(ctx, s.now().UTC(), s.cfg.BatchSize, s.cfg.Lease)
	if err != nil {
		return 0, fmt.Errorf("claim due signals: %w", err)
	}
	metrics.PollerClaimedGauge.Set(float64(len(claimed)))
	if len(claimed) == 0 {
		return 0, nil
	}

	var done sync.WaitGroup
	for i, sig := range claimed {
		done.Add(1)
		select {
		case s.jobs <- job{signal: sig, done: &done}:
		case <-ctx.Done():
			// unsent signals keep their lease and are retried after it lapses
			done.Done()
			done.Wait()
			return i, ctx.Err()
		}
	}
	done.Wait()

	s.durationHistogram.Record(context.Background(), time.Since(start).Seconds())
	s.logger.Debug("Poll cycle complete", zap.Int("claimed", len(claimed)), zap.Duration("duration", time.Since(start)))
	return len(claimed), nil
}

// Process polls one claimed signal: price, transition, compare-and-swap
// persist, then publish. A lost race or price failure leaves the stored
// state untouched apart from the failure bookkeeping.
func (s *Scheduler) Process(ctx context.Context, sig *entities.Signal) {
	ctx, span := tracing.StartSpan(ctx, "signal-poller", "poll_signal",
		attribute.String("signal_id", sig.ID.String()),
		attribute.String("symbol", sig.Symbol))
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	priceCtx, cancel := context.WithTimeout(ctx, s.cfg.PriceTimeout)
	quote, err := s.prices.GetPrice(priceCtx, sig.Symbol, sig.AssetClass)
	cancel()
	if err == nil && (quote == nil || quote.Price.Sign() <= 0) {
		err = domainerrors.TransientSourceError("router", sig.Symbol, fmt.Errorf("no usable price"))
	}
	if err != nil {
		spanErr = err
		s.recordFailure(ctx, sig, err)
		return
	}

	now := s.now().UTC()
	s.maybeSnapshot(ctx, quote, now)

	sampleAt := quote.Timestamp
	if sampleAt.IsZero() {
		sampleAt = now
	}
	t := lifecycle.Apply(*sig, lifecycle.PriceSample{Price: quote.Price, At: sampleAt})

	next := t.Signal
	next.PollFailures = 0
	if next.Status.IsTerminal() {
		next.NextPollAt = nil
	} else {
		at := now.Add(s.cadence.NextInterval(&next, quote.Price))
		next.NextPollAt = &at
	}
	events := signalsvc.EventPointers(t.Events(entities.EventSourcePoller))

	if err := s.signals.Persist(ctx, repositories.GuardOf(sig), &next, events); err != nil {
		if domainerrors.IsStorageConflict(err) {
			s.count("conflict")
			s.logger.Debug("Signal changed while polling, skipping", zap.String("signal_id", sig.ID.String()))
			return
		}
		spanErr = err
		s.count("persist_error")
		s.logger.Error("Failed to persist signal", zap.String("signal_id", sig.ID.String()), zap.Error(err))
		return
	}

	if !t.Changed() {
		s.count("unchanged")
		return
	}
	s.count("transitioned")
	s.logger.Info("Signal transitioned",
		zap.String("signal_id", sig.ID.String()),
		zap.String("symbol", sig.Symbol),
		zap.String("from", string(sig.Status)),
		zap.String("to", string(next.Status)),
		zap.String("price", quote.Price.String()),
		zap.String("source", quote.Source))
	if s.sink != nil {
		s.sink.Publish(ctx, &next, events)
	}
}

func (s *Scheduler) recordFailure(ctx context.Context, sig *entities.Signal, cause error) {
	s.count("price_error")
	failures := sig.PollFailures + 1
	nextAt := s.now().UTC().Add(s.backoff.Calculate(failures))
	if err := s.signals.RecordPollFailure(ctx, sig.ID, failures, nextAt); err != nil {
		if domainerrors.IsStorageConflict(err) {
			s.count("conflict")
			s.logger.Debug("Signal left the pollable set, failure not recorded", zap.String("signal_id", sig.ID.String()))
			return
		}
		s.logger.Error("Failed to record poll failure", zap.String("signal_id", sig.ID.String()), zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("signal_id", sig.ID.String()),
		zap.String("symbol", sig.Symbol),
		zap.Int("failures", failures),
		zap.Time("next_poll_at", nextAt),
		zap.Error(cause),
	}
	if s.cfg.StaleWarnAfter > 0 && failures >= s.cfg.StaleWarnAfter {
		s.logger.Warn("Signal price is stale", fields...)
		return
	}
	s.logger.Debug("Price fetch failed", fields...)
}

func (s *Scheduler) maybeSnapshot(ctx context.Context, quote *entities.PriceQuote, now time.Time) {
	if s.snapshots == nil {
		return
	}
	s.snapMu.Lock()
	last, seen := s.lastSnapshot[quote.Symbol]
	if seen && now.Sub(last) < s.cfg.SnapshotInterval {
		s.snapMu.Unlock()
		return
	}
	s.lastSnapshot[quote.Symbol] = now
	s.snapMu.Unlock()

	snap := quote.Snapshot()
	if snap.SnapshotTime.IsZero() {
		snap.SnapshotTime = now
	}
	if err := s.snapshots.Create(ctx, snap); err != nil {
		s.logger.Warn("Failed to record price snapshot", zap.String("symbol", quote.Symbol), zap.Error(err))
	}
}

func (s *Scheduler) count(outcome string) {
	s.polledCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Shutdown stops the loop, closes the job queue and waits for in-flight
// work. Work still running at the deadline is cancelled.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Shutting down signal poller", zap.Duration("timeout", timeout))
		s.loopCancel()

		done := make(chan struct{})
		go func() {
			s.loopWG.Wait()
			close(s.jobs)
			s.workerWG.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.workCancel()
			s.logger.Info("Signal poller shutdown complete")
		case <-time.After(timeout):
			s.workCancel()
			err = fmt.Errorf("signal poller shutdown timeout exceeded")
		}
	})
	return err
}
