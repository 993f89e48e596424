// Package webhook_dispatcher delivers signal events to provider webhooks.
package webhook_dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/internal/domain/services/webhook"
	"github.com/signal-bridge/signal_service/pkg/metrics"
	"github.com/signal-bridge/signal_service/pkg/retry"
	"github.com/signal-bridge/signal_service/pkg/security"
	"github.com/signal-bridge/signal_service/pkg/signing"
)

const (
	eventHeader       = "X-Signal-Event"
	idempotencyHeader = "X-Idempotency-Key"
	userAgent         = "signal-service-webhooks/1.0"
	excerptLimit      = 512
	testEventType     = "TEST"
)

// SecretSource resolves a provider's signing secret. An empty secret means
// deliveries are sent unsigned.
type SecretSource interface {
	WebhookSecret(ctx context.Context, providerID uuid.UUID) (string, error)
}

// Alerter is notified when a destination's circuit opens.
type Alerter interface {
	CircuitOpened(ctx context.Context, cfg *entities.WebhookConfig) error
}

type Config struct {
	WorkerCount    int
	QueueSize      int
	RequestTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func DefaultConfig() Config {
	return Config{
		WorkerCount:    4,
		QueueSize:      1000,
		RequestTimeout: 10 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
	}
}

// errDestinationDisabled stops retries once the destination was disabled
// by another delivery or by its owner.
var errDestinationDisabled = errors.New("webhook destination disabled")

type job struct {
	signal entities.Signal
	event  *entities.SignalEvent
}

// Dispatcher queues committed events and delivers them with retries. Each
// destination carries its own circuit breaker.
type Dispatcher struct {
	cfg      Config
	webhooks repositories.WebhookRepository
	logs     repositories.NotificationLogRepository
	secrets  SecretSource
	breaker  webhook.Breaker
	alerter  Alerter
	client   *http.Client
	policy   retry.Policy
	logger   *zap.Logger
	now      func() time.Time

	queue  chan job
	mu     sync.RWMutex
	closed bool

	deliveryCounter   metric.Int64Counter
	durationHistogram metric.Float64Histogram

	wg         sync.WaitGroup
	workCtx    context.Context
	workCancel context.CancelFunc
	stopOnce   sync.Once
}

func NewDispatcher(
	cfg Config,
	webhooks repositories.WebhookRepository,
	logs repositories.NotificationLogRepository,
	secrets SecretSource,
	breaker webhook.Breaker,
	alerter Alerter,
	logger *zap.Logger,
) (*Dispatcher, error) {
	def := DefaultConfig()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}

	policy := retry.Policy{
		MaxRetries:     cfg.MaxAttempts - 1,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Multiplier:     cfg.Multiplier,
		Jitter:         true,
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	meter := otel.Meter("webhook-dispatcher")
	deliveryCounter, err := meter.Int64Counter(
		"webhook.deliveries.total",
		metric.WithDescription("Final webhook delivery outcomes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery counter: %w", err)
	}
	durationHistogram, err := meter.Float64Histogram(
		"webhook.delivery.duration.seconds",
		metric.WithDescription("Duration of a delivery including retries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	workCtx, workCancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:               cfg,
		webhooks:          webhooks,
		logs:              logs,
		secrets:           secrets,
		breaker:           breaker,
		alerter:           alerter,
		client:            &http.Client{Timeout: cfg.RequestTimeout},
		policy:            policy,
		logger:            logger,
		now:               time.Now,
		queue:             make(chan job, cfg.QueueSize),
		deliveryCounter:   deliveryCounter,
		durationHistogram: durationHistogram,
		workCtx:           workCtx,
		workCancel:        workCancel,
	}, nil
}

// Start launches the delivery workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("Starting webhook dispatcher",
		zap.Int("worker_count", d.cfg.WorkerCount),
		zap.Int("queue_size", d.cfg.QueueSize))
	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return nil
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for j := range d.queue {
		d.Deliver(d.workCtx, &j.signal, j.event)
	}
	d.logger.Debug("Dispatcher worker stopped", zap.Int("worker_id", id))
}

// Publish implements the signal event sink.
func (d *Dispatcher) Publish(ctx context.Context, signal *entities.Signal, events []*entities.SignalEvent) {
	d.Enqueue(ctx, signal, events)
}

// Enqueue never blocks. Events that do not fit in the queue are dropped and
// counted. It returns the number of events queued.
func (d *Dispatcher) Enqueue(_ context.Context, signal *entities.Signal, events []*entities.SignalEvent) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.WebhookQueueDropped.Add(float64(len(events)))
		return 0
	}

	queued := 0
	for _, ev := range events {
		select {
		case d.queue <- job{signal: *signal, event: ev}:
			queued++
		default:
			metrics.WebhookQueueDropped.Inc()
			d.logger.Warn("Webhook queue full, dropping event",
				zap.String("signal_id", signal.ID.String()),
				zap.String("event_id", ev.ID.String()),
				zap.String("event_type", string(ev.EventType)))
		}
	}
	return queued
}

// Deliver sends one event to every active destination of the signal's
// provider that subscribes to it.
func (d *Dispatcher) Deliver(ctx context.Context, signal *entities.Signal, event *entities.SignalEvent) {
	configs, err := d.webhooks.ListActiveByProvider(ctx, signal.ProviderID)
	if err != nil {
		d.logger.Error("Failed to load webhook configs", zap.String("provider_id", signal.ProviderID.String()), zap.Error(err))
		return
	}

	var targets []*entities.WebhookConfig
	for _, cfg := range configs {
		if cfg.Subscribes(event.EventType) {
			targets = append(targets, cfg)
		}
	}
	if len(targets) == 0 {
		return
	}

	body, err := json.Marshal(entities.NewWebhookPayload(signal, event))
	if err != nil {
		d.logger.Error("Failed to marshal webhook payload", zap.String("event_id", event.ID.String()), zap.Error(err))
		return
	}
	secret := d.secretFor(ctx, signal.ProviderID)

	for _, cfg := range targets {
		d.deliverTo(ctx, cfg, signal, event, body, secret)
	}
}

func (d *Dispatcher) secretFor(ctx context.Context, providerID uuid.UUID) string {
	if d.secrets == nil {
		return ""
	}
	secret, err := d.secrets.WebhookSecret(ctx, providerID)
	if err != nil {
		d.logger.Warn("Failed to resolve webhook secret, sending unsigned",
			zap.String("provider_id", providerID.String()), zap.Error(err))
		return ""
	}
	return secret
}

func (d *Dispatcher) deliverTo(ctx context.Context, cfg *entities.WebhookConfig, signal *entities.Signal, event *entities.SignalEvent, body []byte, secret string) {
	start := time.Now()
	retrier := retry.NewRetrier(d.policy, d.logger)

	outcome := entities.DeliveryOutcome{WebhookConfigID: cfg.ID}
	err := retrier.Do(ctx, func(attempt int) error {
		if attempt > 1 && !d.deliverable(ctx, cfg.ID) {
			return errDestinationDisabled
		}
		outcome.Attempts = attempt
		res := d.attempt(ctx, cfg, string(event.EventType), event.ID.String(), body, secret)
		outcome.StatusCode = res.status
		d.logAttempt(ctx, cfg, signal, event, body, attempt, res)
		return res.err
	})
	if errors.Is(err, errDestinationDisabled) {
		d.logger.Debug("Destination disabled between attempts, delivery abandoned",
			zap.String("webhook_id", cfg.ID.String()),
			zap.String("event_id", event.ID.String()),
			zap.Int("attempts", outcome.Attempts))
		return
	}
	outcome.Success = err == nil
	outcome.Err = err

	result := "success"
	if !outcome.Success {
		result = "failed"
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	d.deliveryCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
	d.durationHistogram.Record(context.Background(), time.Since(start).Seconds())

	d.applyOutcome(ctx, cfg, outcome)
}

// deliverable re-reads the config so retries stop once the circuit opened
// or the destination was deactivated or deleted.
func (d *Dispatcher) deliverable(ctx context.Context, id uuid.UUID) bool {
	cur, err := d.webhooks.GetByID(ctx, id)
	if err != nil {
		return !domainerrors.IsNotFound(err)
	}
	return cur.IsActive && cur.CircuitState == entities.CircuitStateClosed
}

type attemptResult struct {
	status  int
	excerpt string
	err     error
}

// attempt performs one HTTP POST. Transport errors, 5xx, 408 and 429 are
// retryable; any other non-2xx status is permanent.
func (d *Dispatcher) attempt(ctx context.Context, cfg *entities.WebhookConfig, eventType, idempotencyKey string, body []byte, secret string) attemptResult {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return attemptResult{err: domainerrors.DeliveryError(0, false, err)}
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(eventHeader, eventType)
	req.Header.Set(idempotencyHeader, idempotencyKey)
	if secret != "" {
		req.Header.Set(signing.SignatureHeader, signing.Sign(secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return attemptResult{err: domainerrors.DeliveryError(0, !errors.Is(err, context.Canceled), err)}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, excerptLimit))
	res := attemptResult{status: resp.StatusCode, excerpt: string(raw)}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return res
	}
	retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests
	res.err = domainerrors.DeliveryError(resp.StatusCode, retryable, fmt.Errorf("HTTP %d", resp.StatusCode))
	return res
}

func (d *Dispatcher) logAttempt(ctx context.Context, cfg *entities.WebhookConfig, signal *entities.Signal, event *entities.SignalEvent, body []byte, attempt int, res attemptResult) {
	entry := &entities.NotificationLog{
		ID:              uuid.New(),
		WebhookConfigID: cfg.ID,
		SignalID:        signal.ID,
		EventID:         event.ID,
		EventType:       event.EventType,
		Payload:         types.JSONText(body),
		Attempt:         attempt,
		Success:         res.err == nil,
		CreatedAt:       d.now().UTC(),
	}
	if res.status != 0 {
		status := res.status
		entry.HTTPStatus = &status
	}
	if res.excerpt != "" {
		excerpt := res.excerpt
		entry.ResponseExcerpt = &excerpt
	}
	if res.err != nil {
		msg := security.MaskString(res.err.Error())
		entry.Error = &msg
	}
	if err := d.logs.Create(ctx, entry); err != nil {
		d.logger.Warn("Failed to write notification log", zap.String("webhook_id", cfg.ID.String()), zap.Error(err))
	}
}

// applyOutcome feeds the final outcome to the breaker under the row lock.
func (d *Dispatcher) applyOutcome(ctx context.Context, cfg *entities.WebhookConfig, outcome entities.DeliveryOutcome) {
	errMsg := ""
	if outcome.Err != nil {
		errMsg = security.MaskString(outcome.Err.Error())
	}

	tripped := false
	updated, err := d.webhooks.Mutate(ctx, cfg.ID, func(c *entities.WebhookConfig) error {
		*c, tripped = d.breaker.OnResult(*c, outcome.Success, errMsg, d.now())
		return nil
	})
	if err != nil {
		d.logger.Error("Failed to update webhook circuit", zap.String("webhook_id", cfg.ID.String()), zap.Error(err))
		return
	}

	if !outcome.Success {
		d.logger.Warn("Webhook delivery failed",
			zap.String("webhook_id", cfg.ID.String()),
			zap.Int("attempts", outcome.Attempts),
			zap.Int("status_code", outcome.StatusCode),
			zap.Int("consecutive_failures", updated.ConsecutiveFailures),
			zap.Error(outcome.Err))
	}
	if !tripped {
		return
	}

	metrics.WebhookCircuitTrips.Inc()
	d.logger.Error("Webhook circuit opened, destination disabled",
		zap.String("webhook_id", updated.ID.String()),
		zap.String("provider_id", updated.ProviderID.String()),
		zap.String("url", security.MaskURL(updated.URL)),
		zap.Int("consecutive_failures", updated.ConsecutiveFailures))
	if d.alerter != nil {
		if err := d.alerter.CircuitOpened(ctx, updated); err != nil {
			d.logger.Warn("Failed to send circuit alert", zap.String("webhook_id", updated.ID.String()), zap.Error(err))
		}
	}
}

// SendTest performs a single delivery of a synthetic event. It is not
// logged and does not touch the circuit.
func (d *Dispatcher) SendTest(ctx context.Context, cfg *entities.WebhookConfig) (*entities.TestDeliveryResult, error) {
	now := d.now().UTC()
	eventID := uuid.New()
	payload := map[string]interface{}{
		"event_id":   eventID,
		"event_type": testEventType,
		"timestamp":  now,
		"message":    "test delivery",
		"webhook_id": cfg.ID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domainerrors.InternalError("failed to build test payload", err)
	}

	start := time.Now()
	res := d.attempt(ctx, cfg, testEventType, eventID.String(), body, d.secretFor(ctx, cfg.ProviderID))
	out := &entities.TestDeliveryResult{
		Status:    "success",
		Code:      res.status,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if res.err != nil {
		out.Status = "failed"
		out.Message = res.err.Error()
	}
	return out, nil
}

// Shutdown stops intake, drains the queue and waits for the workers. Work
// still running at the deadline is cancelled.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	var err error
	d.stopOnce.Do(func() {
		d.logger.Info("Shutting down webhook dispatcher", zap.Duration("timeout", timeout), zap.Int("queued", len(d.queue)))
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			d.workCancel()
			d.logger.Info("Webhook dispatcher shutdown complete")
		case <-time.After(timeout):
			d.workCancel()
			err = fmt.Errorf("webhook dispatcher shutdown timeout exceeded")
		}
	})
	return err
}
