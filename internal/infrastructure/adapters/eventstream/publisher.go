// Package eventstream mirrors committed signal events onto a Kafka topic.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "signal_service",
	Name:      "eventstream_messages_total",
	Help:      "Signal events written to the event stream",
}, []string{"result"})

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is an event sink backed by an async Kafka writer. Messages are
// keyed by signal id so one signal's events stay in order on a partition.
type Publisher struct {
	writer writer
	topic  string
	logger *zap.Logger
}

func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: 10 * time.Second,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				publishedTotal.WithLabelValues("error").Add(float64(len(messages)))
				logger.Warn("Event stream write failed", zap.Int("messages", len(messages)), zap.Error(err))
				return
			}
			publishedTotal.WithLabelValues("ok").Add(float64(len(messages)))
		},
	}
	return &Publisher{writer: w, topic: cfg.Topic, logger: logger}, nil
}

// Publish implements the signal event sink.
func (p *Publisher) Publish(ctx context.Context, signal *entities.Signal, events []*entities.SignalEvent) {
	if len(events) == 0 {
		return
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(entities.NewWebhookPayload(signal, ev))
		if err != nil {
			p.logger.Error("Failed to marshal stream event", zap.String("event_id", ev.ID.String()), zap.Error(err))
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(signal.ID.String()),
			Value: value,
			Time:  ev.EventTime,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.EventType)},
				{Key: "provider_id", Value: []byte(signal.ProviderID.String())},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		publishedTotal.WithLabelValues("error").Add(float64(len(msgs)))
		p.logger.Warn("Failed to enqueue stream events",
			zap.String("signal_id", signal.ID.String()),
			zap.String("topic", p.topic),
			zap.Error(err))
	}
}

// Shutdown flushes buffered messages.
func (p *Publisher) Shutdown(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- p.writer.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("event stream shutdown timeout exceeded")
	}
}
