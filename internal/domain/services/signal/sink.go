package signal

import (
	"context"

	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	"github.com/signal-bridge/signal_service/pkg/metrics"
)

// EventSink receives events after they are committed. Implementations must
// not block the caller for long; slow consumers queue or drop.
type EventSink interface {
	Publish(ctx context.Context, signal *entities.Signal, events []*entities.SignalEvent)
}

// FanOut publishes to every sink in order.
type FanOut []EventSink

func (f FanOut) Publish(ctx context.Context, signal *entities.Signal, events []*entities.SignalEvent) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		metrics.SignalEventsTotal.WithLabelValues(string(ev.EventType)).Inc()
	}
	for _, s := range f {
		if s != nil {
			s.Publish(ctx, signal, events)
		}
	}
}

// StatsTrigger is implemented by the stats aggregator.
type StatsTrigger interface {
	Trigger(providerID uuid.UUID)
}

// TerminalTrigger asks for a stats recompute when a signal closes.
type TerminalTrigger struct {
	Stats StatsTrigger
}

func (t TerminalTrigger) Publish(_ context.Context, signal *entities.Signal, _ []*entities.SignalEvent) {
	if t.Stats == nil || signal == nil {
		return
	}
	if signal.Status.IsTerminal() && signal.Status != entities.SignalStatusInvalid {
		t.Stats.Trigger(signal.ProviderID)
	}
}

type nopSink struct{}

func (nopSink) Publish(context.Context, *entities.Signal, []*entities.SignalEvent) {}
