package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewPublisher_RequiresBrokersAndTopic(t *testing.T) {
	_, err := NewPublisher(Config{Topic: "t"}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestPublisher_KeysBySignal(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, topic: "signal-events", logger: zap.NewNop()}

	sig := &entities.Signal{ID: uuid.New(), ProviderID: uuid.New(), Symbol: "BTCUSDT", Status: entities.SignalStatusTP1Hit}
	price := decimal.RequireFromString("110")
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	e1 := entities.NewSignalEvent(sig.ID, entities.EventTypeEntryHit, &price, entities.EventSourcePoller, at, nil)
	e2 := entities.NewSignalEvent(sig.ID, entities.EventTypeTP1Hit, &price, entities.EventSourcePoller, at, nil)

	p.Publish(context.Background(), sig, []*entities.SignalEvent{&e1, &e2})

	require.Len(t, w.msgs, 2)
	for _, m := range w.msgs {
		assert.Equal(t, sig.ID.String(), string(m.Key))
	}
	assert.Equal(t, "TP1_HIT", string(w.msgs[1].Headers[0].Value))

	var payload entities.WebhookPayload
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &payload))
	assert.Equal(t, e1.ID, payload.EventID)
	assert.Equal(t, entities.EventTypeEntryHit, payload.EventType)

	p.Publish(context.Background(), sig, nil)
	assert.Len(t, w.msgs, 2)

	w.err = errors.New("broker down")
	p.Publish(context.Background(), sig, []*entities.SignalEvent{&e1})

	require.NoError(t, p.Shutdown(time.Second))
	assert.True(t, w.closed)
}
