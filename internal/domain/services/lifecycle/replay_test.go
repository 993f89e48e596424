package lifecycle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// drive runs prices through Apply and returns the final projection together
// with the event log the poller would have persisted.
func drive(s entities.Signal, prices ...string) (entities.Signal, []*entities.SignalEvent) {
	registered := entities.NewSignalEvent(s.ID, entities.EventTypeEntryRegistered, nil, entities.EventSourceValidator, s.EntryTime, nil)
	registered.Sequence = 1
	log := []*entities.SignalEvent{&registered}

	at := time.Date(2025, 2, 13, 12, 0, 0, 0, time.UTC)
	for i, p := range prices {
		tr := Apply(s, PriceSample{Price: d(p), At: at.Add(time.Duration(i) * time.Second)})
		s = tr.Signal
		for _, ev := range tr.Events(entities.EventSourcePoller) {
			ev := ev
			ev.Sequence = int64(len(log) + 1)
			log = append(log, &ev)
		}
	}
	return s, log
}

func TestReplay_MatchesProjection(t *testing.T) {
	cases := map[string][]string{
		"stop after tp1": {"101", "111", "94"},
		"full cascade":   {"100", "135"},
		"still pending":  {"99"},
		"open at tp2":    {"101", "121"},
	}
	for name, prices := range cases {
		t.Run(name, func(t *testing.T) {
			stored, log := drive(longSignal(), prices...)

			replayed, err := Replay(stored, log)
			require.NoError(t, err)
			assert.Equal(t, stored.Status, replayed.Status)
			assert.Equal(t, stored.MaxTPHit, replayed.MaxTPHit)

			mismatches, err := Verify(stored, log)
			require.NoError(t, err)
			assert.Empty(t, mismatches)
		})
	}
}

func TestReplay_ManualClose(t *testing.T) {
	stored, log := drive(longSignal(), "101")
	tr, err := Close(stored, d("103"), time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC), entities.EventTypeManualClose)
	require.NoError(t, err)
	for _, ev := range tr.Events(entities.EventSourceManual) {
		ev := ev
		ev.Sequence = int64(len(log) + 1)
		log = append(log, &ev)
	}

	mismatches, err := Verify(tr.Signal, log)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestReplay_OrdersBySequence(t *testing.T) {
	stored, log := drive(longSignal(), "101", "111", "94")

	reversed := make([]*entities.SignalEvent, len(log))
	for i := range log {
		reversed[len(log)-1-i] = log[i]
	}
	mismatches, err := Verify(stored, reversed)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestVerify_DetectsDrift(t *testing.T) {
	stored, log := drive(longSignal(), "101", "111", "94")
	stored.RValue = decimal.NewNullDecimal(d("-1"))
	stored.MaxTPHit = 0

	mismatches, err := Verify(stored, log)
	require.NoError(t, err)
	assert.Contains(t, mismatches, "r_value")
	assert.Len(t, mismatches, 2)
}

func TestReplay_RejectsEventAfterTerminal(t *testing.T) {
	stored, log := drive(longSignal(), "101", "94")
	extra := entities.NewSignalEvent(stored.ID, entities.EventTypeTP1Hit, nil, entities.EventSourcePoller, time.Now(), nil)
	extra.Sequence = int64(len(log) + 1)
	log = append(log, &extra)

	_, err := Replay(stored, log)
	assert.ErrorIs(t, err, ErrTerminal)
}
