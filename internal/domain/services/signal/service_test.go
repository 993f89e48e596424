package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories/repotest"
	"github.com/signal-bridge/signal_service/internal/domain/services/validation"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

var testNow = time.Date(2025, 2, 13, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []*entities.SignalEvent
}

func (r *recordingSink) Publish(_ context.Context, _ *entities.Signal, events []*entities.SignalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingSink) types() []entities.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entities.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

type countingTrigger struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (c *countingTrigger) Trigger(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, id)
}

func dp(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func newTestService() (*Service, *repotest.Signals, *recordingSink) {
	repo := repotest.NewSignals()
	sink := &recordingSink{}
	svc := NewService(repo, validation.NewValidator(validation.DefaultConfig()), sink, logger.Nop())
	svc.now = func() time.Time { return testNow }
	return svc, repo, sink
}

func longSubmission(providerID uuid.UUID) *entities.SignalSubmission {
	return &entities.SignalSubmission{
		ProviderID:  providerID,
		Symbol:      "BTC/USDT",
		Direction:   "LONG",
		EntryPrice:  dp("50000"),
		StopLoss:    dp("49000"),
		TakeProfit1: dp("52000"),
		TakeProfit2: dp("53000"),
		TakeProfit3: dp("54000"),
	}
}

func TestSubmit_Accepted(t *testing.T) {
	svc, repo, sink := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, longSubmission(uuid.New()))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 100, res.Confidence)
	assert.Equal(t, "BTCUSDT", res.Signal.Symbol)
	assert.Equal(t, entities.SignalStatusPending, res.Signal.Status)

	events, err := repo.Events(ctx, res.Signal.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entities.EventTypeEntryRegistered, events[0].EventType)
	assert.True(t, events[0].Price.Decimal.Equal(decimal.RequireFromString("50000")))
	assert.Equal(t, []entities.EventType{entities.EventTypeEntryRegistered}, sink.types())
}

func TestSubmit_InvalidIsStored(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	sub := longSubmission(uuid.New())
	sub.StopLoss = dp("51000")

	res, err := svc.Submit(ctx, sub)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.NotEmpty(t, res.Errors)
	assert.Equal(t, entities.SignalStatusInvalid, res.Signal.Status)

	stored, err := repo.GetByID(ctx, res.Signal.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SignalStatusInvalid, stored.Status)
	assert.Nil(t, stored.NextPollAt)

	events, err := repo.Events(ctx, res.Signal.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entities.EventTypeValidationFailed, events[0].EventType)
	assert.Contains(t, string(events[0].Metadata), "errors")
}

func TestSubmit_UnrepresentableIsRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	providerID := uuid.New()

	sub := longSubmission(providerID)
	sub.Direction = "sideways"

	_, err := svc.Submit(ctx, sub)
	require.Error(t, err)
	assert.True(t, domainerrors.IsValidation(err))

	_, total, err := repo.List(ctx, entities.SignalFilter{ProviderID: &providerID, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSubmit_DuplicateExternalID(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	providerID := uuid.New()

	sub := longSubmission(providerID)
	sub.ExternalID = "alert-42"
	first, err := svc.Submit(ctx, sub)
	require.NoError(t, err)

	again := longSubmission(providerID)
	again.ExternalID = " alert-42 "
	again.EntryPrice = dp("1")
	second, err := svc.Submit(ctx, again)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Signal.ID, second.Signal.ID)
	assert.True(t, second.Signal.EntryPrice.Equal(decimal.RequireFromString("50000")))

	other, err := svc.Submit(ctx, longSubmission(uuid.New()))
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
}

func TestClose_Manual(t *testing.T) {
	svc, repo, sink := newTestService()
	ctx := context.Background()
	owner := uuid.New()

	res, err := svc.Submit(ctx, longSubmission(owner))
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = svc.Close(ctx, res.Signal.ID, &stranger)
	assert.True(t, domainerrors.IsForbidden(err))

	closed, err := svc.Close(ctx, res.Signal.ID, &owner)
	require.NoError(t, err)
	assert.Equal(t, entities.SignalStatusClosed, closed.Status)
	require.NotNil(t, closed.CloseReason)
	assert.Equal(t, entities.EventTypeManualClose, *closed.CloseReason)
	assert.True(t, closed.ExitPrice.Decimal.Equal(decimal.RequireFromString("50000")))
	assert.True(t, closed.RValue.Decimal.IsZero())
	assert.Nil(t, closed.NextPollAt)

	events, err := repo.Events(ctx, res.Signal.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, entities.EventTypeManualClose, events[1].EventType)
	assert.Equal(t, entities.EventSourceManual, events[1].Source)
	assert.Greater(t, events[1].Sequence, events[0].Sequence)
	assert.Contains(t, sink.types(), entities.EventTypeManualClose)

	_, err = svc.Close(ctx, res.Signal.ID, nil)
	assert.True(t, domainerrors.IsConflict(err))
}

func TestClose_UsesLastPrice(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, longSubmission(uuid.New()))
	require.NoError(t, err)

	sig, err := repo.GetByID(ctx, res.Signal.ID)
	require.NoError(t, err)
	sig.Status = entities.SignalStatusActive
	sig.LastPrice = decimal.NewNullDecimal(decimal.RequireFromString("51000"))
	repo.Put(*sig)

	closed, err := svc.Close(ctx, sig.ID, nil)
	require.NoError(t, err)
	assert.True(t, closed.ExitPrice.Decimal.Equal(decimal.RequireFromString("51000")))
	assert.Equal(t, "1", closed.RValue.Decimal.String())
}

func TestClose_FallsBackToLatestSnapshot(t *testing.T) {
	tests := []struct {
		name     string
		snapshot string
		want     string
	}{
		{"snapshot available", "50500", "50500"},
		{"no snapshot", "", "50000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			snapshots := repotest.NewSnapshots()
			svc.SetSnapshots(snapshots)
			ctx := context.Background()

			res, err := svc.Submit(ctx, longSubmission(uuid.New()))
			require.NoError(t, err)
			require.False(t, res.Signal.LastPrice.Valid)

			require.NoError(t, snapshots.Create(ctx, &entities.PriceSnapshot{
				ID: uuid.New(), Symbol: "ETHUSDT", Price: decimal.RequireFromString("3000"), SnapshotTime: testNow,
			}))
			if tt.snapshot != "" {
				require.NoError(t, snapshots.Create(ctx, &entities.PriceSnapshot{
					ID: uuid.New(), Symbol: res.Signal.Symbol, Price: decimal.RequireFromString(tt.snapshot), SnapshotTime: testNow,
				}))
			}

			closed, err := svc.Close(ctx, res.Signal.ID, nil)
			require.NoError(t, err)
			assert.True(t, closed.ExitPrice.Decimal.Equal(decimal.RequireFromString(tt.want)), "exit %s", closed.ExitPrice.Decimal)
		})
	}
}

func TestClose_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Close(context.Background(), uuid.New(), nil)
	assert.True(t, domainerrors.IsNotFound(err))
}

func TestList_Validates(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.List(ctx, entities.SignalFilter{Limit: 501})
	assert.True(t, domainerrors.IsValidation(err))

	bad := entities.SignalStatus("SIDEWAYS")
	_, err = svc.List(ctx, entities.SignalFilter{Status: &bad})
	assert.True(t, domainerrors.IsValidation(err))

	_, err = svc.Submit(ctx, longSubmission(uuid.New()))
	require.NoError(t, err)

	page, err := svc.List(ctx, entities.SignalFilter{Symbol: "btc-usdt"})
	require.NoError(t, err)
	assert.Equal(t, 50, page.Limit)
	assert.Equal(t, 1, page.Total)
}

func TestReplay_Consistent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, longSubmission(uuid.New()))
	require.NoError(t, err)
	_, err = svc.Close(ctx, res.Signal.ID, nil)
	require.NoError(t, err)

	report, err := svc.Replay(ctx, res.Signal.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "mismatches: %v", report.Mismatches)
	assert.Equal(t, 2, report.EventCount)
	assert.Equal(t, entities.SignalStatusClosed, report.Replayed.Status)
}

func TestTerminalTrigger(t *testing.T) {
	trigger := &countingTrigger{}
	sink := TerminalTrigger{Stats: trigger}
	providerID := uuid.New()

	sink.Publish(context.Background(), &entities.Signal{ProviderID: providerID, Status: entities.SignalStatusActive}, nil)
	sink.Publish(context.Background(), &entities.Signal{ProviderID: providerID, Status: entities.SignalStatusInvalid}, nil)
	sink.Publish(context.Background(), &entities.Signal{ProviderID: providerID, Status: entities.SignalStatusSLHit}, nil)

	assert.Equal(t, []uuid.UUID{providerID}, trigger.calls)
}

func TestFanOut_SkipsEmpty(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	fan := FanOut{a, nil, b}

	fan.Publish(context.Background(), &entities.Signal{}, nil)
	assert.Empty(t, a.types())

	ev := entities.NewSignalEvent(uuid.New(), entities.EventTypeEntryHit, nil, entities.EventSourcePoller, testNow, nil)
	fan.Publish(context.Background(), &entities.Signal{}, []*entities.SignalEvent{&ev})
	assert.Len(t, a.types(), 1)
	assert.Len(t, b.types(), 1)
}
