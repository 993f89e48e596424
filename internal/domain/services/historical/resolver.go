// Package historical backtests open signals against past hourly bars and
// advances them through the same lifecycle the live poller uses.
package historical

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/internal/domain/services/lifecycle"
	signalsvc "github.com/signal-bridge/signal_service/internal/domain/services/signal"
	"github.com/signal-bridge/signal_service/pkg/logger"
	"github.com/signal-bridge/signal_service/pkg/tracing"
)

const (
	// Lookahead is how far past the newest entry bars are fetched.
	Lookahead = 30 * 24 * time.Hour
	// MaxSignals bounds one run.
	MaxSignals = 1000
	// MaxResults bounds the per-signal results echoed in the report.
	MaxResults = 100

	listPageSize = 500
)

// CandleSource returns hourly bars covering [from, to], oldest first.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol string, assetClass entities.AssetClass, from, to time.Time) ([]entities.Candle, error)
}

type Resolver struct {
	signals repositories.SignalRepository
	candles CandleSource
	sink    signalsvc.EventSink
	logger  *logger.Logger
	now     func() time.Time
}

func NewResolver(signals repositories.SignalRepository, candles CandleSource, sink signalsvc.EventSink, logger *logger.Logger) *Resolver {
	return &Resolver{
		signals: signals,
		candles: candles,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve backtests every open signal matching req. Signals are grouped by
// symbol so bars are fetched once per symbol.
func (r *Resolver) Resolve(ctx context.Context, req *entities.HistoricalResolveRequest) (*entities.HistoricalReport, error) {
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return nil, domainerrors.ValidationError("from", "must not be after to")
	}

	ctx, span := tracing.StartSpan(ctx, "historical", "resolve_batch",
		attribute.String("symbol", req.Symbol))
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	candidates, err := r.candidates(ctx, req)
	if err != nil {
		spanErr = err
		return nil, domainerrors.InternalError("failed to list signals", err)
	}

	report := &entities.HistoricalReport{
		Total:   len(candidates),
		WinRate: decimal.Zero,
		TotalR:  decimal.Zero,
		Results: []*entities.HistoricalResult{},
	}
	if len(candidates) == 0 {
		return report, nil
	}
	r.logger.Info("Resolving historical signals", "count", len(candidates), "symbol", req.Symbol)

	for _, group := range groupBySymbol(candidates) {
		if err := ctx.Err(); err != nil {
			spanErr = err
			return nil, err
		}
		r.resolveGroup(ctx, group, report)
	}

	if decided := report.Wins + report.Losses; decided > 0 {
		report.WinRate = decimal.NewFromInt(int64(report.Wins)).
			Div(decimal.NewFromInt(int64(decided))).Round(lifecycle.OutcomePrecision)
	}
	r.logger.Info("Historical resolution finished",
		"total", report.Total,
		"resolved", report.Resolved,
		"advanced", report.Advanced,
		"unfilled", report.Unfilled,
		"failed", report.Failed,
		"conflicts", report.Conflicts)
	return report, nil
}

// candidates lists every pollable signal matching req, oldest entry first.
func (r *Resolver) candidates(ctx context.Context, req *entities.HistoricalResolveRequest) ([]*entities.Signal, error) {
	var out []*entities.Signal
	for _, status := range entities.PollableStatuses {
		status := status
		for offset := 0; ; offset += listPageSize {
			page, total, err := r.signals.List(ctx, entities.SignalFilter{
				ProviderID: req.ProviderID,
				Symbol:     req.Symbol,
				Status:     &status,
				Limit:      listPageSize,
				Offset:     offset,
			})
			if err != nil {
				return nil, err
			}
			for _, s := range page {
				if inWindow(s.EntryTime, req) {
					out = append(out, s)
				}
			}
			if len(page) < listPageSize || offset+len(page) >= total {
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	if len(out) > MaxSignals {
		out = out[:MaxSignals]
	}
	return out, nil
}

func inWindow(at time.Time, req *entities.HistoricalResolveRequest) bool {
	if req.From != nil && at.Before(*req.From) {
		return false
	}
	if req.To != nil && at.After(*req.To) {
		return false
	}
	return true
}

func groupBySymbol(signals []*entities.Signal) [][]*entities.Signal {
	index := make(map[string]int)
	var groups [][]*entities.Signal
	for _, s := range signals {
		i, ok := index[s.Symbol]
		if !ok {
			i = len(groups)
			index[s.Symbol] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], s)
	}
	return groups
}

func (r *Resolver) resolveGroup(ctx context.Context, group []*entities.Signal, report *entities.HistoricalReport) {
	first := group[0]
	from := first.EntryTime.Add(-time.Hour)
	to := group[len(group)-1].EntryTime.Add(Lookahead)
	if now := r.now().UTC(); to.After(now) {
		to = now
	}

	bars, err := r.candles.GetCandles(ctx, first.Symbol, first.AssetClass, from, to)
	if err != nil || len(bars) == 0 {
		r.logger.Warn("No bars for symbol, skipping its signals", "symbol", first.Symbol, "signals", len(group), "error", err)
		report.Failed += len(group)
		return
	}

	for _, sig := range group {
		res := r.resolveSignal(ctx, sig, barsFrom(bars, sig.EntryTime))
		tally(report, res)
		if len(report.Results) < MaxResults {
			report.Results = append(report.Results, res)
		}
	}
}

// barsFrom drops bars opening before the signal was entered.
func barsFrom(bars []entities.Candle, entry time.Time) []entities.Candle {
	i := sort.Search(len(bars), func(i int) bool { return !bars[i].OpenTime.Before(entry) })
	return bars[i:]
}

func (r *Resolver) resolveSignal(ctx context.Context, sig *entities.Signal, bars []entities.Candle) *entities.HistoricalResult {
	res := &entities.HistoricalResult{
		SignalID: sig.ID,
		Symbol:   sig.Symbol,
		Status:   sig.Status,
		Events:   []entities.EventType{},
		Candles:  len(bars),
	}

	t := Fold(*sig, bars)
	if !t.Changed() {
		res.Outcome = entities.HistoricalOpen
		if sig.Status == entities.SignalStatusPending {
			res.Outcome = entities.HistoricalNoFill
		}
		return res
	}

	next := t.Signal
	events := signalsvc.EventPointers(t.Events(entities.EventSourceHistorical))
	if err := r.signals.Persist(ctx, repositories.GuardOf(sig), &next, events); err != nil {
		if domainerrors.IsStorageConflict(err) {
			r.logger.Debug("Signal changed during backtest, skipping", "signal_id", sig.ID)
			res.Outcome = entities.HistoricalConflict
			return res
		}
		r.logger.Error("Failed to persist backtested signal", "signal_id", sig.ID, "error", err)
		res.Outcome = entities.HistoricalFailed
		return res
	}
	if r.sink != nil {
		r.sink.Publish(ctx, &next, events)
	}

	for _, tr := range t.Triggers {
		res.Events = append(res.Events, tr.EventType)
	}
	res.Status = next.Status
	res.Exit = next.ExitPrice
	res.RValue = next.RValue
	res.Outcome = Classify(&next)
	return res
}

// Classify maps a signal's state to a backtest outcome.
func Classify(s *entities.Signal) entities.HistoricalOutcome {
	switch s.Status {
	case entities.SignalStatusTP3Hit:
		return entities.HistoricalWin
	case entities.SignalStatusSLHit:
		if s.MaxTPHit > 0 {
			return entities.HistoricalPartial
		}
		return entities.HistoricalLoss
	case entities.SignalStatusPending:
		return entities.HistoricalNoFill
	}
	return entities.HistoricalOpen
}

func tally(report *entities.HistoricalReport, res *entities.HistoricalResult) {
	switch res.Outcome {
	case entities.HistoricalWin:
		report.Resolved++
		report.Wins++
	case entities.HistoricalLoss:
		report.Resolved++
		report.Losses++
	case entities.HistoricalPartial:
		report.Resolved++
		report.Partials++
	case entities.HistoricalOpen:
		if len(res.Events) > 0 {
			report.Advanced++
		}
	case entities.HistoricalNoFill:
		report.Unfilled++
	case entities.HistoricalConflict:
		report.Conflicts++
	default:
		report.Failed++
	}
	if res.RValue.Valid {
		report.TotalR = report.TotalR.Add(res.RValue.Decimal)
	}
}

// Fold replays bars over s. Each bar feeds its adverse extreme before its
// favorable one, so a bar spanning both the stop and a target resolves to
// the stop.
func Fold(s entities.Signal, bars []entities.Candle) lifecycle.Transition {
	out := lifecycle.Transition{Signal: s}
	for _, bar := range bars {
		if out.Signal.Status.IsTerminal() {
			break
		}
		for _, price := range barPath(s.Direction, bar) {
			t := lifecycle.Apply(out.Signal, lifecycle.PriceSample{Price: price, At: bar.OpenTime})
			out.Signal = t.Signal
			out.Triggers = append(out.Triggers, t.Triggers...)
			if out.Signal.Status.IsTerminal() {
				break
			}
		}
	}
	if !out.Signal.Status.IsTerminal() && len(bars) > 0 {
		last := bars[len(bars)-1]
		at := last.OpenTime.Add(time.Hour).UTC()
		out.Signal.LastPrice = decimal.NewNullDecimal(last.Close)
		out.Signal.LastPriceAt = &at
	}
	return out
}

func barPath(d entities.Direction, bar entities.Candle) [2]decimal.Decimal {
	if d == entities.DirectionShort {
		return [2]decimal.Decimal{bar.High, bar.Low}
	}
	return [2]decimal.Decimal{bar.Low, bar.High}
}
