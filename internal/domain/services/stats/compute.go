// Package stats computes provider performance from closed signals. The
// functions here are pure; Service wires them to storage.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Outcome is the classification of one closed signal.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeWin
	OutcomeLoss
	OutcomePartial
	OutcomeBreakeven
)

// Classify maps a closed signal to its outcome. Open and INVALID signals
// return OutcomeNone.
func Classify(s *entities.Signal) Outcome {
	r := realizedR(s)
	switch s.Status {
	case entities.SignalStatusTP3Hit:
		return OutcomeWin
	case entities.SignalStatusSLHit:
		if s.MaxTPHit >= 1 {
			return OutcomePartial
		}
		return OutcomeLoss
	case entities.SignalStatusClosed:
		switch r.Sign() {
		case 1:
			return OutcomeWin
		case -1:
			return OutcomeLoss
		}
		return OutcomeBreakeven
	case entities.SignalStatusPending, entities.SignalStatusActive, entities.SignalStatusTP1Hit,
		entities.SignalStatusTP2Hit, entities.SignalStatusInvalid:
		return OutcomeNone
	}
	return OutcomeNone
}

func realizedR(s *entities.Signal) decimal.Decimal {
	if s.RValue.Valid {
		return s.RValue.Decimal
	}
	return zero
}

// sortClosed returns a copy ordered by (closed_at, id).
func sortClosed(closed []*entities.Signal) []*entities.Signal {
	out := make([]*entities.Signal, 0, len(closed))
	for _, s := range closed {
		if s.ClosedAt != nil && Classify(s) != OutcomeNone {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ClosedAt.Equal(*b.ClosedAt) {
			return a.ClosedAt.Before(*b.ClosedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return out
}

func ratio(num, den int) decimal.Decimal {
	if den == 0 {
		return zero
	}
	return decimal.NewFromInt(int64(num)).Mul(hundred).Div(decimal.NewFromInt(int64(den))).Round(2)
}

// Compute folds closed signals into a Rollup. The input order does not
// matter and the same set always yields the same rollup.
func Compute(closed []*entities.Signal) entities.Rollup {
	signals := sortClosed(closed)
	rl := entities.Rollup{
		TP1HitRate: zero, TP2HitRate: zero, TP3HitRate: zero,
		WinRate: zero, LossRate: zero,
		TotalR: zero, AvgR: zero, BestR: zero, WorstR: zero,
		AvgWinR: zero, AvgLossR: zero, Expectancy: zero, ProfitFactor: zero,
		MaxDrawdownR: zero, Sharpe: zero,
	}
	if len(signals) == 0 {
		return rl
	}

	var (
		grossWin, grossLoss decimal.Decimal
		equity, peak        decimal.Decimal
		winStreak, lossRun  int
		durationTotal       int64
		rs                  = make([]decimal.Decimal, 0, len(signals))
	)
	rl.BestR = realizedR(signals[0])
	rl.WorstR = realizedR(signals[0])

	for _, s := range signals {
		r := realizedR(s)
		rs = append(rs, r)
		rl.TotalSignals++
		rl.TotalR = rl.TotalR.Add(r)
		if r.GreaterThan(rl.BestR) {
			rl.BestR = r
		}
		if r.LessThan(rl.WorstR) {
			rl.WorstR = r
		}
		if r.IsPositive() {
			grossWin = grossWin.Add(r)
		} else if r.IsNegative() {
			grossLoss = grossLoss.Add(r.Abs())
		}

		if s.MaxTPHit >= 1 {
			rl.TP1Hits++
		}
		if s.MaxTPHit >= 2 {
			rl.TP2Hits++
		}
		if s.MaxTPHit >= 3 {
			rl.TP3Hits++
		}

		switch Classify(s) {
		case OutcomeWin:
			rl.Wins++
			winStreak++
			lossRun = 0
		case OutcomeLoss:
			rl.Losses++
			lossRun++
			winStreak = 0
		case OutcomePartial:
			rl.Partials++
			winStreak, lossRun = 0, 0
		case OutcomeBreakeven:
			rl.Breakevens++
			winStreak, lossRun = 0, 0
		case OutcomeNone:
		}
		if winStreak > rl.MaxConsecutiveWins {
			rl.MaxConsecutiveWins = winStreak
		}
		if lossRun > rl.MaxConsecutiveLosses {
			rl.MaxConsecutiveLosses = lossRun
		}

		equity = equity.Add(r)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(rl.MaxDrawdownR) {
			rl.MaxDrawdownR = dd
		}

		if d := s.ClosedAt.Sub(s.EntryTime); d > 0 {
			durationTotal += int64(d / time.Second)
		}
	}

	n := decimal.NewFromInt(int64(rl.TotalSignals))
	decided := rl.Wins + rl.Losses

	rl.TP1HitRate = ratio(rl.TP1Hits, rl.TotalSignals)
	rl.TP2HitRate = ratio(rl.TP2Hits, rl.TotalSignals)
	rl.TP3HitRate = ratio(rl.TP3Hits, rl.TotalSignals)
	rl.WinRate = ratio(rl.Wins, decided)
	rl.LossRate = ratio(rl.Losses, decided)

	rl.AvgR = rl.TotalR.Div(n).Round(4)
	rl.AvgWinR, rl.AvgLossR = averageWinLoss(signals)
	rl.Expectancy = rl.WinRate.Div(hundred).Mul(rl.AvgWinR).
		Sub(rl.LossRate.Div(hundred).Mul(rl.AvgLossR)).Round(4)
	if grossLoss.IsPositive() {
		rl.ProfitFactor = grossWin.Div(grossLoss).Round(4)
	}
	rl.Sharpe = sharpe(rs)
	rl.AvgDurationSeconds = durationTotal / int64(rl.TotalSignals)

	rl.TotalR = rl.TotalR.Round(4)
	rl.BestR = rl.BestR.Round(4)
	rl.WorstR = rl.WorstR.Round(4)
	rl.MaxDrawdownR = rl.MaxDrawdownR.Round(4)

	first := signals[0].ClosedAt.UTC()
	last := signals[len(signals)-1].ClosedAt.UTC()
	rl.FirstClosedAt = &first
	rl.LastClosedAt = &last
	return rl
}

// averageWinLoss averages r over wins and over losses. The loss average is
// a magnitude.
func averageWinLoss(signals []*entities.Signal) (decimal.Decimal, decimal.Decimal) {
	var winSum, lossSum decimal.Decimal
	var wins, losses int64
	for _, s := range signals {
		switch Classify(s) {
		case OutcomeWin:
			winSum = winSum.Add(realizedR(s))
			wins++
		case OutcomeLoss:
			lossSum = lossSum.Add(realizedR(s).Abs())
			losses++
		case OutcomePartial, OutcomeBreakeven, OutcomeNone:
		}
	}
	avgWin, avgLoss := zero, zero
	if wins > 0 {
		avgWin = winSum.Div(decimal.NewFromInt(wins)).Round(4)
	}
	if losses > 0 {
		avgLoss = lossSum.Div(decimal.NewFromInt(losses)).Round(4)
	}
	return avgWin, avgLoss
}

// sharpe is mean(r)/stddev(r) using the sample deviation.
func sharpe(rs []decimal.Decimal) decimal.Decimal {
	if len(rs) < 2 {
		return zero
	}
	n := decimal.NewFromInt(int64(len(rs)))
	sum := zero
	for _, r := range rs {
		sum = sum.Add(r)
	}
	mean := sum.Div(n)
	variance := zero
	for _, r := range rs {
		d := r.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(n.Sub(decimal.NewFromInt(1)))
	sd := math.Sqrt(variance.InexactFloat64())
	if sd == 0 || math.IsNaN(sd) {
		return zero
	}
	return mean.Div(decimal.NewFromFloat(sd)).Round(4)
}
