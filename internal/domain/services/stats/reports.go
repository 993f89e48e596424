package stats

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// Equity builds the cumulative R curve of the closed signals in close order.
func Equity(closed []*entities.Signal) []*entities.EquityPoint {
	signals := sortClosed(closed)
	points := make([]*entities.EquityPoint, 0, len(signals))
	cumulative := decimal.Zero
	var wins, losses int
	for i, s := range signals {
		r := realizedR(s)
		cumulative = cumulative.Add(r)
		switch Classify(s) {
		case OutcomeWin:
			wins++
		case OutcomeLoss:
			losses++
		case OutcomePartial, OutcomeBreakeven, OutcomeNone:
		}
		points = append(points, &entities.EquityPoint{
			Timestamp:   s.ClosedAt.UTC(),
			SignalID:    s.ID,
			RValue:      r.Round(4),
			CumulativeR: cumulative.Round(4),
			TradeCount:  i + 1,
			WinCount:    wins,
			LossCount:   losses,
		})
	}
	return points
}

// Ranked is a provider rollup awaiting a rank.
type Ranked struct {
	ProviderID   uuid.UUID
	ProviderName string
	Rollup       entities.Rollup
}

// Rank orders providers by total R desc, then win rate desc, then provider
// id asc, and truncates to limit when limit > 0. Ranks are 1-based.
func Rank(rows []Ranked, limit int) []*entities.LeaderboardEntry {
	sorted := make([]Ranked, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Rollup, sorted[j].Rollup
		if c := a.TotalR.Cmp(b.TotalR); c != 0 {
			return c > 0
		}
		if c := a.WinRate.Cmp(b.WinRate); c != 0 {
			return c > 0
		}
		return bytes.Compare(sorted[i].ProviderID[:], sorted[j].ProviderID[:]) < 0
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	entries := make([]*entities.LeaderboardEntry, len(sorted))
	for i, row := range sorted {
		entries[i] = &entities.LeaderboardEntry{
			Rank:         i + 1,
			ProviderID:   row.ProviderID,
			ProviderName: row.ProviderName,
			TotalSignals: row.Rollup.TotalSignals,
			WinRate:      row.Rollup.WinRate,
			TotalR:       row.Rollup.TotalR,
			Expectancy:   row.Rollup.Expectancy,
			ProfitFactor: row.Rollup.ProfitFactor,
			Sharpe:       row.Rollup.Sharpe,
		}
	}
	return entries
}
