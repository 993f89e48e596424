package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// OutcomePrecision is the number of decimal places kept for r_value and pnl_pct.
const OutcomePrecision = 4

var hundred = decimal.NewFromInt(100)

// RValue is the signed move from entry to exit in units of initial risk.
func RValue(direction entities.Direction, entry, exit, riskDistance decimal.Decimal) decimal.Decimal {
	if riskDistance.Sign() <= 0 {
		return decimal.Zero
	}
	return exit.Sub(entry).Mul(direction.Sign()).Div(riskDistance).Round(OutcomePrecision)
}

// PnLPct is the signed move from entry to exit as a percentage of entry.
func PnLPct(direction entities.Direction, entry, exit decimal.Decimal) decimal.Decimal {
	if entry.Sign() <= 0 {
		return decimal.Zero
	}
	return exit.Sub(entry).Mul(direction.Sign()).Div(entry).Mul(hundred).Round(OutcomePrecision)
}

// RiskDistance is |entry - stop|.
func RiskDistance(entry, stop decimal.Decimal) decimal.Decimal {
	return entry.Sub(stop).Abs()
}

// RRRatio is |tp1 - entry| / risk, rounded to four places. It is zero when
// the risk distance is not positive.
func RRRatio(entry, stop, tp1 decimal.Decimal) decimal.Decimal {
	risk := RiskDistance(entry, stop)
	if risk.Sign() <= 0 {
		return decimal.Zero
	}
	return tp1.Sub(entry).Abs().Div(risk).Round(OutcomePrecision)
}

// finalize stamps the terminal outcome fields on s.
func finalize(s *entities.Signal, status entities.SignalStatus, reason entities.EventType, exit decimal.Decimal, at time.Time) {
	closedAt := at.UTC()
	r := reason
	s.Status = status
	s.ClosedAt = &closedAt
	s.CloseReason = &r
	s.ExitPrice = decimal.NewNullDecimal(exit)
	s.RValue = decimal.NewNullDecimal(RValue(s.Direction, s.EntryPrice, exit, s.RiskDistance))
	s.PnLPct = decimal.NewNullDecimal(PnLPct(s.Direction, s.EntryPrice, exit))
	s.NextPollAt = nil
}
