package lifecycle

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// Replay rebuilds the status projection of a signal by folding its event log
// over the creation-time levels of base. Excursions and last price are not
// part of the log and are carried over from base unchanged.
func Replay(base entities.Signal, events []*entities.SignalEvent) (entities.Signal, error) {
	s := base
	s.Status = entities.SignalStatusPending
	s.MaxTPHit = 0
	s.ActivatedAt = nil
	s.ClosedAt = nil
	s.CloseReason = nil
	s.ExitPrice = decimal.NullDecimal{}
	s.RValue = decimal.NullDecimal{}
	s.PnLPct = decimal.NullDecimal{}

	ordered := make([]*entities.SignalEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	for _, ev := range ordered {
		if err := fold(&s, ev); err != nil {
			return s, fmt.Errorf("replay %s event %d: %w", s.ID, ev.Sequence, err)
		}
	}
	if !s.Status.IsTerminal() {
		s.NextPollAt = base.NextPollAt
	}
	return s, nil
}

func fold(s *entities.Signal, ev *entities.SignalEvent) error {
	at := ev.EventTime.UTC()
	switch ev.EventType {
	case entities.EventTypeEntryRegistered, entities.EventTypePriceUpdate:
		return nil

	case entities.EventTypeValidationFailed:
		if s.Status != entities.SignalStatusPending {
			return fmt.Errorf("%w: %s -> INVALID", ErrInvalidTransition, s.Status)
		}
		s.Status = entities.SignalStatusInvalid
		s.NextPollAt = nil
		return nil

	case entities.EventTypeEntryHit:
		if err := step(s, entities.SignalStatusActive); err != nil {
			return err
		}
		s.ActivatedAt = &at
		return nil

	case entities.EventTypeTP1Hit, entities.EventTypeTP2Hit:
		target := ev.EventType.TargetStatus()
		if err := step(s, target); err != nil {
			return err
		}
		s.MaxTPHit = target.TPLevel()
		return nil

	case entities.EventTypeTP3Hit, entities.EventTypeSLHit:
		target := ev.EventType.TargetStatus()
		if err := step(s, target); err != nil {
			return err
		}
		if !ev.Price.Valid {
			return fmt.Errorf("%s event without price", ev.EventType)
		}
		if target == entities.SignalStatusTP3Hit {
			s.MaxTPHit = 3
		}
		finalize(s, target, ev.EventType, ev.Price.Decimal, at)
		return nil

	case entities.EventTypeManualClose, entities.EventTypeExpired:
		if err := step(s, entities.SignalStatusClosed); err != nil {
			return err
		}
		if !ev.Price.Valid {
			return fmt.Errorf("%s event without price", ev.EventType)
		}
		finalize(s, entities.SignalStatusClosed, ev.EventType, ev.Price.Decimal, at)
		return nil
	}
	return fmt.Errorf("unknown event type %q", ev.EventType)
}

func step(s *entities.Signal, to entities.SignalStatus) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, s.Status)
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// Verify replays the log and lists every projected field that disagrees with
// the stored signal. An empty result means the projection is consistent.
func Verify(stored entities.Signal, events []*entities.SignalEvent) ([]string, error) {
	replayed, err := Replay(stored, events)
	if err != nil {
		return nil, err
	}

	var mismatches []string
	if replayed.Status != stored.Status {
		mismatches = append(mismatches, fmt.Sprintf("status: stored=%s replayed=%s", stored.Status, replayed.Status))
	}
	if replayed.MaxTPHit != stored.MaxTPHit {
		mismatches = append(mismatches, fmt.Sprintf("max_tp_hit: stored=%d replayed=%d", stored.MaxTPHit, replayed.MaxTPHit))
	}
	if !sameTime(replayed.ActivatedAt, stored.ActivatedAt) {
		mismatches = append(mismatches, "activated_at")
	}
	if !sameTime(replayed.ClosedAt, stored.ClosedAt) {
		mismatches = append(mismatches, "closed_at")
	}
	if !sameReason(replayed.CloseReason, stored.CloseReason) {
		mismatches = append(mismatches, "close_reason")
	}
	if !sameDecimal(replayed.ExitPrice, stored.ExitPrice) {
		mismatches = append(mismatches, "exit_price")
	}
	if !sameDecimal(replayed.RValue, stored.RValue) {
		mismatches = append(mismatches, "r_value")
	}
	if !sameDecimal(replayed.PnLPct, stored.PnLPct) {
		mismatches = append(mismatches, "pnl_pct")
	}
	return mismatches, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameReason(a, b *entities.EventType) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameDecimal(a, b decimal.NullDecimal) bool {
	if !a.Valid || !b.Valid {
		return a.Valid == b.Valid
	}
	return a.Decimal.Equal(b.Decimal)
}
