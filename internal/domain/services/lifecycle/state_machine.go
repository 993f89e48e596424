// Package lifecycle drives a signal through its status graph. Everything here
// is a pure function of the signal's current projection and a price sample,
// so the same inputs always produce the same transition.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

var (
	ErrTerminal          = errors.New("signal is in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidReason     = errors.New("close reason must be MANUAL_CLOSE or EXPIRED")
)

// validTransitions is the status graph. Terminal statuses have no edges.
var validTransitions = map[entities.SignalStatus][]entities.SignalStatus{
	entities.SignalStatusPending: {entities.SignalStatusActive, entities.SignalStatusClosed, entities.SignalStatusInvalid},
	entities.SignalStatusActive:  {entities.SignalStatusTP1Hit, entities.SignalStatusSLHit, entities.SignalStatusClosed},
	entities.SignalStatusTP1Hit:  {entities.SignalStatusTP2Hit, entities.SignalStatusSLHit, entities.SignalStatusClosed},
	entities.SignalStatusTP2Hit:  {entities.SignalStatusTP3Hit, entities.SignalStatusSLHit, entities.SignalStatusClosed},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to entities.SignalStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PriceSample is one observed price.
type PriceSample struct {
	Price decimal.Decimal
	At    time.Time
}

// Trigger is a level crossing detected by Apply or a close requested by Close.
type Trigger struct {
	EventType entities.EventType
	Price     decimal.Decimal
	At        time.Time
	From      entities.SignalStatus
	To        entities.SignalStatus
}

// Transition is the result of feeding one sample to a signal.
type Transition struct {
	Signal   entities.Signal
	Triggers []Trigger
}

// Changed reports whether at least one status change happened.
func (t Transition) Changed() bool {
	return len(t.Triggers) > 0
}

// Terminal reports whether the transition ended in a terminal status.
func (t Transition) Terminal() bool {
	return t.Changed() && t.Signal.Status.IsTerminal()
}

// Events materialises the triggers as log entries for the given source.
func (t Transition) Events(source entities.EventSource) []entities.SignalEvent {
	events := make([]entities.SignalEvent, 0, len(t.Triggers))
	for _, tr := range t.Triggers {
		price := tr.Price
		events = append(events, entities.NewSignalEvent(t.Signal.ID, tr.EventType, &price, source, tr.At, map[string]interface{}{
			"from_status": string(tr.From),
			"to_status":   string(tr.To),
		}))
	}
	return events
}

// Apply advances s with one price sample and returns the new projection. The
// input value is not modified.
//
// For an open position the stop is checked before any target, and targets
// are checked strictly in order so a gap through several levels yields one
// trigger per level. A PENDING signal first checks its entry; once filled the
// same sample continues through the stop and target checks.
func Apply(s entities.Signal, sample PriceSample) Transition {
	t := Transition{Signal: s}
	sig := &t.Signal
	if sig.Status.IsTerminal() {
		return t
	}

	price := sample.Price
	at := sample.At.UTC()

	updateExcursions(sig, price)
	sig.LastPrice = decimal.NewNullDecimal(price)
	sig.LastPriceAt = &at

	if sig.Status == entities.SignalStatusPending {
		if !entryTriggered(sig.Direction, price, sig.EntryPrice) {
			return t
		}
		t.fire(entities.EventTypeEntryHit, price, at)
		sig.ActivatedAt = &at
	}

	if stopTriggered(sig.Direction, price, sig.StopLoss) {
		t.fire(entities.EventTypeSLHit, price, at)
		finalize(sig, entities.SignalStatusSLHit, entities.EventTypeSLHit, price, at)
		return t
	}

	for level := sig.Status.TPLevel() + 1; level <= 3; level++ {
		tp, ok := sig.TakeProfit(level)
		if !ok || !targetTriggered(sig.Direction, price, tp) {
			break
		}
		et := tpEvent(level)
		t.fire(et, price, at)
		sig.MaxTPHit = level
		if level == 3 {
			finalize(sig, entities.SignalStatusTP3Hit, et, price, at)
		}
	}
	return t
}

// Close moves a non-terminal signal to CLOSED at price. reason must be
// MANUAL_CLOSE or EXPIRED.
func Close(s entities.Signal, price decimal.Decimal, at time.Time, reason entities.EventType) (Transition, error) {
	if reason != entities.EventTypeManualClose && reason != entities.EventTypeExpired {
		return Transition{Signal: s}, ErrInvalidReason
	}
	if s.Status.IsTerminal() {
		return Transition{Signal: s}, fmt.Errorf("%w: %s", ErrTerminal, s.Status)
	}
	t := Transition{Signal: s}
	at = at.UTC()
	t.fire(reason, price, at)
	finalize(&t.Signal, entities.SignalStatusClosed, reason, price, at)
	return t, nil
}

func (t *Transition) fire(et entities.EventType, price decimal.Decimal, at time.Time) {
	from := t.Signal.Status
	to := et.TargetStatus()
	t.Signal.Status = to
	t.Triggers = append(t.Triggers, Trigger{EventType: et, Price: price, At: at, From: from, To: to})
}

func tpEvent(level int) entities.EventType {
	switch level {
	case 1:
		return entities.EventTypeTP1Hit
	case 2:
		return entities.EventTypeTP2Hit
	default:
		return entities.EventTypeTP3Hit
	}
}

// entryTriggered: LONG fills once price trades at or above entry, SHORT at or below.
func entryTriggered(d entities.Direction, price, entry decimal.Decimal) bool {
	if d == entities.DirectionShort {
		return price.LessThanOrEqual(entry)
	}
	return price.GreaterThanOrEqual(entry)
}

func stopTriggered(d entities.Direction, price, stop decimal.Decimal) bool {
	if d == entities.DirectionShort {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

func targetTriggered(d entities.Direction, price, target decimal.Decimal) bool {
	if d == entities.DirectionShort {
		return price.LessThanOrEqual(target)
	}
	return price.GreaterThanOrEqual(target)
}

// updateExcursions keeps the most favorable and most adverse prices seen.
func updateExcursions(s *entities.Signal, price decimal.Decimal) {
	favorable, adverse := price.GreaterThan, price.LessThan
	if s.Direction == entities.DirectionShort {
		favorable, adverse = price.LessThan, price.GreaterThan
	}
	if !s.MaxFavorable.Valid || favorable(s.MaxFavorable.Decimal) {
		s.MaxFavorable = decimal.NewNullDecimal(price)
	}
	if !s.MaxAdverse.Valid || adverse(s.MaxAdverse.Decimal) {
		s.MaxAdverse = decimal.NewNullDecimal(price)
	}
}

// NearestLevel returns the price of the closest level the signal is still
// waiting on: the entry while PENDING, otherwise the stop or the next target.
func NearestLevel(s *entities.Signal, price decimal.Decimal) decimal.Decimal {
	if s.Status == entities.SignalStatusPending {
		return s.EntryPrice
	}
	nearest := s.StopLoss
	best := price.Sub(s.StopLoss).Abs()
	if tp, ok := s.TakeProfit(s.Status.TPLevel() + 1); ok {
		if d := price.Sub(tp).Abs(); d.LessThan(best) {
			nearest = tp
		}
	}
	return nearest
}
