// Package signal accepts submissions, serves queries and performs manual
// closes. Automated transitions live in the poller and expiry workers.
package signal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/internal/domain/services/lifecycle"
	"github.com/signal-bridge/signal_service/internal/domain/services/validation"
	"github.com/signal-bridge/signal_service/pkg/logger"
	"github.com/signal-bridge/signal_service/pkg/metrics"
)

const closeRetries = 3

// ReplayReport compares the stored projection with a replay of the log.
type ReplayReport struct {
	SignalID   uuid.UUID       `json:"signal_id"`
	Consistent bool            `json:"consistent"`
	Mismatches []string        `json:"mismatches"`
	EventCount int             `json:"event_count"`
	Stored     entities.Signal `json:"stored"`
	Replayed   entities.Signal `json:"replayed"`
}

// SignalPage is one page of a listing.
type SignalPage struct {
	Signals []*entities.Signal `json:"signals"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

type Service struct {
	repo      repositories.SignalRepository
	snapshots repositories.SnapshotRepository
	validator *validation.Validator
	sink      EventSink
	logger    *logger.Logger
	now       func() time.Time
}

func NewService(repo repositories.SignalRepository, validator *validation.Validator, sink EventSink, logger *logger.Logger) *Service {
	if sink == nil {
		sink = nopSink{}
	}
	return &Service{
		repo:      repo,
		validator: validator,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

// SetSnapshots lets manual closes fall back to the latest observed price
// for signals that were never polled.
func (s *Service) SetSnapshots(snapshots repositories.SnapshotRepository) {
	s.snapshots = snapshots
}

// Submit normalizes, validates and stores a submission. Economically
// invalid signals are stored as INVALID and reported through the result;
// only unrepresentable submissions and storage failures return an error.
func (s *Service) Submit(ctx context.Context, sub *entities.SignalSubmission) (*entities.SubmissionResult, error) {
	now := s.now().UTC()
	source := string(sub.Source)
	if source == "" {
		source = string(entities.SignalSourceAPI)
	}

	if externalID := strings.TrimSpace(sub.ExternalID); externalID != "" {
		existing, err := s.repo.GetByExternalID(ctx, sub.ProviderID, externalID)
		if err != nil {
			return nil, domainerrors.InternalError("failed to look up external id", err)
		}
		if existing != nil {
			metrics.SignalsSubmittedTotal.WithLabelValues("duplicate", source).Inc()
			return duplicateResult(existing), nil
		}
	}

	sig, findings, err := validation.Normalize(sub, now)
	if err != nil {
		metrics.SignalsSubmittedTotal.WithLabelValues("rejected", source).Inc()
		return nil, err
	}

	open, err := s.repo.OpenForProvider(ctx, sig.ProviderID, sig.Symbol)
	if err != nil {
		return nil, domainerrors.InternalError("failed to load open signals", err)
	}
	result := s.validator.Validate(sig, findings, open, now)
	s.validator.Stamp(sig, result, now)

	first := firstEvent(sig, result, now)
	if err := s.repo.Create(ctx, sig, first); err != nil {
		if domainerrors.IsConflict(err) && sig.ExternalID != nil {
			existing, lookupErr := s.repo.GetByExternalID(ctx, sig.ProviderID, *sig.ExternalID)
			if lookupErr == nil && existing != nil {
				metrics.SignalsSubmittedTotal.WithLabelValues("duplicate", source).Inc()
				return duplicateResult(existing), nil
			}
		}
		s.logger.Error("Failed to store signal", "error", err, "provider_id", sig.ProviderID, "symbol", sig.Symbol)
		return nil, domainerrors.InternalError("failed to store signal", err)
	}

	outcome := "accepted"
	if !result.Valid() {
		outcome = "invalid"
	}
	metrics.SignalsSubmittedTotal.WithLabelValues(outcome, source).Inc()
	s.logger.Info("Signal submitted",
		"signal_id", sig.ID,
		"provider_id", sig.ProviderID,
		"symbol", sig.Symbol,
		"direction", sig.Direction,
		"status", sig.Status,
		"confidence", result.Confidence,
	)

	s.sink.Publish(ctx, sig, []*entities.SignalEvent{first})

	return &entities.SubmissionResult{
		Signal:     sig,
		Accepted:   result.Valid(),
		Errors:     sig.ValidationErrors,
		Warnings:   sig.ValidationWarnings,
		Confidence: result.Confidence,
	}, nil
}

func firstEvent(sig *entities.Signal, r validation.Result, now time.Time) *entities.SignalEvent {
	if r.Valid() {
		entry := sig.EntryPrice
		ev := entities.NewSignalEvent(sig.ID, entities.EventTypeEntryRegistered, &entry, entities.EventSourceValidator, now, map[string]interface{}{
			"confidence": r.Confidence,
			"warnings":   r.Warnings,
			"rr_ratio":   sig.RRRatio.String(),
		})
		return &ev
	}
	ev := entities.NewSignalEvent(sig.ID, entities.EventTypeValidationFailed, nil, entities.EventSourceValidator, now, map[string]interface{}{
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
	return &ev
}

func duplicateResult(existing *entities.Signal) *entities.SubmissionResult {
	return &entities.SubmissionResult{
		Signal:     existing,
		Accepted:   existing.Status != entities.SignalStatusInvalid,
		Duplicate:  true,
		Errors:     existing.ValidationErrors,
		Warnings:   existing.ValidationWarnings,
		Confidence: existing.ValidationConfidence,
	}
}

// Close manually closes a signal at its last observed price, or at entry
// when it was never priced. providerID restricts the close to the owner;
// nil means an administrator.
func (s *Service) Close(ctx context.Context, id uuid.UUID, providerID *uuid.UUID) (*entities.Signal, error) {
	for attempt := 0; attempt < closeRetries; attempt++ {
		sig, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if providerID != nil && sig.ProviderID != *providerID {
			return nil, domainerrors.ForbiddenError("signal belongs to another provider")
		}

		price := s.closePrice(ctx, sig)
		next, events, err := CloseTransition(*sig, price, s.now(), entities.EventTypeManualClose, entities.EventSourceManual)
		if err != nil {
			return nil, err
		}

		err = s.repo.Persist(ctx, repositories.GuardOf(sig), &next, events)
		if domainerrors.IsStorageConflict(err) {
			continue
		}
		if err != nil {
			return nil, domainerrors.InternalError("failed to close signal", err)
		}
		s.logger.Info("Signal closed manually", "signal_id", id, "price", price.String())
		s.sink.Publish(ctx, &next, events)
		return &next, nil
	}
	return nil, domainerrors.ConflictError("signal", "modified concurrently, try again")
}

// closePrice is the signal's last polled price, else the latest snapshot
// for its symbol, else the entry.
func (s *Service) closePrice(ctx context.Context, sig *entities.Signal) decimal.Decimal {
	if sig.LastPrice.Valid {
		return sig.LastPrice.Decimal
	}
	if s.snapshots != nil {
		snap, err := s.snapshots.Latest(ctx, sig.Symbol)
		if err != nil {
			s.logger.Warn("Failed to read latest snapshot", "symbol", sig.Symbol, "error", err)
		} else if snap != nil {
			return snap.Price
		}
	}
	return sig.EntryPrice
}

// CloseTransition applies a manual or expiry close and returns the next
// projection with its events. Closing a terminal signal is a conflict.
func CloseTransition(sig entities.Signal, price decimal.Decimal, at time.Time, reason entities.EventType, source entities.EventSource) (entities.Signal, []*entities.SignalEvent, error) {
	t, err := lifecycle.Close(sig, price, at, reason)
	if err != nil {
		if errors.Is(err, lifecycle.ErrTerminal) {
			return sig, nil, domainerrors.ConflictError("signal", fmt.Sprintf("already %s", sig.Status))
		}
		return sig, nil, domainerrors.InternalError("close failed", err)
	}
	next := t.Signal
	next.NextPollAt = nil
	return next, EventPointers(t.Events(source)), nil
}

// EventPointers converts transition events for persistence.
func EventPointers(events []entities.SignalEvent) []*entities.SignalEvent {
	out := make([]*entities.SignalEvent, len(events))
	for i := range events {
		out[i] = &events[i]
	}
	return out
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entities.Signal, error) {
	return s.repo.GetByID(ctx, id)
}

// Detail returns the signal with its event timeline.
func (s *Service) Detail(ctx context.Context, id uuid.UUID) (*entities.SignalDetail, error) {
	sig, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.Events(ctx, id)
	if err != nil {
		return nil, domainerrors.InternalError("failed to load events", err)
	}
	return &entities.SignalDetail{Signal: sig, Events: events}, nil
}

func (s *Service) List(ctx context.Context, filter entities.SignalFilter) (*SignalPage, error) {
	if filter.Limit == 0 {
		filter.Limit = 50
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		return nil, domainerrors.ValidationError("limit", "must be between 1 and 500")
	}
	if filter.Offset < 0 {
		return nil, domainerrors.ValidationError("offset", "must not be negative")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, domainerrors.ValidationError("status", fmt.Sprintf("unknown status %q", *filter.Status))
	}
	if filter.Symbol != "" {
		filter.Symbol = validation.NormalizeSymbol(filter.Symbol)
	}
	signals, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, domainerrors.InternalError("failed to list signals", err)
	}
	return &SignalPage{Signals: signals, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Replay rebuilds the projection from the event log and reports drift.
func (s *Service) Replay(ctx context.Context, id uuid.UUID) (*ReplayReport, error) {
	sig, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.Events(ctx, id)
	if err != nil {
		return nil, domainerrors.InternalError("failed to load events", err)
	}
	replayed, err := lifecycle.Replay(*sig, events)
	if err != nil {
		return &ReplayReport{
			SignalID:   id,
			Mismatches: []string{err.Error()},
			EventCount: len(events),
			Stored:     *sig,
			Replayed:   replayed,
		}, nil
	}
	mismatches, err := lifecycle.Verify(*sig, events)
	if err != nil {
		mismatches = []string{err.Error()}
	}
	if mismatches == nil {
		mismatches = []string{}
	}
	if len(mismatches) > 0 {
		s.logger.Warn("Signal projection drift", "signal_id", id, "mismatches", mismatches)
	}
	return &ReplayReport{
		SignalID:   id,
		Consistent: len(mismatches) == 0,
		Mismatches: mismatches,
		EventCount: len(events),
		Stored:     *sig,
		Replayed:   replayed,
	}, nil
}
