package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// StateGuard identifies the row version a transition was computed from.
// A persist only succeeds if the stored row still matches it.
type StateGuard struct {
	ID        uuid.UUID
	Status    entities.SignalStatus
	UpdatedAt time.Time
}

// GuardOf returns the guard for the signal as it was read.
func GuardOf(s *entities.Signal) StateGuard {
	return StateGuard{ID: s.ID, Status: s.Status, UpdatedAt: s.UpdatedAt}
}

// SignalRepository persists signals and their append-only event log.
type SignalRepository interface {
	// Create inserts the signal and its first event in one transaction.
	Create(ctx context.Context, signal *entities.Signal, first *entities.SignalEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Signal, error)
	GetByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) (*entities.Signal, error)
	List(ctx context.Context, filter entities.SignalFilter) ([]*entities.Signal, int, error)
	Events(ctx context.Context, signalID uuid.UUID) ([]*entities.SignalEvent, error)
	OpenForProvider(ctx context.Context, providerID uuid.UUID, symbol string) ([]*entities.Signal, error)

	// ClaimDue leases up to limit due signals by pushing their next_poll_at
	// forward by lease. Concurrent callers receive disjoint sets.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*entities.Signal, error)

	// Persist writes next and appends events if the stored row still matches
	// guard. It returns a storage conflict error when it does not; in that case
	// nothing is written. Sequence numbers are assigned on the events.
	Persist(ctx context.Context, guard StateGuard, next *entities.Signal, events []*entities.SignalEvent) error

	// RecordPollFailure writes the backoff only while the signal is still
	// pollable. Otherwise it returns a StorageConflict and writes nothing.
	RecordPollFailure(ctx context.Context, id uuid.UUID, failures int, nextPollAt time.Time) error

	// Closed returns terminal, non-INVALID signals closed at or after since,
	// optionally restricted to one provider.
	Closed(ctx context.Context, providerID *uuid.UUID, since *time.Time) ([]*entities.Signal, error)

	// OpenedBefore returns open signals whose entry_time is before cutoff.
	OpenedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Signal, error)
}

// ProviderRepository persists signal providers.
type ProviderRepository interface {
	Create(ctx context.Context, provider *entities.Provider) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Provider, error)
	GetByName(ctx context.Context, name string) (*entities.Provider, error)
	GetByAPIKeySelector(ctx context.Context, selector string) (*entities.Provider, error)
	List(ctx context.Context, activeOnly bool) ([]*entities.Provider, error)
	Update(ctx context.Context, provider *entities.Provider) error
}

// WebhookRepository persists outbound webhook configurations.
type WebhookRepository interface {
	Create(ctx context.Context, cfg *entities.WebhookConfig) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.WebhookConfig, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*entities.WebhookConfig, error)
	ListActiveByProvider(ctx context.Context, providerID uuid.UUID) ([]*entities.WebhookConfig, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Mutate reads the config under a row lock, applies fn and writes the
	// circuit fields back atomically. fn must not block.
	Mutate(ctx context.Context, id uuid.UUID, fn func(cfg *entities.WebhookConfig) error) (*entities.WebhookConfig, error)
}

// NotificationLogRepository stores one row per delivery attempt.
type NotificationLogRepository interface {
	Create(ctx context.Context, log *entities.NotificationLog) error
	ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit, offset int) ([]*entities.NotificationLog, error)
}

// StatsRepository stores the precomputed provider rollups.
type StatsRepository interface {
	Upsert(ctx context.Context, stats *entities.ProviderStats) error
	Get(ctx context.Context, providerID uuid.UUID, period entities.StatsPeriod) (*entities.ProviderStats, error)
	ListByPeriod(ctx context.Context, period entities.StatsPeriod) ([]*entities.ProviderStats, error)
}

// SnapshotRepository records observed prices for audit.
type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *entities.PriceSnapshot) error
	Latest(ctx context.Context, symbol string) (*entities.PriceSnapshot, error)
}
