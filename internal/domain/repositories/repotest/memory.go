// Package repotest provides in-memory repositories with the same claim and
// compare-and-swap semantics as the Postgres implementations.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
)

// Signals is an in-memory SignalRepository.
type Signals struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]entities.Signal
	events   map[uuid.UUID][]*entities.SignalEvent
	seq      int64
	clock    time.Time
	persists int
}

var _ repositories.SignalRepository = (*Signals)(nil)

func NewSignals() *Signals {
	return &Signals{
		rows:   make(map[uuid.UUID]entities.Signal),
		events: make(map[uuid.UUID][]*entities.SignalEvent),
		clock:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing version timestamp.
func (r *Signals) tick() time.Time {
	r.clock = r.clock.Add(time.Microsecond)
	return r.clock
}

func (r *Signals) appendEvents(id uuid.UUID, events []*entities.SignalEvent) {
	for _, ev := range events {
		r.seq++
		ev.Sequence = r.seq
		ev.SignalID = id
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		cp := *ev
		r.events[id] = append(r.events[id], &cp)
	}
}

func (r *Signals) Create(_ context.Context, s *entities.Signal, first *entities.SignalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.ExternalID != nil {
		for _, row := range r.rows {
			if row.ProviderID == s.ProviderID && row.ExternalID != nil && *row.ExternalID == *s.ExternalID {
				return domainerrors.ConflictError("signal", "external_id already submitted")
			}
		}
	}
	now := r.tick()
	s.CreatedAt, s.UpdatedAt = now, now
	r.rows[s.ID] = *s
	if first != nil {
		r.appendEvents(s.ID, []*entities.SignalEvent{first})
	}
	return nil
}

// Put stores a signal as-is, for test setup.
func (r *Signals) Put(s entities.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = r.tick()
	}
	r.rows[s.ID] = s
}

func (r *Signals) GetByID(_ context.Context, id uuid.UUID) (*entities.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, domainerrors.NotFoundError("signal")
	}
	return &s, nil
}

func (r *Signals) GetByExternalID(_ context.Context, providerID uuid.UUID, externalID string) (*entities.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.ProviderID == providerID && s.ExternalID != nil && *s.ExternalID == externalID {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *Signals) sorted(match func(entities.Signal) bool) []*entities.Signal {
	out := []*entities.Signal{}
	for _, s := range r.rows {
		if match(s) {
			cp := s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.After(out[j].EntryTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *Signals) List(_ context.Context, f entities.SignalFilter) ([]*entities.Signal, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted(func(s entities.Signal) bool {
		if f.ProviderID != nil && s.ProviderID != *f.ProviderID {
			return false
		}
		if f.Symbol != "" && s.Symbol != f.Symbol {
			return false
		}
		if f.Status != nil && s.Status != *f.Status {
			return false
		}
		return true
	})
	total := len(all)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset >= len(all) {
		return []*entities.Signal{}, total, nil
	}
	all = all[f.Offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *Signals) Events(_ context.Context, id uuid.UUID) ([]*entities.SignalEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entities.SignalEvent, len(r.events[id]))
	for i, ev := range r.events[id] {
		cp := *ev
		out[i] = &cp
	}
	return out, nil
}

func isPollable(st entities.SignalStatus) bool {
	for _, p := range entities.PollableStatuses {
		if p == st {
			return true
		}
	}
	return false
}

func (r *Signals) OpenForProvider(_ context.Context, providerID uuid.UUID, symbol string) ([]*entities.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(s entities.Signal) bool {
		return s.ProviderID == providerID && s.Symbol == symbol && isPollable(s.Status)
	}), nil
}

// ClaimDue leases due rows under the lock so concurrent callers get
// disjoint sets.
func (r *Signals) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]*entities.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := []entities.Signal{}
	for _, s := range r.rows {
		if isPollable(s.Status) && s.NextPollAt != nil && !s.NextPollAt.After(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextPollAt.Before(*due[j].NextPollAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*entities.Signal, 0, len(due))
	for _, s := range due {
		leased := now.Add(lease)
		s.NextPollAt = &leased
		r.rows[s.ID] = s
		cp := s
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Signals) Persist(_ context.Context, guard repositories.StateGuard, next *entities.Signal, events []*entities.SignalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[guard.ID]
	if !ok || cur.Status != guard.Status || !cur.UpdatedAt.Equal(guard.UpdatedAt) {
		return domainerrors.StorageConflictError("signal", guard.ID.String())
	}
	stored := *next
	stored.UpdatedAt = r.tick()
	r.rows[guard.ID] = stored
	r.appendEvents(guard.ID, events)
	next.UpdatedAt = stored.UpdatedAt
	r.persists++
	return nil
}

// PersistCount returns the number of successful compare-and-swap writes.
func (r *Signals) PersistCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persists
}

func (r *Signals) RecordPollFailure(_ context.Context, id uuid.UUID, failures int, nextPollAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || !isPollable(s.Status) {
		return domainerrors.StorageConflictError("signal", id.String())
	}
	s.PollFailures = failures
	s.NextPollAt = &nextPollAt
	r.rows[id] = s
	return nil
}

func (r *Signals) Closed(_ context.Context, providerID *uuid.UUID, since *time.Time) ([]*entities.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(s entities.Signal) bool {
		if s.ClosedAt == nil || !s.Status.IsTerminal() || s.Status == entities.SignalStatusInvalid {
			return false
		}
		if providerID != nil && s.ProviderID != *providerID {
			return false
		}
		return since == nil || !s.ClosedAt.Before(*since)
	}), nil
}

func (r *Signals) OpenedBefore(_ context.Context, cutoff time.Time, limit int) ([]*entities.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(s entities.Signal) bool {
		return isPollable(s.Status) && s.EntryTime.Before(cutoff)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Providers is an in-memory ProviderRepository.
type Providers struct {
	mu   sync.Mutex
	rows map[uuid.UUID]entities.Provider
}

var _ repositories.ProviderRepository = (*Providers)(nil)

func NewProviders() *Providers {
	return &Providers{rows: make(map[uuid.UUID]entities.Provider)}
}

func (r *Providers) Create(_ context.Context, p *entities.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Name == p.Name {
			return domainerrors.ConflictError("provider", "name already registered")
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.rows[p.ID] = *p
	return nil
}

func (r *Providers) find(match func(entities.Provider) bool) (*entities.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if match(p) {
			cp := p
			return &cp, nil
		}
	}
	return nil, domainerrors.NotFoundError("provider")
}

func (r *Providers) GetByID(_ context.Context, id uuid.UUID) (*entities.Provider, error) {
	return r.find(func(p entities.Provider) bool { return p.ID == id })
}

func (r *Providers) GetByName(_ context.Context, name string) (*entities.Provider, error) {
	return r.find(func(p entities.Provider) bool { return p.Name == name })
}

func (r *Providers) GetByAPIKeySelector(_ context.Context, selector string) (*entities.Provider, error) {
	return r.find(func(p entities.Provider) bool { return p.APIKeySelector == selector })
}

func (r *Providers) List(_ context.Context, activeOnly bool) ([]*entities.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*entities.Provider{}
	for _, p := range r.rows {
		if activeOnly && !p.IsActive {
			continue
		}
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Providers) Update(_ context.Context, p *entities.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.ID]; !ok {
		return domainerrors.NotFoundError("provider")
	}
	r.rows[p.ID] = *p
	return nil
}

// Webhooks is an in-memory WebhookRepository.
type Webhooks struct {
	mu   sync.Mutex
	rows map[uuid.UUID]entities.WebhookConfig
}

var _ repositories.WebhookRepository = (*Webhooks)(nil)

func NewWebhooks() *Webhooks {
	return &Webhooks{rows: make(map[uuid.UUID]entities.WebhookConfig)}
}

func (r *Webhooks) Create(_ context.Context, cfg *entities.WebhookConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	if cfg.CircuitState == "" {
		cfg.CircuitState = entities.CircuitStateClosed
	}
	cfg.CreatedAt = time.Now().UTC()
	r.rows[cfg.ID] = *cfg
	return nil
}

func (r *Webhooks) GetByID(_ context.Context, id uuid.UUID) (*entities.WebhookConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.rows[id]
	if !ok {
		return nil, domainerrors.NotFoundError("webhook")
	}
	return &cfg, nil
}

func (r *Webhooks) list(match func(entities.WebhookConfig) bool) []*entities.WebhookConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*entities.WebhookConfig{}
	for _, cfg := range r.rows {
		if match(cfg) {
			cp := cfg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Webhooks) ListByProvider(_ context.Context, providerID uuid.UUID) ([]*entities.WebhookConfig, error) {
	return r.list(func(c entities.WebhookConfig) bool { return c.ProviderID == providerID }), nil
}

func (r *Webhooks) ListActiveByProvider(_ context.Context, providerID uuid.UUID) ([]*entities.WebhookConfig, error) {
	return r.list(func(c entities.WebhookConfig) bool {
		return c.ProviderID == providerID && c.IsActive && c.CircuitState == entities.CircuitStateClosed
	}), nil
}

func (r *Webhooks) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return domainerrors.NotFoundError("webhook")
	}
	delete(r.rows, id)
	return nil
}

func (r *Webhooks) Mutate(_ context.Context, id uuid.UUID, fn func(*entities.WebhookConfig) error) (*entities.WebhookConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.rows[id]
	if !ok {
		return nil, domainerrors.NotFoundError("webhook")
	}
	if err := fn(&cfg); err != nil {
		return nil, err
	}
	r.rows[id] = cfg
	return &cfg, nil
}

// NotificationLogs is an in-memory NotificationLogRepository.
type NotificationLogs struct {
	mu   sync.Mutex
	rows []*entities.NotificationLog
}

var _ repositories.NotificationLogRepository = (*NotificationLogs)(nil)

func NewNotificationLogs() *NotificationLogs {
	return &NotificationLogs{}
}

func (r *NotificationLogs) Create(_ context.Context, l *entities.NotificationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	cp := *l
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *NotificationLogs) ListByWebhook(_ context.Context, webhookID uuid.UUID, limit, offset int) ([]*entities.NotificationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*entities.NotificationLog{}
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].WebhookConfigID == webhookID {
			out = append(out, r.rows[i])
		}
	}
	if offset >= len(out) {
		return []*entities.NotificationLog{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every logged attempt in insertion order.
func (r *NotificationLogs) All() []*entities.NotificationLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entities.NotificationLog(nil), r.rows...)
}

// Stats is an in-memory StatsRepository.
type Stats struct {
	mu   sync.Mutex
	rows map[string]entities.ProviderStats
}

var _ repositories.StatsRepository = (*Stats)(nil)

func NewStats() *Stats {
	return &Stats{rows: make(map[string]entities.ProviderStats)}
}

func statsKey(id uuid.UUID, p entities.StatsPeriod) string {
	return id.String() + "/" + string(p)
}

func (r *Stats) Upsert(_ context.Context, s *entities.ProviderStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[statsKey(s.ProviderID, s.Period)] = *s
	return nil
}

func (r *Stats) Get(_ context.Context, id uuid.UUID, p entities.StatsPeriod) (*entities.ProviderStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[statsKey(id, p)]
	if !ok {
		return nil, domainerrors.NotFoundError("provider stats")
	}
	return &s, nil
}

func (r *Stats) ListByPeriod(_ context.Context, p entities.StatsPeriod) ([]*entities.ProviderStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*entities.ProviderStats{}
	for _, s := range r.rows {
		if s.Period == p {
			cp := s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Snapshots is an in-memory SnapshotRepository.
type Snapshots struct {
	mu   sync.Mutex
	rows []*entities.PriceSnapshot
}

var _ repositories.SnapshotRepository = (*Snapshots)(nil)

func NewSnapshots() *Snapshots {
	return &Snapshots{}
}

func (r *Snapshots) Create(_ context.Context, s *entities.PriceSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *Snapshots) Latest(_ context.Context, symbol string) (*entities.PriceSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].Symbol == symbol {
			cp := *r.rows[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// Count returns the number of recorded snapshots.
func (r *Snapshots) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
