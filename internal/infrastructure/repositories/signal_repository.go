package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/internal/infrastructure/database"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

const signalColumns = `
	id, provider_id, external_id, strategy, timeframe, source,
	symbol, asset_class, direction,
	entry_price, stop_loss, take_profit_1, take_profit_2, take_profit_3, risk_distance, rr_ratio,
	status, max_tp_hit, entry_time, activated_at, closed_at, close_reason,
	exit_price, r_value, pnl_pct, max_favorable, max_adverse, last_price, last_price_at,
	next_poll_at, poll_failures,
	raw_payload, validation_errors, validation_warnings, validation_confidence,
	created_at, updated_at`

const eventColumns = `seq, id, signal_id, event_type, price, source, event_time, metadata, created_at`

// SignalRepository is the Postgres store for signals and their event log.
type SignalRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

var _ repositories.SignalRepository = (*SignalRepository)(nil)

func NewSignalRepository(db *sqlx.DB, logger *logger.Logger) *SignalRepository {
	return &SignalRepository{db: db, logger: logger}
}

// dbNow is the current time at the precision Postgres stores, so that an
// in-memory timestamp compares equal to the one read back.
func dbNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Create inserts the signal and its first event in one transaction.
func (r *SignalRepository) Create(ctx context.Context, signal *entities.Signal, first *entities.SignalEvent) error {
	now := dbNow()
	if signal.ID == uuid.Nil {
		signal.ID = uuid.New()
	}
	signal.CreatedAt = now
	signal.UpdatedAt = now
	if signal.ValidationErrors == nil {
		signal.ValidationErrors = pq.StringArray{}
	}
	if signal.ValidationWarnings == nil {
		signal.ValidationWarnings = pq.StringArray{}
	}

	query := `
		INSERT INTO signals (` + signalColumns + `)
		VALUES (
			:id, :provider_id, :external_id, :strategy, :timeframe, :source,
			:symbol, :asset_class, :direction,
			:entry_price, :stop_loss, :take_profit_1, :take_profit_2, :take_profit_3, :risk_distance, :rr_ratio,
			:status, :max_tp_hit, :entry_time, :activated_at, :closed_at, :close_reason,
			:exit_price, :r_value, :pnl_pct, :max_favorable, :max_adverse, :last_price, :last_price_at,
			:next_poll_at, :poll_failures,
			:raw_payload, :validation_errors, :validation_warnings, :validation_confidence,
			:created_at, :updated_at
		)`

	err := database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, signal); err != nil {
			return err
		}
		if first != nil {
			first.SignalID = signal.ID
			return insertEvents(ctx, tx, []*entities.SignalEvent{first})
		}
		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err, "signals_provider_external_id_key") {
			return domainerrors.ConflictError("signal", "external_id already submitted")
		}
		r.logger.Error("Failed to create signal", "error", err, "symbol", signal.Symbol)
		return fmt.Errorf("failed to create signal: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sqlx.Tx, events []*entities.SignalEvent) error {
	query := `
		INSERT INTO signal_events (id, signal_id, event_type, price, source, event_time, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq, created_at`

	for _, ev := range events {
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		if len(ev.Metadata) == 0 {
			ev.Metadata = []byte("{}")
		}
		if err := tx.QueryRowxContext(ctx, query,
			ev.ID, ev.SignalID, ev.EventType, ev.Price, ev.Source, ev.EventTime, ev.Metadata,
		).Scan(&ev.Sequence, &ev.CreatedAt); err != nil {
			return fmt.Errorf("failed to append %s event: %w", ev.EventType, err)
		}
	}
	return nil
}

func (r *SignalRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Signal, error) {
	var s entities.Signal
	err := r.db.GetContext(ctx, &s, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundError("signal")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}
	return &s, nil
}

// GetByExternalID returns nil when the provider never submitted externalID.
func (r *SignalRepository) GetByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) (*entities.Signal, error) {
	var s entities.Signal
	err := r.db.GetContext(ctx, &s,
		`SELECT `+signalColumns+` FROM signals WHERE provider_id = $1 AND external_id = $2`,
		providerID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal by external id: %w", err)
	}
	return &s, nil
}

// List returns one page of signals, newest first, and the total match count.
func (r *SignalRepository) List(ctx context.Context, filter entities.SignalFilter) ([]*entities.Signal, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.ProviderID != nil {
		args = append(args, *filter.ProviderID)
		conds = append(conds, fmt.Sprintf("provider_id = $%d", len(args)))
	}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		conds = append(conds, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM signals`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count signals: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM signals%s ORDER BY entry_time DESC, id LIMIT $%d OFFSET $%d`,
		signalColumns, where, len(args)-1, len(args))

	signals := []*entities.Signal{}
	if err := r.db.SelectContext(ctx, &signals, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list signals: %w", err)
	}
	return signals, total, nil
}

// Events returns the event log in append order.
func (r *SignalRepository) Events(ctx context.Context, signalID uuid.UUID) ([]*entities.SignalEvent, error) {
	events := []*entities.SignalEvent{}
	err := r.db.SelectContext(ctx, &events,
		`SELECT `+eventColumns+` FROM signal_events WHERE signal_id = $1 ORDER BY seq ASC`, signalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load signal events: %w", err)
	}
	return events, nil
}

// OpenForProvider returns the provider's non-terminal signals on symbol.
func (r *SignalRepository) OpenForProvider(ctx context.Context, providerID uuid.UUID, symbol string) ([]*entities.Signal, error) {
	signals := []*entities.Signal{}
	err := r.db.SelectContext(ctx, &signals,
		`SELECT `+signalColumns+` FROM signals
		 WHERE provider_id = $1 AND symbol = $2 AND status = ANY($3)`,
		providerID, symbol, statusArray(entities.PollableStatuses))
	if err != nil {
		return nil, fmt.Errorf("failed to load open signals: %w", err)
	}
	return signals, nil
}

// ClaimDue leases due signals with SKIP LOCKED so concurrent pollers never
// receive the same row. updated_at is left untouched; the lease is not a
// state change.
func (r *SignalRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*entities.Signal, error) {
	query := `
		UPDATE signals
		SET next_poll_at = $2::timestamptz + make_interval(secs => $4)
		WHERE id IN (
			SELECT id FROM signals
			WHERE status = ANY($1) AND next_poll_at IS NOT NULL AND next_poll_at <= $2
			ORDER BY next_poll_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + signalColumns

	signals := []*entities.Signal{}
	err := r.db.SelectContext(ctx, &signals, query,
		statusArray(entities.PollableStatuses), now.UTC(), limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim due signals: %w", err)
	}
	return signals, nil
}

// Persist writes next and appends events only if the row still matches guard.
func (r *SignalRepository) Persist(ctx context.Context, guard repositories.StateGuard, next *entities.Signal, events []*entities.SignalEvent) error {
	updatedAt := dbNow()
	if !updatedAt.After(guard.UpdatedAt) {
		updatedAt = guard.UpdatedAt.Add(time.Microsecond)
	}

	query := `
		UPDATE signals SET
			status = $4, max_tp_hit = $5, activated_at = $6, closed_at = $7, close_reason = $8,
			exit_price = $9, r_value = $10, pnl_pct = $11, max_favorable = $12, max_adverse = $13,
			last_price = $14, last_price_at = $15, next_poll_at = $16, poll_failures = $17,
			updated_at = $18
		WHERE id = $1 AND status = $2 AND updated_at = $3`

	err := database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query,
			guard.ID, guard.Status, guard.UpdatedAt,
			next.Status, next.MaxTPHit, next.ActivatedAt, next.ClosedAt, next.CloseReason,
			next.ExitPrice, next.RValue, next.PnLPct, next.MaxFavorable, next.MaxAdverse,
			next.LastPrice, next.LastPriceAt, next.NextPollAt, next.PollFailures,
			updatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domainerrors.StorageConflictError("signal", guard.ID.String())
		}
		for _, ev := range events {
			ev.SignalID = guard.ID
		}
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		if domainerrors.IsStorageConflict(err) {
			return err
		}
		return fmt.Errorf("failed to persist signal %s: %w", guard.ID, err)
	}
	next.UpdatedAt = updatedAt
	return nil
}

// RecordPollFailure backs off the next poll without touching the state.
// Rows that left the pollable set meanwhile are not written and a
// StorageConflict is returned.
func (r *SignalRepository) RecordPollFailure(ctx context.Context, id uuid.UUID, failures int, nextPollAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE signals SET poll_failures = $2, next_poll_at = $3 WHERE id = $1 AND status = ANY($4)`,
		id, failures, nextPollAt.UTC(), statusArray(entities.PollableStatuses))
	if err != nil {
		return fmt.Errorf("failed to record poll failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domainerrors.StorageConflictError("signal", id.String())
	}
	return nil
}

// Closed returns signals with a realized outcome, oldest close first.
func (r *SignalRepository) Closed(ctx context.Context, providerID *uuid.UUID, since *time.Time) ([]*entities.Signal, error) {
	args := []interface{}{statusArray([]entities.SignalStatus{
		entities.SignalStatusTP3Hit, entities.SignalStatusSLHit, entities.SignalStatusClosed,
	})}
	query := `SELECT ` + signalColumns + ` FROM signals WHERE status = ANY($1) AND closed_at IS NOT NULL`
	if providerID != nil {
		args = append(args, *providerID)
		query += fmt.Sprintf(" AND provider_id = $%d", len(args))
	}
	if since != nil {
		args = append(args, since.UTC())
		query += fmt.Sprintf(" AND closed_at >= $%d", len(args))
	}
	query += " ORDER BY closed_at ASC, id ASC"

	signals := []*entities.Signal{}
	if err := r.db.SelectContext(ctx, &signals, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load closed signals: %w", err)
	}
	return signals, nil
}

func (r *SignalRepository) OpenedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Signal, error) {
	signals := []*entities.Signal{}
	err := r.db.SelectContext(ctx, &signals,
		`SELECT `+signalColumns+` FROM signals
		 WHERE status = ANY($1) AND entry_time < $2
		 ORDER BY entry_time ASC LIMIT $3`,
		statusArray(entities.PollableStatuses), cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load expired signals: %w", err)
	}
	return signals, nil
}

func statusArray(statuses []entities.SignalStatus) pq.StringArray {
	out := make(pq.StringArray, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
