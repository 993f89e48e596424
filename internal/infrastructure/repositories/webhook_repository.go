package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/internal/infrastructure/database"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

const webhookColumns = `id, provider_id, url, event_types, headers, is_active, consecutive_failures,
	circuit_state, disabled_at, last_sent_at, last_error, created_at, updated_at`

// WebhookRepository persists webhook configs and their circuit state.
type WebhookRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

var _ repositories.WebhookRepository = (*WebhookRepository)(nil)

func NewWebhookRepository(db *sqlx.DB, logger *logger.Logger) *WebhookRepository {
	return &WebhookRepository{db: db, logger: logger}
}

func (r *WebhookRepository) Create(ctx context.Context, cfg *entities.WebhookConfig) error {
	now := dbNow()
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	if cfg.CircuitState == "" {
		cfg.CircuitState = entities.CircuitStateClosed
	}
	if cfg.EventTypes == nil {
		cfg.EventTypes = entities.EventTypeSet{}
	}
	if cfg.Headers == nil {
		cfg.Headers = entities.HeaderMap{}
	}
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	query := `
		INSERT INTO webhook_configs (` + webhookColumns + `)
		VALUES (:id, :provider_id, :url, :event_types, :headers, :is_active, :consecutive_failures,
			:circuit_state, :disabled_at, :last_sent_at, :last_error, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, cfg); err != nil {
		r.logger.Error("Failed to create webhook config", "error", err, "provider_id", cfg.ProviderID)
		return fmt.Errorf("failed to create webhook config: %w", err)
	}
	return nil
}

func (r *WebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.WebhookConfig, error) {
	var cfg entities.WebhookConfig
	err := r.db.GetContext(ctx, &cfg, `SELECT `+webhookColumns+` FROM webhook_configs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundError("webhook")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook config: %w", err)
	}
	return &cfg, nil
}

func (r *WebhookRepository) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*entities.WebhookConfig, error) {
	return r.list(ctx, `provider_id = $1`, providerID)
}

// ListActiveByProvider returns configs that may receive deliveries.
func (r *WebhookRepository) ListActiveByProvider(ctx context.Context, providerID uuid.UUID) ([]*entities.WebhookConfig, error) {
	return r.list(ctx, `provider_id = $1 AND is_active AND circuit_state = 'CLOSED'`, providerID)
}

func (r *WebhookRepository) list(ctx context.Context, where string, args ...interface{}) ([]*entities.WebhookConfig, error) {
	configs := []*entities.WebhookConfig{}
	query := `SELECT ` + webhookColumns + ` FROM webhook_configs WHERE ` + where + ` ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &configs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list webhook configs: %w", err)
	}
	return configs, nil
}

const webhookAssignments = `
	url = :url,
	event_types = :event_types,
	headers = :headers,
	is_active = :is_active,
	consecutive_failures = :consecutive_failures,
	circuit_state = :circuit_state,
	disabled_at = :disabled_at,
	last_sent_at = :last_sent_at,
	last_error = :last_error,
	updated_at = :updated_at`

func (r *WebhookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domainerrors.NotFoundError("webhook")
	}
	return nil
}

// Mutate applies fn to the row under SELECT FOR UPDATE, so concurrent
// delivery results are counted one at a time.
func (r *WebhookRepository) Mutate(ctx context.Context, id uuid.UUID, fn func(cfg *entities.WebhookConfig) error) (*entities.WebhookConfig, error) {
	var cfg entities.WebhookConfig
	err := database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &cfg, `SELECT `+webhookColumns+` FROM webhook_configs WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return domainerrors.NotFoundError("webhook")
		}
		if err != nil {
			return err
		}
		if err := fn(&cfg); err != nil {
			return err
		}
		cfg.UpdatedAt = dbNow()
		_, err = tx.NamedExecContext(ctx, `UPDATE webhook_configs SET `+webhookAssignments+` WHERE id = :id`, &cfg)
		return err
	})
	if err != nil {
		var de *domainerrors.DomainError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to mutate webhook config: %w", err)
	}
	return &cfg, nil
}
