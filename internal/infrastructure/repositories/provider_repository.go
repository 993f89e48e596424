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

const providerColumns = `id, name, description, is_active, is_verified, api_key_selector, api_key_hash,
	webhook_secret_encrypted, created_at, updated_at`

// ProviderRepository handles provider persistence
type ProviderRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

var _ repositories.ProviderRepository = (*ProviderRepository)(nil)

func NewProviderRepository(db *sqlx.DB, logger *logger.Logger) *ProviderRepository {
	return &ProviderRepository{db: db, logger: logger}
}

func (r *ProviderRepository) Create(ctx context.Context, p *entities.Provider) error {
	now := dbNow()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO providers (` + providerColumns + `)
		VALUES (:id, :name, :description, :is_active, :is_verified, :api_key_selector, :api_key_hash,
			:webhook_secret_encrypted, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		if database.IsUniqueViolation(err, "providers_name_key") {
			return domainerrors.ConflictError("provider", "name already registered")
		}
		r.logger.Error("Failed to create provider", "error", err, "name", p.Name)
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

func (r *ProviderRepository) get(ctx context.Context, where string, arg interface{}) (*entities.Provider, error) {
	var p entities.Provider
	err := r.db.GetContext(ctx, &p, `SELECT `+providerColumns+` FROM providers WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundError("provider")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return &p, nil
}

func (r *ProviderRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Provider, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *ProviderRepository) GetByName(ctx context.Context, name string) (*entities.Provider, error) {
	return r.get(ctx, "name = $1", name)
}

func (r *ProviderRepository) GetByAPIKeySelector(ctx context.Context, selector string) (*entities.Provider, error) {
	return r.get(ctx, "api_key_selector = $1", selector)
}

func (r *ProviderRepository) List(ctx context.Context, activeOnly bool) ([]*entities.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name ASC`

	providers := []*entities.Provider{}
	if err := r.db.SelectContext(ctx, &providers, query); err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

// Update writes the mutable provider fields.
func (r *ProviderRepository) Update(ctx context.Context, p *entities.Provider) error {
	p.UpdatedAt = dbNow()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE providers SET
			description = :description,
			is_active = :is_active,
			is_verified = :is_verified,
			api_key_selector = :api_key_selector,
			api_key_hash = :api_key_hash,
			webhook_secret_encrypted = :webhook_secret_encrypted,
			updated_at = :updated_at
		WHERE id = :id`, p)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domainerrors.NotFoundError("provider")
	}
	return nil
}
