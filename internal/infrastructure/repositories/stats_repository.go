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
	"github.com/signal-bridge/signal_service/pkg/logger"
)

const statsColumns = `provider_id, period, total_signals, win_rate, total_r, metrics, computed_at`

// StatsRepository stores precomputed provider rollups, one row per period.
type StatsRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

var _ repositories.StatsRepository = (*StatsRepository)(nil)

func NewStatsRepository(db *sqlx.DB, logger *logger.Logger) *StatsRepository {
	return &StatsRepository{db: db, logger: logger}
}

func (r *StatsRepository) Upsert(ctx context.Context, stats *entities.ProviderStats) error {
	query := `
		INSERT INTO provider_stats (` + statsColumns + `)
		VALUES (:provider_id, :period, :total_signals, :win_rate, :total_r, :metrics, :computed_at)
		ON CONFLICT (provider_id, period) DO UPDATE SET
			total_signals = EXCLUDED.total_signals,
			win_rate = EXCLUDED.win_rate,
			total_r = EXCLUDED.total_r,
			metrics = EXCLUDED.metrics,
			computed_at = EXCLUDED.computed_at`

	if _, err := r.db.NamedExecContext(ctx, query, stats); err != nil {
		return fmt.Errorf("failed to upsert provider stats: %w", err)
	}
	return nil
}

func (r *StatsRepository) Get(ctx context.Context, providerID uuid.UUID, period entities.StatsPeriod) (*entities.ProviderStats, error) {
	var s entities.ProviderStats
	err := r.db.GetContext(ctx, &s,
		`SELECT `+statsColumns+` FROM provider_stats WHERE provider_id = $1 AND period = $2`,
		providerID, period)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundError("provider stats")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider stats: %w", err)
	}
	return &s, nil
}

func (r *StatsRepository) ListByPeriod(ctx context.Context, period entities.StatsPeriod) ([]*entities.ProviderStats, error) {
	stats := []*entities.ProviderStats{}
	err := r.db.SelectContext(ctx, &stats,
		`SELECT `+statsColumns+` FROM provider_stats WHERE period = $1`, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider stats: %w", err)
	}
	return stats, nil
}
