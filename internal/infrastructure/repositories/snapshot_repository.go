package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

// SnapshotRepository records observed prices.
type SnapshotRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

var _ repositories.SnapshotRepository = (*SnapshotRepository)(nil)

func NewSnapshotRepository(db *sqlx.DB, logger *logger.Logger) *SnapshotRepository {
	return &SnapshotRepository{db: db, logger: logger}
}

func (r *SnapshotRepository) Create(ctx context.Context, s *entities.PriceSnapshot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO price_snapshots (id, symbol, price, bid, ask, source, snapshot_time)
		VALUES (:id, :symbol, :price, :bid, :ask, :source, :snapshot_time)`, s)
	if err != nil {
		return fmt.Errorf("failed to record price snapshot: %w", err)
	}
	return nil
}

// Latest returns nil when the symbol was never observed.
func (r *SnapshotRepository) Latest(ctx context.Context, symbol string) (*entities.PriceSnapshot, error) {
	var s entities.PriceSnapshot
	err := r.db.GetContext(ctx, &s, `
		SELECT id, symbol, price, bid, ask, source, snapshot_time
		FROM price_snapshots WHERE symbol = $1
		ORDER BY snapshot_time DESC LIMIT 1`, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return &s, nil
}
