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

const notificationColumns = `id, webhook_config_id, signal_id, event_id, event_type, payload, http_status,
	response_excerpt, error, attempt, success, created_at`

// NotificationLogRepository appends delivery attempts.
type NotificationLogRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

var _ repositories.NotificationLogRepository = (*NotificationLogRepository)(nil)

func NewNotificationLogRepository(db *sqlx.DB, logger *logger.Logger) *NotificationLogRepository {
	return &NotificationLogRepository{db: db, logger: logger}
}

func (r *NotificationLogRepository) Create(ctx context.Context, l *entities.NotificationLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = dbNow()
	}
	query := `
		INSERT INTO notification_logs (` + notificationColumns + `)
		VALUES (:id, :webhook_config_id, :signal_id, :event_id, :event_type, :payload, :http_status,
			:response_excerpt, :error, :attempt, :success, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, l); err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

func (r *NotificationLogRepository) ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit, offset int) ([]*entities.NotificationLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	logs := []*entities.NotificationLog{}
	err := r.db.SelectContext(ctx, &logs,
		`SELECT `+notificationColumns+` FROM notification_logs
		 WHERE webhook_config_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		webhookID, limit, offset)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return logs, nil
}
