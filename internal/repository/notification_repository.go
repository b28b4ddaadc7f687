package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

type notificationRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewNotificationRepository(db SQLExecutor, logger *slog.Logger) domain.NotificationRepository {
	return &notificationRepository{
		db:     db,
		logger: logger,
	}
}

func (r *notificationRepository) CreateNotification(ctx context.Context, n *domain.NotificationRecord) error {
	query := `
		INSERT INTO notifications
		(id, event_id, kind, severity, notifiable_type, notifiable_id, subject, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id, notifiable_type, notifiable_id) DO NOTHING
	`

	var data []byte
	if len(n.Data) > 0 {
		var err error
		data, err = json.Marshal(n.Data)
		if err != nil {
			return errors.NewAppError(errors.InternalError, "failed to encode notification data").WithDetails(err.Error())
		}
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		n.ID, n.EventID, n.Kind, n.Severity, n.NotifiableType, n.NotifiableID, n.Subject, data, n.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to store notification", "event_id", n.EventID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to store notification").WithDetails(err.Error())
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		r.logger.Debug("Notification already stored", "event_id", n.EventID, "notifiable_id", n.NotifiableID)
	}
	return nil
}

func (r *notificationRepository) ListForNotifiable(ctx context.Context, notifiableType, notifiableID string) ([]*domain.NotificationRecord, error) {
	query := `
		SELECT id, event_id, kind, severity, notifiable_type, notifiable_id, subject, data, created_at, read_at
		FROM notifications WHERE notifiable_type = $1 AND notifiable_id = $2 ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, notifiableType, notifiableID)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list notifications").WithDetails(err.Error())
	}
	defer rows.Close()

	var out []*domain.NotificationRecord
	for rows.Next() {
		var n domain.NotificationRecord
		var data []byte
		if err := rows.Scan(&n.ID, &n.EventID, &n.Kind, &n.Severity, &n.NotifiableType, &n.NotifiableID,
			&n.Subject, &data, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan notification").WithDetails(err.Error())
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, errors.NewAppError(errors.InternalError, "failed to decode notification data").WithDetails(err.Error())
			}
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list notifications").WithDetails(err.Error())
	}
	return out, nil
}
