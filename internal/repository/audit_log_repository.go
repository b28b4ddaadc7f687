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

type auditLogRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAuditLogRepository(db SQLExecutor, logger *slog.Logger) domain.AuditLogRepository {
	return &auditLogRepository{
		db:     db,
		logger: logger,
	}
}

func (r *auditLogRepository) CreateAuditLog(ctx context.Context, l *domain.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, entity_type, entity_id, action, outcome, correlation_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var details []byte
	if len(l.Details) > 0 {
		var err error
		details, err = json.Marshal(l.Details)
		if err != nil {
			return errors.NewAppError(errors.InternalError, "failed to encode audit details").WithDetails(err.Error())
		}
	}

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.EntityType, l.EntityID, l.Action, l.Outcome, l.CorrelationID, details, l.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to write audit log",
			"entity_type", l.EntityType, "entity_id", l.EntityID, "action", l.Action, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to write audit log").WithDetails(err.Error())
	}
	return nil
}

func (r *auditLogRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*domain.AuditLog, error) {
	query := `
		SELECT id, entity_type, entity_id, action, outcome, correlation_id, details, created_at
		FROM audit_logs WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list audit logs").WithDetails(err.Error())
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		var details []byte
		if err := rows.Scan(&l.ID, &l.EntityType, &l.EntityID, &l.Action, &l.Outcome, &l.CorrelationID, &details, &l.CreatedAt); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan audit log").WithDetails(err.Error())
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &l.Details); err != nil {
				return nil, errors.NewAppError(errors.InternalError, "failed to decode audit details").WithDetails(err.Error())
			}
		}
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list audit logs").WithDetails(err.Error())
	}
	return out, nil
}
