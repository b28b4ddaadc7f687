package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID            uuid.UUID      `json:"id"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Action        string         `json:"action"`
	Outcome       string         `json:"outcome"`
	CorrelationID string         `json:"correlation_id"`
	Details       map[string]any `json:"details,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type AuditLogRepository interface {
	CreateAuditLog(ctx context.Context, l *AuditLog) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*AuditLog, error)
}
