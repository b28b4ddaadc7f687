package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationRecord is a notification stored by the database channel.
type NotificationRecord struct {
	ID             uuid.UUID      `json:"id"`
	EventID        uuid.UUID      `json:"event_id"`
	Kind           string         `json:"kind"`
	Severity       string         `json:"severity"`
	NotifiableType string         `json:"notifiable_type"`
	NotifiableID   string         `json:"notifiable_id"`
	Subject        string         `json:"subject"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
}

type NotificationRepository interface {
	// CreateNotification is a no-op when the event was already stored for the notifiable.
	CreateNotification(ctx context.Context, n *NotificationRecord) error
	ListForNotifiable(ctx context.Context, notifiableType, notifiableID string) ([]*NotificationRecord, error)
}
