package store

import (
	"context"

	"campaign-gateway/internal/models"

	"gorm.io/gorm"
)

type WebhookEventStore struct {
	db *gorm.DB
}

func NewWebhookEventStore(db *gorm.DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

func (s *WebhookEventStore) Create(ctx context.Context, event *models.WebhookEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *WebhookEventStore) MarkProcessed(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("processed", true).Error
}

// HasProcessed reports whether an event for the same external message id and
// type was already applied. Used to drop redelivered inbound-reply events.
func (s *WebhookEventStore) HasProcessed(ctx context.Context, tenantID, externalMessageID, eventType string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("tenant_id = ? AND external_message_id = ? AND event_type = ? AND processed = ?",
			tenantID, externalMessageID, eventType, true).
		Count(&count).Error
	return count > 0, err
}

// ListUnprocessed returns events that could not be applied on receipt, for
// later reconciliation.
func (s *WebhookEventStore) ListUnprocessed(ctx context.Context, tenantID string, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events := []models.WebhookEvent{}
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND processed = ?", tenantID, false).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
