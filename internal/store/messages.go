package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campaign-gateway/internal/models"
	"campaign-gateway/internal/types"

	"gorm.io/gorm"
)

type MessageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Create(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *MessageStore) Get(ctx context.Context, tenantID, id string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MessageStore) FindByExternalID(ctx context.Context, tenantID, externalID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MessageStore) ListByCampaign(ctx context.Context, tenantID, campaignID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND campaign_id = ?", tenantID, campaignID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (s *MessageStore) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	messages := []models.Message{}
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// ActiveByCampaign returns the non-failed message per contact for a campaign.
// Dispatch consults this map so a re-invocation never double-sends to a
// contact that already has a pending/sent/delivered/read message.
func (s *MessageStore) ActiveByCampaign(ctx context.Context, campaignID string) (map[string]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND status <> ?", campaignID, models.MessageFailed).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	active := make(map[string]models.Message, len(messages))
	for _, msg := range messages {
		active[msg.ContactID] = msg
	}
	return active, nil
}

// MarkSent moves a pending message to sent, recording the gateway-assigned id.
// The status guard makes the call a no-op if the message already advanced.
func (s *MessageStore) MarkSent(ctx context.Context, id, externalID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND status = ?", id, models.MessagePending).
		Updates(map[string]interface{}{
			"status":      models.MessageSent,
			"external_id": externalID,
			"sent_at":     at,
		}).Error
}

// MarkFailed is terminal and reachable from pending or sent only.
func (s *MessageStore) MarkFailed(ctx context.Context, id, reason string) error {
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND status IN ?", id, []string{models.MessagePending, models.MessageSent}).
		Updates(map[string]interface{}{
			"status":         models.MessageFailed,
			"failure_reason": reason,
		}).Error
}

// AdvanceStatus moves a message forward along sent -> delivered -> read and
// stamps the matching timestamp. The UPDATE only matches rows whose current
// status ranks strictly below the new one, so even a second process sharing
// the database cannot move a message backward.
func (s *MessageStore) AdvanceStatus(ctx context.Context, id, status string, at time.Time) error {
	var from []string
	for _, prior := range []string{models.MessagePending, models.MessageSent, models.MessageDelivered} {
		if models.StatusRank(prior) < models.StatusRank(status) {
			from = append(from, prior)
		}
	}
	if len(from) == 0 {
		return fmt.Errorf("cannot advance message to %q", status)
	}

	updates := map[string]interface{}{"status": status}
	switch status {
	case models.MessageDelivered:
		updates["delivered_at"] = at
	case models.MessageRead:
		updates["read_at"] = at
	}
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates).Error
}

// LatestCampaignMessage returns the most recent campaign message sent to a
// contact. Inbound replies are attributed to that campaign.
func (s *MessageStore) LatestCampaignMessage(ctx context.Context, tenantID, contactID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ? AND campaign_id <> ''", tenantID, contactID).
		Order("created_at DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
