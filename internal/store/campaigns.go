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

// Campaign counter columns. Increment refuses anything else.
const (
	CounterSent      = "sent_count"
	CounterDelivered = "delivered_count"
	CounterFailed    = "failed_count"
	CounterResponse  = "response_count"
)

type CampaignStore struct {
	db *gorm.DB
}

func NewCampaignStore(db *gorm.DB) *CampaignStore {
	return &CampaignStore{db: db}
}

func (s *CampaignStore) Create(ctx context.Context, camp *models.Campaign) error {
	return s.db.WithContext(ctx).Create(camp).Error
}

func (s *CampaignStore) Get(ctx context.Context, tenantID, id string) (*models.Campaign, error) {
	var camp models.Campaign
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&camp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &camp, nil
}

func (s *CampaignStore) List(ctx context.Context, tenantID string) ([]models.Campaign, error) {
	campaigns := []models.Campaign{}
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&campaigns).Error
	return campaigns, err
}

func (s *CampaignStore) Update(ctx context.Context, camp *models.Campaign) error {
	return s.db.WithContext(ctx).Save(camp).Error
}

func (s *CampaignStore) Delete(ctx context.Context, tenantID, id string) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&models.Campaign{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

// GetStatus reads just the status column. The dispatch engine polls this
// between submissions to honor an external pause.
func (s *CampaignStore) GetStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", id).
		Pluck("status", &status).Error
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", types.ErrNotFound
	}
	return status, nil
}

// SetStatus transitions status only when the current value is one of from,
// so two concurrent transitions cannot both win. Returns false when the
// guard did not match.
func (s *CampaignStore) SetStatus(ctx context.Context, id, to string, from ...string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Increment bumps one aggregate counter in place. The dispatch engine and the
// delivery tracker both run concurrently against the same row, so this is a
// single UPDATE rather than read-modify-write.
func (s *CampaignStore) Increment(ctx context.Context, id, counter string) error {
	switch counter {
	case CounterSent, CounterDelivered, CounterFailed, CounterResponse:
	default:
		return fmt.Errorf("unknown campaign counter %q", counter)
	}
	return s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", id).
		UpdateColumn(counter, gorm.Expr(counter+" + ?", 1)).Error
}

// DueScheduled returns campaigns whose scheduled time has passed, across all
// tenants. The scheduler promotes these to active.
func (s *CampaignStore) DueScheduled(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	campaigns := []models.Campaign{}
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", models.CampaignScheduled, now).
		Find(&campaigns).Error
	return campaigns, err
}

// CompleteIfDone flips an active campaign to completed once every target
// contact has a message in a terminal state (delivered, read or failed).
// A contact whose failed message was superseded by a fresh re-dispatch still
// has a live message, so any pending or sent message keeps the campaign open.
// Returns true when the transition happened in this call.
func (s *CampaignStore) CompleteIfDone(ctx context.Context, tenantID, campaignID string) (bool, error) {
	camp, err := s.Get(ctx, tenantID, campaignID)
	if err != nil {
		return false, err
	}
	targets := camp.TargetIDs()
	if len(targets) == 0 {
		return false, nil
	}

	var live int64
	err = s.db.WithContext(ctx).Model(&models.Message{}).
		Where("campaign_id = ? AND status IN ?",
			campaignID, []string{models.MessagePending, models.MessageSent}).
		Count(&live).Error
	if err != nil {
		return false, err
	}
	if live > 0 {
		return false, nil
	}

	var terminal int64
	err = s.db.WithContext(ctx).Model(&models.Message{}).
		Where("campaign_id = ? AND contact_id IN ? AND status IN ?",
			campaignID, targets,
			[]string{models.MessageDelivered, models.MessageRead, models.MessageFailed}).
		Distinct("contact_id").
		Count(&terminal).Error
	if err != nil {
		return false, err
	}
	if terminal < int64(len(targets)) {
		return false, nil
	}

	return s.SetStatus(ctx, campaignID, models.CampaignCompleted, models.CampaignActive)
}
