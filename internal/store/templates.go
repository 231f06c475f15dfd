package store

import (
	"context"
	"errors"

	"campaign-gateway/internal/models"
	"campaign-gateway/internal/types"

	"gorm.io/gorm"
)

type TemplateStore struct {
	db *gorm.DB
}

func NewTemplateStore(db *gorm.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

func (s *TemplateStore) Create(ctx context.Context, tpl *models.Template) error {
	return s.db.WithContext(ctx).Create(tpl).Error
}

func (s *TemplateStore) Get(ctx context.Context, tenantID, id string) (*models.Template, error) {
	var tpl models.Template
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *TemplateStore) GetByName(ctx context.Context, tenantID, name, language string) (*models.Template, error) {
	var tpl models.Template
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND name = ? AND language = ?", tenantID, name, language).
		First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *TemplateStore) List(ctx context.Context, tenantID string) ([]models.Template, error) {
	templates := []models.Template{}
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&templates).Error
	return templates, err
}

func (s *TemplateStore) Update(ctx context.Context, tpl *models.Template) error {
	return s.db.WithContext(ctx).Save(tpl).Error
}

// SetApprovalStatus records the review outcome pushed back by the platform,
// along with the platform-assigned template id.
func (s *TemplateStore) SetApprovalStatus(ctx context.Context, tenantID, id, status, externalID string) error {
	updates := map[string]interface{}{"status": status}
	if externalID != "" {
		updates["external_id"] = externalID
	}
	result := s.db.WithContext(ctx).Model(&models.Template{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *TemplateStore) Delete(ctx context.Context, tenantID, id string) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&models.Template{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}
