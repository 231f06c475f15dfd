package store

import (
	"context"
	"errors"

	"campaign-gateway/internal/models"
	"campaign-gateway/internal/types"

	"gorm.io/gorm"
)

type ContactStore struct {
	db *gorm.DB
}

func NewContactStore(db *gorm.DB) *ContactStore {
	return &ContactStore{db: db}
}

func (s *ContactStore) Create(ctx context.Context, contact *models.Contact) error {
	err := s.db.WithContext(ctx).Create(contact).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return types.ErrDuplicate
	}
	return err
}

func (s *ContactStore) Get(ctx context.Context, tenantID, id string) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *ContactStore) GetByIDs(ctx context.Context, tenantID string, ids []string) ([]models.Contact, error) {
	if len(ids) == 0 {
		return []models.Contact{}, nil
	}
	var contacts []models.Contact
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&contacts).Error
	return contacts, err
}

func (s *ContactStore) GetByPhone(ctx context.Context, tenantID, phone string) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND phone = ?", tenantID, phone).
		First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *ContactStore) List(ctx context.Context, tenantID string) ([]models.Contact, error) {
	contacts := []models.Contact{}
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&contacts).Error
	return contacts, err
}

func (s *ContactStore) Update(ctx context.Context, contact *models.Contact) error {
	err := s.db.WithContext(ctx).Save(contact).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return types.ErrDuplicate
	}
	return err
}

// Delete removes a contact. Historical messages keep their contact_id;
// nothing cascades.
func (s *ContactStore) Delete(ctx context.Context, tenantID, id string) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&models.Contact{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}
