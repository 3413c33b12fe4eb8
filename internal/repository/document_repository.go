package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"investigraph/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByIDAndUserID(id, userID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByUserID(userID uint) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.Select("id", "user_id", "name", "kind", "status", "last_error", "created_at", "updated_at").
		Where("user_id = ?", userID).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

// ListReadyIDsByUserID returns ids of the user's queryable documents.
func (r *DocumentRepository) ListReadyIDsByUserID(userID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.Model(&model.Document{}).
		Where("user_id = ? AND status = ?", userID, model.StatusReady).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list ready document ids failed: %w", err)
	}
	return ids, nil
}

// UpdateStatus advances the processing state; clears the stored error unless
// the new state is Failed.
func (r *DocumentRepository) UpdateStatus(id uint, status, lastError string) error {
	updates := map[string]interface{}{"status": status, "last_error": lastError}
	if err := r.db.Model(&model.Document{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update document status failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) UpdateCleanText(id uint, cleanText string) error {
	if err := r.db.Model(&model.Document{}).Where("id = ?", id).
		Update("clean_text", cleanText).Error; err != nil {
		return fmt.Errorf("update document clean text failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) DeleteByIDAndUserID(id, userID uint) error {
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}
