package repositories

import (
	"errors"
	"time"

	"logrelay/internal/database/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DocumentRepository interface {
	Get(key string) (*models.StateDocument, error)
	Put(key string, data []byte) error
	Keys() ([]string, error)
	Delete(key string) error
}

type documentRepo struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepo{db: db}
}

// Get returns gorm.ErrRecordNotFound when key is missing.
func (r *documentRepo) Get(key string) (*models.StateDocument, error) {
	var doc models.StateDocument
	err := r.db.Where("key = ?", key).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) Put(key string, data []byte) error {
	now := time.Now()
	doc := models.StateDocument{
		Key:       key,
		Data:      data,
		Size:      int64(len(data)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "size", "updated_at"}),
	}).Create(&doc).Error
}

func (r *documentRepo) Keys() ([]string, error) {
	var keys []string
	err := r.db.Model(&models.StateDocument{}).Order("key").Pluck("key", &keys).Error
	return keys, err
}

func (r *documentRepo) Delete(key string) error {
	err := r.db.Where("key = ?", key).Delete(&models.StateDocument{}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
