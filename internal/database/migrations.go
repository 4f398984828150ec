package database

import (
	"logrelay/internal/database/models"

	"gorm.io/gorm"
)

// RunMigrations creates or updates the tables of the state store.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(&models.StateDocument{})
}
