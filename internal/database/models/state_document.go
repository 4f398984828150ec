package models

import (
	"time"
)

// StateDocument is one persisted controller document, such as the
// checkpoints of a node or the samples of a metric.
type StateDocument struct {
	Key       string `gorm:"primaryKey"`
	Data      []byte `gorm:"not null"`
	Size      int64  `gorm:"default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (StateDocument) TableName() string {
	return "state_documents"
}
