package models

import (
	"encoding/json"
	"time"
)

// Webform stores a form definition and its element tree.
type Webform struct {
	ID        string          `gorm:"column:id;primaryKey"`
	Title     string          `gorm:"column:title;not null"`
	Elements  json.RawMessage `gorm:"column:elements;type:jsonb;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
