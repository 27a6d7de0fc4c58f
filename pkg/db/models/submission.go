package models

import (
	"encoding/json"
	"time"
)

// Submission is a persisted form submission. Data holds the element values
// keyed by element key. Version guards concurrent read-modify-write cycles.
type Submission struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	WebformID string          `gorm:"column:webform_id;not null;index"`
	Serial    int             `gorm:"column:serial;not null"`
	Data      json.RawMessage `gorm:"column:data;type:jsonb;not null"`
	Version   int             `gorm:"column:version;not null;default:1"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
