package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/formpay/pkg/enums"
)

// SettlementJob is a queued unit of payment settlement work. Payload carries
// the resumable stage state and is rewritten after every completed stage.
type SettlementJob struct {
	ID           uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	JobType      enums.SettlementJobType   `gorm:"column:job_type;not null"`
	SubmissionID int64                     `gorm:"column:submission_id;not null;index"`
	PaymentID    string                    `gorm:"column:payment_id;not null;uniqueIndex:settlement_jobs_payment_id_key"`
	Payload      json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Status       enums.SettlementJobStatus `gorm:"column:status;not null;default:queued"`
	AttemptCount int                       `gorm:"column:attempt_count;not null;default:0"`
	MaxAttempts  int                       `gorm:"column:max_attempts;not null;default:5"`
	LastError    *string                   `gorm:"column:last_error"`
	AvailableAt  time.Time                 `gorm:"column:available_at;not null"`
	LockedUntil  *time.Time                `gorm:"column:locked_until"`
	CreatedAt    time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the primary key and default availability.
func (j *SettlementJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.AvailableAt.IsZero() {
		j.AvailableAt = time.Now().UTC()
	}
	return nil
}
