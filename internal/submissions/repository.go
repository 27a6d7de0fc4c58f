package submissions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/formpay/internal/repo"
	"github.com/angelmondragon/formpay/pkg/db/models"
)

// Repository handles submission persistence.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to submission operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create allocates the next per-webform serial and inserts the submission
// inside the provided transaction.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, sub *models.Submission) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	if sub == nil {
		return fmt.Errorf("submission is required")
	}

	var next int
	row := r.Conn(ctx, tx).
		Model(&models.Submission{}).
		Select("COALESCE(MAX(serial), 0) + 1").
		Where("webform_id = ?", sub.WebformID).
		Row()
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("allocate submission serial: %w", err)
	}

	sub.Serial = next
	if sub.Version == 0 {
		sub.Version = 1
	}
	return r.Conn(ctx, tx).Create(sub).Error
}

// FindByID loads a submission by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (*models.Submission, error) {
	var sub models.Submission
	if err := r.Conn(ctx, nil).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateData replaces the submission data when the stored version still
// matches and bumps the version. It reports false on a version conflict.
func (r *Repository) UpdateData(ctx context.Context, tx *gorm.DB, id int64, version int, data json.RawMessage) (bool, error) {
	if tx == nil {
		return false, gorm.ErrInvalidTransaction
	}
	res := r.Conn(ctx, tx).
		Model(&models.Submission{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"data":       data,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
