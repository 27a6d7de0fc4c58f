package webforms

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/formpay/internal/repo"
	"github.com/angelmondragon/formpay/pkg/db/models"
)

// Repository handles webform persistence.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to webform operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindByID loads a webform definition.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Webform, error) {
	var form models.Webform
	if err := r.Conn(ctx, nil).Where("id = ?", id).First(&form).Error; err != nil {
		return nil, err
	}
	return &form, nil
}

// Upsert inserts or replaces a webform definition.
func (r *Repository) Upsert(ctx context.Context, form *models.Webform) error {
	if form == nil {
		return fmt.Errorf("webform is required")
	}
	form.UpdatedAt = time.Now().UTC()
	return r.Conn(ctx, nil).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "elements", "updated_at"}),
	}).Create(form).Error
}
