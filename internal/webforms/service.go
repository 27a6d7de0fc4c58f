// Package webforms stores form definitions and locates their payment element.
package webforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/formpay/pkg/db/models"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
)

type webformRepository interface {
	FindByID(ctx context.Context, id string) (*models.Webform, error)
	Upsert(ctx context.Context, form *models.Webform) error
}

// Form is a decoded webform definition.
type Form struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Schema Schema `json:"elements"`
}

// UpsertInput carries a new or replacement definition.
type UpsertInput struct {
	Title    string
	Elements json.RawMessage
}

// Service exposes webform operations.
type Service interface {
	Get(ctx context.Context, id string) (*Form, error)
	Upsert(ctx context.Context, id string, input UpsertInput) (*Form, error)
	AmountElements(ctx context.Context, id string) ([]*Field, error)
}

type service struct {
	repo webformRepository
}

// NewService builds a webform service.
func NewService(repo webformRepository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("webform repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Get(ctx context.Context, id string) (*Form, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webform id is required")
	}
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webform not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webform")
	}
	schema, err := ParseSchema(record.Elements)
	if err != nil {
		return nil, err
	}
	return &Form{ID: record.ID, Title: record.Title, Schema: schema}, nil
}

func (s *service) Upsert(ctx context.Context, id string, input UpsertInput) (*Form, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webform id is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	schema, err := ParseSchema(input.Elements)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConfiguration) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, pkgerrors.As(err).Message())
		}
		return nil, err
	}

	elements, err := json.Marshal(schema)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode webform elements")
	}
	record := &models.Webform{ID: id, Title: title, Elements: elements}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save webform")
	}
	return &Form{ID: id, Title: title, Schema: schema}, nil
}

func (s *service) AmountElements(ctx context.Context, id string) ([]*Field, error) {
	form, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return form.Schema.AmountElements(), nil
}
