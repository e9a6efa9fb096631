package store

import (
	"context"

	"whatsapp-crm/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TemplateStore struct {
	db *gorm.DB
}

func NewTemplateStore(db *gorm.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

func (s *TemplateStore) ListTemplates(ctx context.Context) ([]models.Template, error) {
	var templates []models.Template
	err := s.db.WithContext(ctx).Order("name ASC").Find(&templates).Error
	return templates, err
}

// GetTemplate returns nil when the id is unknown.
func (s *TemplateStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var templates []models.Template
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&templates).Error; err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, nil
	}
	return &templates[0], nil
}

// UpsertTemplates stores templates fetched from Meta, replacing known ids.
func (s *TemplateStore) UpsertTemplates(ctx context.Context, templates []models.Template) (int, error) {
	if len(templates) == 0 {
		return 0, nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "language", "category", "status", "components"}),
	}).Create(&templates).Error
	if err != nil {
		return 0, err
	}
	return len(templates), nil
}
