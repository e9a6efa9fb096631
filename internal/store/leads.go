package store

import (
	"context"
	"errors"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"

	"gorm.io/gorm"
)

// LeadStore is the pipeline side of the CRM as seen by sequences.
type LeadStore struct {
	db *gorm.DB
}

func NewLeadStore(db *gorm.DB) *LeadStore {
	return &LeadStore{db: db}
}

func (s *LeadStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	return s.db.WithContext(ctx).Create(lead).Error
}

// GetLeadByContact returns the contact's active lead for a product, or nil.
func (s *LeadStore) GetLeadByContact(ctx context.Context, contactID, productID uint) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).
		Where("contact_id = ? AND product_id = ? AND active = ?", contactID, productID, true).
		Order("id DESC").
		Take(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lead, nil
}

// MoveLeadToStage changes the lead's stage and writes the audit row. Moving
// a lead to the stage it is already in is a no-op.
func (s *LeadStore) MoveLeadToStage(ctx context.Context, leadID uint, stage string, actorID *uint, productID uint) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND product_id = ?", leadID, productID).Take(&lead).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return sequence.ErrNoLeadFound
			}
			return err
		}
		if lead.PipelineStage == stage {
			return nil
		}

		change := models.LeadStageChange{LeadID: lead.ID, FromStage: lead.PipelineStage, ToStage: stage, ActorID: actorID}
		if err := tx.Model(&lead).Update("pipeline_stage", stage).Error; err != nil {
			return err
		}
		return tx.Create(&change).Error
	})
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// StageHistory lists the audit trail of a lead, oldest first.
func (s *LeadStore) StageHistory(ctx context.Context, leadID uint) ([]models.LeadStageChange, error) {
	var changes []models.LeadStageChange
	err := s.db.WithContext(ctx).Where("lead_id = ?", leadID).Order("id ASC").Find(&changes).Error
	return changes, err
}
