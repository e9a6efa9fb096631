package store

import (
	"context"
	"errors"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"

	"gorm.io/gorm"
)

// SequenceInput is the editable part of a sequence.
type SequenceInput struct {
	AccountID   uint    `json:"account_id" validate:"required"`
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

type SequenceStore struct {
	db *gorm.DB
}

func NewSequenceStore(db *gorm.DB) *SequenceStore {
	return &SequenceStore{db: db}
}

func (s *SequenceStore) CreateSequence(ctx context.Context, in SequenceInput) (*models.Sequence, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	if in.Name == nil {
		return nil, sequence.ValidationErrors{invalid("name", "is required")}
	}

	seq := models.Sequence{AccountID: in.AccountID, Name: *in.Name, Active: true}
	if in.Description != nil {
		seq.Description = *in.Description
	}
	if in.Active != nil {
		seq.Active = *in.Active
	}
	if err := s.db.WithContext(ctx).Create(&seq).Error; err != nil {
		return nil, err
	}
	// gorm skips zero-value fields carrying a default tag on insert
	if !seq.Active {
		if err := s.db.WithContext(ctx).Model(&seq).Update("active", false).Error; err != nil {
			return nil, err
		}
	}
	return &seq, nil
}

func (s *SequenceStore) GetSequence(ctx context.Context, id uint) (*models.Sequence, error) {
	var seq models.Sequence
	if err := s.db.WithContext(ctx).First(&seq, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sequence.ErrSequenceNotFound
		}
		return nil, err
	}
	return &seq, nil
}

// GetSequenceWithSteps loads the sequence and its steps in order.
func (s *SequenceStore) GetSequenceWithSteps(ctx context.Context, id uint) (*models.Sequence, error) {
	var seq models.Sequence
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_position ASC, id ASC")
		}).
		First(&seq, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sequence.ErrSequenceNotFound
		}
		return nil, err
	}
	return &seq, nil
}

func (s *SequenceStore) ListSequences(ctx context.Context, accountID uint) ([]models.Sequence, error) {
	var seqs []models.Sequence
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Find(&seqs).Error
	return seqs, err
}

func (s *SequenceStore) UpdateSequence(ctx context.Context, id uint, in SequenceInput) (*models.Sequence, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	seq, err := s.GetSequence(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		updates["name"] = *in.Name
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.Active != nil {
		updates["active"] = *in.Active
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(seq).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.GetSequence(ctx, id)
}

// Deactivate stops a sequence from being evaluated while keeping its
// contacts and steps.
func (s *SequenceStore) Deactivate(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Sequence{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return sequence.ErrSequenceNotFound
	}
	return nil
}

// DeleteSequence removes a sequence and its steps. Sequences still running
// for some contact must be deactivated instead.
func (s *SequenceStore) DeleteSequence(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Contact{}).
			Where("sequence_id = ? AND sequence_active = ?", id, true).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return sequence.ErrSequenceInUse
		}

		if err := tx.Where("sequence_id = ?", id).Delete(&models.SequenceStep{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Sequence{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return sequence.ErrSequenceNotFound
		}
		return nil
	})
}
