package store

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"

	"gorm.io/gorm"
)

// StepInput carries the fields of an add or partial update. Nil fields are
// left untouched on update.
type StepInput struct {
	StepType               *models.StepType        `json:"step_type" validate:"omitempty,oneof=message pause stage_change condition"`
	OrderPosition          *int                    `json:"order_position" validate:"omitempty,gt=0"`
	DelayHoursFromPrevious *float64                `json:"delay_hours_from_previous" validate:"omitempty,gte=0"`
	MessageType            *models.MessageType     `json:"message_type" validate:"omitempty,oneof=text image video audio document"`
	Content                *string                 `json:"content"`
	MediaURL               *string                 `json:"media_url"`
	Filename               *string                 `json:"filename"`
	TemplateID             *string                 `json:"template_id"`
	PauseType              *models.PauseType       `json:"pause_type" validate:"omitempty,oneof=fixed_delay until_message until_days_without_response"`
	DaysWithoutResponse    *int                    `json:"days_without_response" validate:"omitempty,gte=0"`
	InterruptKeywords      *models.InterruptConfig `json:"interrupt_keywords"`
	DelayAfterInterrupt    *float64                `json:"delay_after_interrupt" validate:"omitempty,gte=0"`
	TargetStageName        *string                 `json:"target_stage_name"`
	ConditionType          *models.ConditionType   `json:"condition_type" validate:"omitempty,oneof=none if_responded if_not_responded if_message_contains"`
	ConditionKeywords      *models.KeywordConfig   `json:"condition_keywords"`
	NextStepIfTrue         *int                    `json:"next_step_if_true"`
	NextStepIfFalse        *int                    `json:"next_step_if_false"`
}

func (in *StepInput) applyTo(s *models.SequenceStep) {
	if in.StepType != nil {
		s.StepType = *in.StepType
	}
	if in.OrderPosition != nil {
		s.OrderPosition = *in.OrderPosition
	}
	if in.DelayHoursFromPrevious != nil {
		s.DelayHoursFromPrevious = *in.DelayHoursFromPrevious
	}
	if in.MessageType != nil {
		s.MessageType = *in.MessageType
	}
	if in.Content != nil {
		s.Content = *in.Content
	}
	if in.MediaURL != nil {
		s.MediaURL = *in.MediaURL
	}
	if in.Filename != nil {
		s.Filename = *in.Filename
	}
	if in.TemplateID != nil {
		s.TemplateID = in.TemplateID
		if *in.TemplateID == "" {
			s.TemplateID = nil
		}
	}
	if in.PauseType != nil {
		s.PauseType = *in.PauseType
	}
	if in.DaysWithoutResponse != nil {
		s.DaysWithoutResponse = *in.DaysWithoutResponse
	}
	if in.InterruptKeywords != nil {
		s.InterruptKeywords = in.InterruptKeywords
	}
	if in.DelayAfterInterrupt != nil {
		s.DelayAfterInterrupt = in.DelayAfterInterrupt
	}
	if in.TargetStageName != nil {
		s.TargetStageName = *in.TargetStageName
	}
	if in.ConditionType != nil {
		s.ConditionType = *in.ConditionType
	}
	if in.ConditionKeywords != nil {
		s.ConditionKeywords = in.ConditionKeywords
	}
	if in.NextStepIfTrue != nil {
		s.NextStepIfTrue = in.NextStepIfTrue
	}
	if in.NextStepIfFalse != nil {
		s.NextStepIfFalse = in.NextStepIfFalse
	}
}

// StepOrder is one entry of a reorder request.
type StepOrder struct {
	ID            uint `json:"id" validate:"required"`
	OrderPosition int  `json:"order_position" validate:"gt=0"`
}

// StepStore persists the ordered steps of a sequence.
type StepStore struct {
	db *gorm.DB
}

func NewStepStore(db *gorm.DB) *StepStore {
	return &StepStore{db: db}
}

// ListSteps returns the steps of a sequence ordered by order_position.
func (s *StepStore) ListSteps(ctx context.Context, sequenceID uint) ([]models.SequenceStep, error) {
	var steps []models.SequenceStep
	err := s.db.WithContext(ctx).
		Where("sequence_id = ?", sequenceID).
		Order("order_position ASC, id ASC").
		Find(&steps).Error
	return steps, err
}

func (s *StepStore) GetStep(ctx context.Context, id uint) (*models.SequenceStep, error) {
	var step models.SequenceStep
	if err := s.db.WithContext(ctx).First(&step, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sequence.ErrStepNotFound
		}
		return nil, err
	}
	return &step, nil
}

// AddStep validates and appends a step. Without an explicit order_position
// the step goes after the current last one. message_number is always
// max(existing)+1.
func (s *StepStore) AddStep(ctx context.Context, sequenceID uint, in StepInput) (*models.SequenceStep, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	if in.StepType == nil {
		return nil, sequence.ValidationErrors{invalid("step_type", "is required")}
	}

	var step models.SequenceStep
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.Sequence{}, sequenceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return sequence.ErrSequenceNotFound
			}
			return err
		}

		var siblings []models.SequenceStep
		if err := tx.Where("sequence_id = ?", sequenceID).Find(&siblings).Error; err != nil {
			return err
		}

		step = models.SequenceStep{SequenceID: sequenceID}
		in.applyTo(&step)

		maxOrder, maxNumber := 0, 0
		for _, sib := range siblings {
			maxOrder = max(maxOrder, sib.OrderPosition)
			maxNumber = max(maxNumber, sib.MessageNumber)
		}
		if in.OrderPosition == nil {
			step.OrderPosition = maxOrder + 1
		}
		step.MessageNumber = maxNumber + 1

		normalizeStep(&step)
		if err := checkStep(&step, siblings); err != nil {
			return err
		}
		return tx.Create(&step).Error
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// UpdateStep applies a partial update. Changing step_type clears every field
// of the previous type.
func (s *StepStore) UpdateStep(ctx context.Context, id uint, in StepInput) (*models.SequenceStep, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	var step models.SequenceStep
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&step, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return sequence.ErrStepNotFound
			}
			return err
		}

		var siblings []models.SequenceStep
		if err := tx.Where("sequence_id = ? AND id <> ?", step.SequenceID, step.ID).Find(&siblings).Error; err != nil {
			return err
		}

		if in.StepType != nil && *in.StepType != step.StepType {
			clearTypeFields(&step, step.StepType)
		}
		in.applyTo(&step)
		normalizeStep(&step)
		if err := checkStep(&step, siblings); err != nil {
			return err
		}
		return tx.Save(&step).Error
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (s *StepStore) DeleteStep(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.SequenceStep{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return sequence.ErrStepNotFound
	}
	return nil
}

// ReorderSteps assigns new order positions in one transaction. Every id must
// belong to the sequence, and branch targets must still point forward
// afterwards.
func (s *StepStore) ReorderSteps(ctx context.Context, sequenceID uint, order []StepOrder) ([]models.SequenceStep, error) {
	for i := range order {
		if err := validateInput(&order[i]); err != nil {
			return nil, err
		}
	}

	var steps []models.SequenceStep
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sequence_id = ?", sequenceID).Find(&steps).Error; err != nil {
			return err
		}

		byID := make(map[uint]*models.SequenceStep, len(steps))
		for i := range steps {
			byID[steps[i].ID] = &steps[i]
		}
		for _, o := range order {
			st, ok := byID[o.ID]
			if !ok {
				return fmt.Errorf("step %d in sequence %d: %w", o.ID, sequenceID, sequence.ErrStepNotFound)
			}
			st.OrderPosition = o.OrderPosition
		}

		for i := range steps {
			if err := checkStep(&steps[i], steps); err != nil {
				return err
			}
		}

		for _, o := range order {
			if err := tx.Model(&models.SequenceStep{}).
				Where("id = ?", o.ID).
				Update("order_position", o.OrderPosition).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sequence.SortSteps(steps), nil
}
