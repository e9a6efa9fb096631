package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"

	"gorm.io/gorm"
)

// ContactStore persists contacts and their sequence state.
type ContactStore struct {
	db *gorm.DB
}

func NewContactStore(db *gorm.DB) *ContactStore {
	return &ContactStore{db: db}
}

func (s *ContactStore) GetContact(ctx context.Context, id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.WithContext(ctx).First(&contact, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sequence.ErrContactNotFound
		}
		return nil, err
	}
	return &contact, nil
}

// ListContacts returns the contacts of an account, newest first.
func (s *ContactStore) ListContacts(ctx context.Context, accountID uint) ([]models.Contact, error) {
	var contacts []models.Contact
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Find(&contacts).Error
	return contacts, err
}

func (s *ContactStore) ListSequenceContacts(ctx context.Context, accountID uint) ([]models.Contact, error) {
	var contacts []models.Contact
	err := s.db.WithContext(ctx).
		Joins("JOIN sequences ON sequences.id = contacts.sequence_id").
		Where("contacts.account_id = ? AND contacts.sequence_active = ? AND sequences.active = ?", accountID, true, true).
		Order("contacts.id ASC").
		Find(&contacts).Error
	return contacts, err
}

// FindOrCreate returns the account's contact with waID, creating it on first
// contact. The same number writing to two accounts is two contacts.
func (s *ContactStore) FindOrCreate(ctx context.Context, accountID uint, waID, name string) (*models.Contact, error) {
	contact := models.Contact{AccountID: accountID, WaID: waID, Name: name, SequenceState: models.SequenceStateIdle}
	err := s.db.WithContext(ctx).
		Where(models.Contact{AccountID: accountID, WaID: waID}).
		Attrs(contact).
		FirstOrCreate(&contact).Error
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *ContactStore) AdvancePosition(ctx context.Context, contactID uint, from, to int, at time.Time) error {
	return advancePosition(s.db.WithContext(ctx), contactID, from, to, at)
}

func advancePosition(tx *gorm.DB, contactID uint, from, to int, at time.Time) error {
	res := tx.Model(&models.Contact{}).
		Where("id = ? AND sequence_position = ?", contactID, from).
		Updates(map[string]interface{}{
			"sequence_position":          to,
			"sequence_position_at":       at,
			"sequence_accumulated_delay": 0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&models.Contact{}).Where("id = ?", contactID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return sequence.ErrContactNotFound
		}
		return sequence.ErrStalePosition
	}
	return nil
}

func (s *ContactStore) SaveEvaluation(ctx context.Context, contactID uint, state sequence.EvaluationState) error {
	return s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ?", contactID).
		Updates(map[string]interface{}{
			"sequence_state":             state.State,
			"sequence_accumulated_delay": state.AccumulatedDelay,
			"sequence_last_evaluated_at": state.EvaluatedAt,
		}).Error
}

// StartSequence assigns a sequence to a contact and resets its progress.
// The sequence must be active and belong to the contact's account.
func (s *ContactStore) StartSequence(ctx context.Context, contactID, sequenceID uint, at time.Time) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&contact, contactID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return sequence.ErrContactNotFound
			}
			return err
		}

		var seq models.Sequence
		if err := tx.First(&seq, sequenceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return sequence.ErrSequenceNotFound
			}
			return err
		}
		if seq.AccountID != contact.AccountID {
			return sequence.ValidationErrors{invalid("sequence_id", "belongs to another account")}
		}
		if !seq.Active {
			return sequence.ValidationErrors{invalid("sequence_id", "sequence is not active")}
		}

		return tx.Model(&contact).Updates(map[string]interface{}{
			"sequence_id":                sequenceID,
			"sequence_active":            true,
			"sequence_position":          0,
			"sequence_position_at":       nil,
			"sequence_started_at":        at,
			"sequence_accumulated_delay": 0,
			"sequence_last_evaluated_at": nil,
			"sequence_state":             models.SequenceStateRunning,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetContact(ctx, contactID)
}

// StopSequence detaches the contact from its sequence without clearing its
// history.
func (s *ContactStore) StopSequence(ctx context.Context, contactID uint) error {
	res := s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ?", contactID).
		Updates(map[string]interface{}{
			"sequence_active": false,
			"sequence_state":  models.SequenceStateIdle,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return sequence.ErrContactNotFound
	}
	return nil
}

// RecordSequenceSend stores a sent sequence message, moves the contact from
// position from to the step's position and appends the log entry, all in one
// transaction. ErrStalePosition means another worker got there first.
func (s *ContactStore) RecordSequenceSend(ctx context.Context, contactID uint, from int, msg *models.Message, entry *models.SequenceLog) error {
	if msg.SequenceMessageID == nil {
		return fmt.Errorf("sequence message for contact %d has no step position", contactID)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := advancePosition(tx, contactID, from, *msg.SequenceMessageID, msg.Timestamp); err != nil {
			return err
		}
		msg.ContactID = contactID
		msg.IsFromMe = true
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Create(entry).Error
	})
}

// RecordInbound stores a client message and updates the interaction fields
// of its contact.
func (s *ContactStore) RecordInbound(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msg.IsFromMe = false
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Contact{}).
			Where("id = ?", msg.ContactID).
			Updates(map[string]interface{}{
				"last_interaction_source": models.InteractionClient,
				"last_interaction_at":     msg.Timestamp,
				"client_responses_count":  gorm.Expr("client_responses_count + 1"),
			}).Error
	})
}

// RecordAgentReply stores a message typed by a human agent. An agent reply
// hands the conversation back, so a sequence paused by a client response
// resumes.
func (s *ContactStore) RecordAgentReply(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msg.IsFromMe = true
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Contact{}).
			Where("id = ?", msg.ContactID).
			Updates(map[string]interface{}{
				"last_interaction_source": models.InteractionAgent,
				"last_interaction_at":     msg.Timestamp,
			}).Error
	})
}
