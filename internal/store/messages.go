package store

import (
	"context"
	"errors"
	"time"

	"whatsapp-crm/internal/models"

	"gorm.io/gorm"
)

// MessageStore answers history lookups over the messages table.
type MessageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// LatestOutbound returns the most recent message sent for a step position.
func (s *MessageStore) LatestOutbound(ctx context.Context, contactID uint, position int) (*models.Message, error) {
	return first(s.db.WithContext(ctx).
		Where("contact_id = ? AND is_from_me = ? AND sequence_message_id = ?", contactID, true, position).
		Order("timestamp DESC"))
}

// LatestInbound returns the most recent client message strictly after after.
func (s *MessageStore) LatestInbound(ctx context.Context, contactID uint, after time.Time, textOnly bool) (*models.Message, error) {
	q := s.db.WithContext(ctx).
		Where("contact_id = ? AND is_from_me = ? AND timestamp > ?", contactID, false, after)
	if textOnly {
		q = q.Where("message_type = ?", "text")
	}
	return first(q.Order("timestamp DESC"))
}

// InboundSince lists client messages strictly after after, oldest first.
func (s *MessageStore) InboundSince(ctx context.Context, contactID uint, after time.Time) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("contact_id = ? AND is_from_me = ? AND timestamp > ?", contactID, false, after).
		Order("timestamp ASC").
		Find(&msgs).Error
	return msgs, err
}

// ListByContact returns a contact's conversation, newest first.
func (s *MessageStore) ListByContact(ctx context.Context, contactID uint, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("contact_id = ?", contactID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

// UpdateStatus applies a delivery status reported by the webhook.
func (s *MessageStore) UpdateStatus(ctx context.Context, waMessageID, status string) error {
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Where("wa_message_id = ?", waMessageID).
		Update("status", status).Error
}

func first(q *gorm.DB) (*models.Message, error) {
	var msg models.Message
	if err := q.Limit(1).Take(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}
