package store

import (
	"context"

	"whatsapp-crm/internal/models"

	"gorm.io/gorm"
)

// LogFilter narrows ListLogs. Zero fields are ignored.
type LogFilter struct {
	ContactID  uint
	SequenceID uint
	Limit      int
}

type LogStore struct {
	db *gorm.DB
}

func NewLogStore(db *gorm.DB) *LogStore {
	return &LogStore{db: db}
}

func (s *LogStore) Append(ctx context.Context, entry *models.SequenceLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *LogStore) ListLogs(ctx context.Context, f LogFilter) ([]models.SequenceLog, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if f.ContactID != 0 {
		q = q.Where("contact_id = ?", f.ContactID)
	}
	if f.SequenceID != 0 {
		q = q.Where("sequence_id = ?", f.SequenceID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []models.SequenceLog
	err := q.Limit(limit).Find(&logs).Error
	return logs, err
}
