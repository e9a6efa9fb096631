package store

import (
	"context"
	"testing"
	"time"

	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedAccount(t *testing.T, db *gorm.DB) *models.Account {
	t.Helper()
	account := &models.Account{Name: "Store", ProductID: 7, PhoneNumberID: "1000"}
	require.NoError(t, db.Create(account).Error)
	return account
}

func seedSequence(t *testing.T, db *gorm.DB, accountID uint) *models.Sequence {
	t.Helper()
	seq := &models.Sequence{AccountID: accountID, Name: "Onboarding", Active: true}
	require.NoError(t, db.Create(seq).Error)
	return seq
}

func seedContact(t *testing.T, db *gorm.DB, accountID uint, waID string) *models.Contact {
	t.Helper()
	contact := &models.Contact{AccountID: accountID, WaID: waID, Name: "Ana", SequenceState: models.SequenceStateIdle}
	require.NoError(t, db.Create(contact).Error)
	return contact
}

func ptr[T any](v T) *T { return &v }

func textStep(content string) StepInput {
	return StepInput{
		StepType:    ptr(models.StepTypeMessage),
		MessageType: ptr(models.MessageTypeText),
		Content:     ptr(content),
	}
}

func mustAdd(t *testing.T, s *StepStore, sequenceID uint, in StepInput) *models.SequenceStep {
	t.Helper()
	step, err := s.AddStep(context.Background(), sequenceID, in)
	require.NoError(t, err)
	return step
}
