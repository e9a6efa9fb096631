package store

import (
	"context"
	"testing"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceCRUD(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db)
	s := NewSequenceStore(db)
	ctx := context.Background()

	_, err := s.CreateSequence(ctx, SequenceInput{AccountID: account.ID})
	assert.True(t, sequence.IsValidation(err))

	created, err := s.CreateSequence(ctx, SequenceInput{AccountID: account.ID, Name: ptr("Follow up"), Active: ptr(false)})
	require.NoError(t, err)
	stored, err := s.GetSequence(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	updated, err := s.UpdateSequence(ctx, created.ID, SequenceInput{AccountID: account.ID, Active: ptr(true), Description: ptr("after demo")})
	require.NoError(t, err)
	assert.True(t, updated.Active)
	assert.Equal(t, "Follow up", updated.Name)
	assert.Equal(t, "after demo", updated.Description)

	steps := NewStepStore(db)
	mustAdd(t, steps, created.ID, textStep("b"))
	mustAdd(t, steps, created.ID, StepInput{StepType: ptr(models.StepTypeMessage), OrderPosition: ptr(5), MessageType: ptr(models.MessageTypeText), Content: ptr("later")})

	withSteps, err := s.GetSequenceWithSteps(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, withSteps.Steps, 2)
	assert.Equal(t, 1, withSteps.Steps[0].OrderPosition)
	assert.Equal(t, 5, withSteps.Steps[1].OrderPosition)

	list, err := s.ListSequences(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetSequenceWithSteps(ctx, 999)
	assert.ErrorIs(t, err, sequence.ErrSequenceNotFound)
}

func TestDeleteSequenceInUse(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db)
	seq := seedSequence(t, db, account.ID)
	contact := seedContact(t, db, account.ID, "5215511111111")
	mustAdd(t, NewStepStore(db), seq.ID, textStep("hola"))
	contacts := NewContactStore(db)
	s := NewSequenceStore(db)
	ctx := context.Background()

	_, err := contacts.StartSequence(ctx, contact.ID, seq.ID, baseTime)
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteSequence(ctx, seq.ID), sequence.ErrSequenceInUse)

	require.NoError(t, contacts.StopSequence(ctx, contact.ID))
	require.NoError(t, s.DeleteSequence(ctx, seq.ID))

	var stepCount int64
	db.Model(&models.SequenceStep{}).Where("sequence_id = ?", seq.ID).Count(&stepCount)
	assert.Zero(t, stepCount)

	assert.ErrorIs(t, s.DeleteSequence(ctx, seq.ID), sequence.ErrSequenceNotFound)
	assert.ErrorIs(t, s.Deactivate(ctx, seq.ID), sequence.ErrSequenceNotFound)
}

func TestLeadStageMoves(t *testing.T) {
	db := newTestDB(t)
	contact := seedContact(t, db, seedAccount(t, db).ID, "5215511111111")
	s := NewLeadStore(db)
	ctx := context.Background()

	none, err := s.GetLeadByContact(ctx, contact.ID, 7)
	require.NoError(t, err)
	assert.Nil(t, none)

	lead := &models.Lead{ContactID: contact.ID, ProductID: 7, PipelineStage: "New", Active: true}
	require.NoError(t, s.CreateLead(ctx, lead))

	found, err := s.GetLeadByContact(ctx, contact.ID, 7)
	require.NoError(t, err)
	require.NotNil(t, found)

	moved, err := s.MoveLeadToStage(ctx, found.ID, "Qualified", nil, 7)
	require.NoError(t, err)
	assert.Equal(t, "Qualified", moved.PipelineStage)

	// repeating the move is safe and leaves no second audit row
	_, err = s.MoveLeadToStage(ctx, found.ID, "Qualified", nil, 7)
	require.NoError(t, err)

	history, err := s.StageHistory(ctx, found.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "New", history[0].FromStage)
	assert.Equal(t, "Qualified", history[0].ToStage)
	assert.Nil(t, history[0].ActorID)

	_, err = s.MoveLeadToStage(ctx, found.ID, "Won", nil, 8)
	assert.ErrorIs(t, err, sequence.ErrNoLeadFound)
}

func TestTemplateUpsert(t *testing.T) {
	db := newTestDB(t)
	s := NewTemplateStore(db)
	ctx := context.Background()

	n, err := s.UpsertTemplates(ctx, []models.Template{{ID: "1", Name: "welcome", Language: "es", Status: "PENDING"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.UpsertTemplates(ctx, []models.Template{{ID: "1", Name: "welcome", Language: "es", Status: "APPROVED"}})
	require.NoError(t, err)

	tmpl, err := s.GetTemplate(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", tmpl.Status)

	missing, err := s.GetTemplate(ctx, "2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAccountLookups(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db)
	s := NewAccountStore(db)
	ctx := context.Background()

	found, err := s.GetByPhoneNumberID(ctx, "1000")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)

	_, err = s.GetByPhoneNumberID(ctx, "nope")
	assert.ErrorIs(t, err, sequence.ErrAccountNotFound)

	_, err = s.GetAccountByID(ctx, 999)
	assert.ErrorIs(t, err, sequence.ErrAccountNotFound)
}
