package sequence

import (
	"context"
	"errors"
	"testing"
	"time"

	"whatsapp-crm/internal/logging"
	"whatsapp-crm/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStageChanger(fx *fixture) *StageChanger {
	return NewStageChanger(fx.accounts, fx.leads, fx.contacts, logging.Discard(), func() time.Time { return testNow })
}

func TestApplyStageChangeMovesLeadAndAdvances(t *testing.T) {
	contact := runningContact(1, 2, 48)
	fx := newFixture(contact)
	fx.leads = newFakeLeads(&models.Lead{ID: 11, ContactID: 1, ProductID: 7, PipelineStage: "New", Active: true})
	sc := newTestStageChanger(fx)

	var notified []string
	sc.OnStageChanged(func(c *models.Contact, step int, stage string) { notified = append(notified, stage) })

	local, err := fx.contacts.GetContact(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, sc.ApplyStageChange(context.Background(), local, 3, "Qualified"))

	assert.Equal(t, "Qualified", fx.leads.leads[1].PipelineStage)
	assert.Equal(t, 3, fx.contacts.position(1))
	assert.Equal(t, 3, local.SequencePosition)
	assert.Equal(t, []string{"Qualified"}, notified)
}

func TestApplyStageChangeWithoutLead(t *testing.T) {
	contact := runningContact(1, 2, 48)
	fx := newFixture(contact)
	// lead for a different product does not count
	fx.leads = newFakeLeads(&models.Lead{ID: 11, ContactID: 1, ProductID: 99, Active: true})
	sc := newTestStageChanger(fx)

	err := sc.ApplyStageChange(context.Background(), contact, 3, "Qualified")

	require.ErrorIs(t, err, ErrNoLeadFound)
	assert.Equal(t, CodeNoLeadFound, ErrorCode(err))
	assert.Equal(t, 2, fx.contacts.position(1))
	assert.Zero(t, fx.leads.moveCount())
}

func TestApplyStageChangeKeepsPositionOnMoveFailure(t *testing.T) {
	contact := runningContact(1, 2, 48)
	fx := newFixture(contact)
	fx.leads = newFakeLeads(&models.Lead{ID: 11, ContactID: 1, ProductID: 7, Active: true})
	fx.leads.moveErr = errors.New("pipeline service unavailable")
	sc := newTestStageChanger(fx)

	err := sc.ApplyStageChange(context.Background(), contact, 3, "Qualified")

	require.Error(t, err)
	assert.Equal(t, 2, fx.contacts.position(1))
	assert.Equal(t, 2, contact.SequencePosition)
}
