package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-crm/internal/models"

	"github.com/sirupsen/logrus"
)

// StageChanger moves a contact's lead when the walk reaches a stage-change
// step, then advances the contact past that step.
type StageChanger struct {
	accounts AccountStore
	leads    LeadService
	contacts ContactStore
	log      logrus.FieldLogger
	now      func() time.Time
	notify   func(contact *models.Contact, step int, stage string)
}

func NewStageChanger(accounts AccountStore, leads LeadService, contacts ContactStore, log logrus.FieldLogger, now func() time.Time) *StageChanger {
	if now == nil {
		now = time.Now
	}
	return &StageChanger{accounts: accounts, leads: leads, contacts: contacts, log: log, now: now}
}

// OnStageChanged registers a callback run after every applied stage change.
func (s *StageChanger) OnStageChanged(fn func(contact *models.Contact, step int, stage string)) {
	s.notify = fn
}

// ApplyStageChange moves the contact's active lead for the account's product
// to target and records position as processed. A lead is never created; a
// missing one yields ErrNoLeadFound. On any failure the contact keeps its
// position so the next evaluation retries.
func (s *StageChanger) ApplyStageChange(ctx context.Context, contact *models.Contact, position int, target string) error {
	account, err := s.accounts.GetAccountByID(ctx, contact.AccountID)
	if err != nil {
		return fmt.Errorf("resolve account %d: %w", contact.AccountID, err)
	}

	lead, err := s.leads.GetLeadByContact(ctx, contact.ID, account.ProductID)
	if err != nil {
		return fmt.Errorf("lookup lead: %w", err)
	}
	if lead == nil {
		return ErrNoLeadFound
	}

	if _, err := s.leads.MoveLeadToStage(ctx, lead.ID, target, nil, account.ProductID); err != nil {
		return fmt.Errorf("move lead %d to %q: %w", lead.ID, target, err)
	}

	at := s.now()
	if err := s.contacts.AdvancePosition(ctx, contact.ID, contact.SequencePosition, position, at); err != nil {
		if errors.Is(err, ErrStalePosition) {
			return err
		}
		return fmt.Errorf("advance contact %d: %w", contact.ID, err)
	}

	contact.SequencePosition = position
	contact.SequencePositionAt = &at
	contact.SequenceAccumulatedDelay = 0

	s.log.WithFields(logrus.Fields{
		"contact_id":    contact.ID,
		"lead_id":       lead.ID,
		"stage":         target,
		"step_position": position,
	}).Info("Lead stage changed by sequence")

	if s.notify != nil {
		s.notify(contact, position, target)
	}
	return nil
}

// StepFunc binds the changer to one contact for use by the walker.
func (s *StageChanger) StepFunc(contact *models.Contact) StageFunc {
	return func(ctx context.Context, step *models.SequenceStep) error {
		return s.ApplyStageChange(ctx, contact, step.OrderPosition, step.TargetStageName)
	}
}
