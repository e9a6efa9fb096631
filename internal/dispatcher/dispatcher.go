// Package dispatcher periodically evaluates every contact running a
// sequence and sends the messages that are due.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"whatsapp-crm/internal/lock"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Log actions.
const (
	ActionSent         = "sent"
	ActionSendFailed   = "send_failed"
	ActionStageChanged = "stage_changed"
)

// Outcome of processing one contact.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeWaiting Outcome = "waiting"
	OutcomeBusy    Outcome = "busy"
	OutcomeFailed  Outcome = "failed"
)

type Evaluator interface {
	EvaluateContact(ctx context.Context, contactID uint) sequence.Decision
}

type Sender interface {
	SendStep(ctx context.Context, to string, step *models.SequenceStep, tmpl *models.Template) (string, error)
}

type AccountLister interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

type ContactStore interface {
	GetContact(ctx context.Context, id uint) (*models.Contact, error)
	ListSequenceContacts(ctx context.Context, accountID uint) ([]models.Contact, error)
	RecordSequenceSend(ctx context.Context, contactID uint, from int, msg *models.Message, entry *models.SequenceLog) error
}

type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
}

type LogStore interface {
	Append(ctx context.Context, entry *models.SequenceLog) error
}

// Notifier receives sequence events, usually the websocket hub.
type Notifier interface {
	NotifySequenceSent(contact *models.Contact, msg *models.Message)
	NotifyStageChanged(contact *models.Contact, step int, stage string)
	NotifySequenceFailed(contact *models.Contact, step int, reason string)
}

type Options struct {
	Engine    Evaluator
	Sender    Sender
	Accounts  AccountLister
	Contacts  ContactStore
	Templates TemplateStore
	Logs      LogStore
	Locker    lock.Locker
	Notifier  Notifier
	Logger    logrus.FieldLogger
	Interval  time.Duration
	Workers   int
	LeaseTTL  time.Duration
	Now       func() time.Time
}

// Summary counts what one tick did.
type Summary struct {
	Evaluated int
	Sent      int
	Busy      int
	Failed    int
}

type Dispatcher struct {
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time
}

func New(opts Options) *Dispatcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{opts: opts, log: opts.Logger.WithField("component", "dispatcher"), now: now}
}

// Start runs a tick right away and then on every interval until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.WithField("interval", d.opts.Interval).Info("Starting sequence dispatcher")
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	d.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			d.Tick(ctx)
		case <-ctx.Done():
			d.log.Info("Stopping sequence dispatcher")
			return
		}
	}
}

// Tick processes every eligible contact of every account once.
func (d *Dispatcher) Tick(ctx context.Context) Summary {
	var sum Summary
	accounts, err := d.opts.Accounts.ListAccounts(ctx)
	if err != nil {
		d.log.WithError(err).Error("Failed to list accounts")
		return sum
	}

	var mu sync.Mutex
	for _, account := range accounts {
		contacts, err := d.opts.Contacts.ListSequenceContacts(ctx, account.ID)
		if err != nil {
			d.log.WithError(err).WithField("account_id", account.ID).Error("Failed to list sequence contacts")
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.opts.Workers)
		for i := range contacts {
			id := contacts[i].ID
			g.Go(func() error {
				outcome := d.ProcessContact(gctx, id)
				mu.Lock()
				sum.add(outcome)
				mu.Unlock()
				return nil
			})
		}
		g.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	if sum.Evaluated > 0 {
		d.log.WithFields(logrus.Fields{
			"evaluated": sum.Evaluated,
			"sent":      sum.Sent,
			"busy":      sum.Busy,
			"failed":    sum.Failed,
		}).Info("Dispatch tick finished")
	}
	return sum
}

func (s *Summary) add(o Outcome) {
	s.Evaluated++
	switch o {
	case OutcomeSent:
		s.Sent++
	case OutcomeBusy:
		s.Busy++
	case OutcomeFailed:
		s.Failed++
	}
}

// ProcessContact evaluates one contact under its lease and sends the due
// message. A failed send leaves the position untouched so the next tick
// retries it.
func (d *Dispatcher) ProcessContact(ctx context.Context, contactID uint) Outcome {
	log := d.log.WithField("contact_id", contactID)

	lease, err := d.opts.Locker.Acquire(ctx, lock.ContactKey(contactID), d.opts.LeaseTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLeaseHeld) {
			return OutcomeBusy
		}
		log.WithError(err).Warn("Failed to acquire contact lease")
		return OutcomeFailed
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to release contact lease")
		}
	}()

	decision := d.opts.Engine.EvaluateContact(ctx, contactID)
	if !decision.ShouldSend || decision.NextMessage == nil {
		return OutcomeWaiting
	}
	step := decision.NextMessage
	log = log.WithField("step_position", step.OrderPosition)

	// the walk may have applied stage changes, so read the position again
	contact, err := d.opts.Contacts.GetContact(ctx, contactID)
	if err != nil {
		log.WithError(err).Warn("Failed to reload contact")
		return OutcomeFailed
	}

	var tmpl *models.Template
	if step.TemplateID != nil {
		tmpl, err = d.opts.Templates.GetTemplate(ctx, *step.TemplateID)
		if err != nil {
			log.WithError(err).Warn("Failed to load template")
			return OutcomeFailed
		}
	}

	waMessageID, err := d.opts.Sender.SendStep(ctx, contact.WaID, step, tmpl)
	if err != nil {
		d.sendFailed(ctx, log, contact, step, err)
		return OutcomeFailed
	}

	msg := &models.Message{
		WaMessageID:       waMessageID,
		Timestamp:         d.now(),
		SequenceMessageID: &step.OrderPosition,
		MessageType:       messageType(step),
		TextContent:       step.Content,
		Status:            "sent",
	}
	entry := &models.SequenceLog{
		ContactID:    contact.ID,
		SequenceID:   sequenceID(contact),
		StepPosition: step.OrderPosition,
		Action:       ActionSent,
		Reason:       decision.Reason,
		Success:      true,
	}
	if err := d.opts.Contacts.RecordSequenceSend(ctx, contact.ID, contact.SequencePosition, msg, entry); err != nil {
		log.WithError(err).WithField("wa_message_id", waMessageID).Error("Message sent but not recorded")
		return OutcomeFailed
	}

	log.WithField("wa_message_id", waMessageID).Info("Sequence message sent")
	if d.opts.Notifier != nil {
		d.opts.Notifier.NotifySequenceSent(contact, msg)
	}
	return OutcomeSent
}

// StageChanged records a stage change applied by the engine. It is meant to
// be registered with the engine's stage changer.
func (d *Dispatcher) StageChanged(contact *models.Contact, step int, stage string) {
	entry := &models.SequenceLog{
		ContactID:    contact.ID,
		SequenceID:   sequenceID(contact),
		StepPosition: step,
		Action:       ActionStageChanged,
		Reason:       stage,
		Success:      true,
	}
	if err := d.opts.Logs.Append(context.Background(), entry); err != nil {
		d.log.WithError(err).WithField("contact_id", contact.ID).Warn("Failed to log stage change")
	}
	if d.opts.Notifier != nil {
		d.opts.Notifier.NotifyStageChanged(contact, step, stage)
	}
}

func (d *Dispatcher) sendFailed(ctx context.Context, log logrus.FieldLogger, contact *models.Contact, step *models.SequenceStep, sendErr error) {
	log.WithError(sendErr).Warn("Failed to send sequence message")
	entry := &models.SequenceLog{
		ContactID:    contact.ID,
		SequenceID:   sequenceID(contact),
		StepPosition: step.OrderPosition,
		Action:       ActionSendFailed,
		Success:      false,
		ErrorMessage: sendErr.Error(),
	}
	if err := d.opts.Logs.Append(ctx, entry); err != nil {
		log.WithError(err).Warn("Failed to log send failure")
	}
	if d.opts.Notifier != nil {
		d.opts.Notifier.NotifySequenceFailed(contact, step.OrderPosition, sendErr.Error())
	}
}

func messageType(step *models.SequenceStep) string {
	if step.TemplateID != nil {
		return "template"
	}
	if step.MessageType == "" {
		return string(models.MessageTypeText)
	}
	return string(step.MessageType)
}

func sequenceID(contact *models.Contact) uint {
	if contact.SequenceID == nil {
		return 0
	}
	return *contact.SequenceID
}
