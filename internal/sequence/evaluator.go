package sequence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"whatsapp-crm/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Decision reasons.
const (
	ReasonReady                      = "ready"
	ReasonInterrupted                = "interrupted"
	ReasonContactNotFound            = "contact_not_found"
	ReasonNoActiveSequence           = "no_active_sequence"
	ReasonPausedClientResponded      = "paused_client_responded"
	ReasonSequenceNotFound           = "sequence_not_found"
	ReasonSequenceInactive           = "sequence_inactive"
	ReasonSequenceEmpty              = "sequence_empty"
	ReasonStageChangeFailed          = "stage_change_failed"
	ReasonPauseBeforeStageChange     = "pause_before_stage_change"
	ReasonSequenceCompleted          = "sequence_completed"
	ReasonBranchCycle                = "branch_cycle"
	ReasonLookupFailed               = "lookup_failed"
	ReasonInitialGrace               = "initial_grace_period"
	ReasonWaitingDelay               = "waiting_delay"
	ReasonWaitingAfterInterrupt      = "waiting_after_interrupt"
	ReasonWaitingForMessage          = "waiting_for_message"
	ReasonWaitingDaysWithoutResponse = "waiting_days_without_response"
)

// Decision is the outcome of evaluating one contact.
type Decision struct {
	ContactID            uint                 `json:"contact_id"`
	ShouldSend           bool                 `json:"should_send"`
	NextMessage          *models.SequenceStep `json:"next_message"`
	TimeUntilSendMinutes *int                 `json:"time_until_send_minutes"`
	Reason               string               `json:"reason"`
	Code                 string               `json:"code,omitempty"`
	State                models.SequenceState `json:"state,omitempty"`
	Position             int                  `json:"position"`
	AccumulatedDelay     float64              `json:"accumulated_delay"`
}

// DueContact pairs a contact with the message that is due for it.
type DueContact struct {
	Contact  models.Contact `json:"contact"`
	Decision Decision       `json:"decision"`
}

// Options wires the engine to its collaborators.
type Options struct {
	Contacts  ContactStore
	Sequences SequenceStore
	History   MessageHistory
	Leads     LeadService
	Accounts  AccountStore
	Logger    logrus.FieldLogger
	Now       func() time.Time
	// Workers bounds concurrent evaluations in EvaluateAccount.
	Workers int
	// Guard, when set, is held around each contact EvaluateAccount evaluates.
	// EvaluateContact never takes it; its callers hold the contact already.
	Guard ContactGuard
}

// Engine evaluates contacts against their assigned sequence. It holds no
// per-contact lock; callers serialize evaluations of the same contact.
type Engine struct {
	contacts  ContactStore
	sequences SequenceStore
	history   MessageHistory
	walker    *Walker
	gate      *TimingGate
	stages    *StageChanger
	log       logrus.FieldLogger
	now       func() time.Time
	workers   int
	guard     ContactGuard
}

func NewEngine(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	conditions := NewConditionEvaluator(opts.History, opts.Logger, now)
	return &Engine{
		contacts:  opts.Contacts,
		sequences: opts.Sequences,
		history:   opts.History,
		walker:    NewWalker(conditions),
		gate:      NewTimingGate(opts.History, opts.Logger),
		stages:    NewStageChanger(opts.Accounts, opts.Leads, opts.Contacts, opts.Logger, now),
		log:       opts.Logger,
		now:       now,
		workers:   workers,
		guard:     opts.Guard,
	}
}

// Stages exposes the stage changer so callers can observe applied changes.
func (e *Engine) Stages() *StageChanger {
	return e.stages
}

// EvaluateContact loads the contact and decides whether its next message is due.
func (e *Engine) EvaluateContact(ctx context.Context, contactID uint) Decision {
	contact, err := e.contacts.GetContact(ctx, contactID)
	if err != nil {
		if errors.Is(err, ErrContactNotFound) {
			return Decision{ContactID: contactID, Reason: ReasonContactNotFound, Code: CodeContactNotFound}
		}
		e.log.WithError(err).WithField("contact_id", contactID).Warn("Failed to load contact")
		return Decision{ContactID: contactID, Reason: ReasonLookupFailed}
	}
	return e.evaluate(ctx, contact)
}

// EvaluateAccount evaluates every contact running an active sequence of the
// account and returns the ones with a message due, ordered by contact id.
// Contacts held by another worker are skipped.
func (e *Engine) EvaluateAccount(ctx context.Context, accountID uint) ([]DueContact, error) {
	contacts, err := e.contacts.ListSequenceContacts(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list sequence contacts for account %d: %w", accountID, err)
	}

	var (
		mu  sync.Mutex
		due []DueContact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := range contacts {
		contact := contacts[i]
		g.Go(func() error {
			c, d, ok := e.evaluateGuarded(gctx, contact)
			if ok && d.ShouldSend {
				mu.Lock()
				due = append(due, DueContact{Contact: c, Decision: d})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool { return due[i].Contact.ID < due[j].Contact.ID })
	return due, ctx.Err()
}

// evaluateGuarded holds the contact's guard, reloads the contact under it
// and evaluates. ok is false when the contact was skipped.
func (e *Engine) evaluateGuarded(ctx context.Context, contact models.Contact) (models.Contact, Decision, bool) {
	if e.guard == nil {
		d := e.evaluate(ctx, &contact)
		return contact, d, true
	}

	log := e.log.WithField("contact_id", contact.ID)
	release, err := e.guard(ctx, contact.ID)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			log.Debug("Contact busy, skipped")
		} else {
			log.WithError(err).Warn("Failed to acquire contact lease")
		}
		return contact, Decision{}, false
	}
	defer release()

	fresh, err := e.contacts.GetContact(ctx, contact.ID)
	if err != nil {
		log.WithError(err).Warn("Failed to reload contact")
		return contact, Decision{}, false
	}
	d := e.evaluate(ctx, fresh)
	return *fresh, d, true
}

func (e *Engine) evaluate(ctx context.Context, contact *models.Contact) Decision {
	d := Decision{ContactID: contact.ID, Position: contact.SequencePosition}
	log := e.log.WithField("contact_id", contact.ID)

	if !contact.SequenceActive || contact.SequenceID == nil {
		d.Reason = ReasonNoActiveSequence
		d.State = models.SequenceStateIdle
		return d
	}
	log = log.WithField("sequence_id", *contact.SequenceID)

	now := e.now()

	if contact.ClientRespondedSince(contact.SequenceStartedAt) {
		d.Reason = ReasonPausedClientResponded
		d.State = models.SequenceStatePaused
		e.persist(ctx, log, contact, d, now)
		return d
	}

	seq, err := e.sequences.GetSequenceWithSteps(ctx, *contact.SequenceID)
	switch {
	case errors.Is(err, ErrSequenceNotFound):
		d.Reason = ReasonSequenceNotFound
		d.Code = CodeSequenceInvalid
		return d
	case err != nil:
		log.WithError(err).Warn("Failed to load sequence")
		d.Reason = ReasonLookupFailed
		return d
	case !seq.Active:
		d.Reason = ReasonSequenceInactive
		d.Code = CodeSequenceInvalid
		return d
	case len(seq.Steps) == 0:
		d.Reason = ReasonSequenceEmpty
		d.Code = CodeSequenceInvalid
		return d
	}

	steps := SortSteps(seq.Steps)

	if step, err := e.applyPendingStageChanges(ctx, contact, steps); err != nil {
		return e.stageFailed(ctx, log, contact, d, step, err, now)
	}
	d.Position = contact.SequencePosition

	ref, err := e.positionReference(ctx, contact, now)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve last send time")
		d.Reason = ReasonLookupFailed
		return d
	}

	walk := e.walker.FindNextActionableStep(ctx, WalkInput{
		Contact:      contact,
		Steps:        steps,
		FromPosition: contact.SequencePosition,
		Reference:    ref,
		Now:          now,
		ApplyStage:   e.stages.StepFunc(contact),
	})
	d.Position = walk.Position
	d.AccumulatedDelay = walk.AccumulatedDelay

	switch walk.Outcome {
	case OutcomeStageFailed:
		return e.stageFailed(ctx, log, contact, d, walk.Step, walk.Err, now)
	case OutcomeStageBlocked:
		d.Reason = ReasonPauseBeforeStageChange
		d.TimeUntilSendMinutes = walk.ETAMinutes
		d.State = models.SequenceStateWaitingTimed
		e.persist(ctx, log, contact, d, now)
		return d
	case OutcomeCycle:
		log.Error("Branch cycle in sequence steps")
		d.Reason = ReasonBranchCycle
		d.Code = ErrorCode(walk.Err)
		return d
	case OutcomeCompleted:
		d.Reason = ReasonSequenceCompleted
		d.State = models.SequenceStateCompleted
		e.persist(ctx, log, contact, d, now)
		return d
	}

	gate := e.gate.Decide(ctx, GateInput{
		Contact:          contact,
		Step:             walk.Step,
		AccumulatedDelay: walk.AccumulatedDelay,
		Interrupt:        walk.Interrupt,
		Reference:        walk.Since,
		Now:              now,
	})

	d.NextMessage = walk.Step
	d.Reason = gate.Reason
	d.TimeUntilSendMinutes = gate.ETAMinutes

	switch {
	case gate.Reason == ReasonLookupFailed:
		return d
	case gate.Fire:
		d.ShouldSend = true
		d.State = models.SequenceStateRunning
	case gate.ETAMinutes != nil:
		d.State = models.SequenceStateWaitingTimed
	default:
		d.State = models.SequenceStateWaitingEvent
	}
	e.persist(ctx, log, contact, d, now)
	return d
}

// applyPendingStageChanges runs the unconditional stage changes that directly
// follow the contact's position. It returns the failing step on error.
func (e *Engine) applyPendingStageChanges(ctx context.Context, contact *models.Contact, steps []models.SequenceStep) (*models.SequenceStep, error) {
	for i := indexAtOrAfter(steps, contact.SequencePosition+1); i < len(steps); i++ {
		step := &steps[i]
		if step.StepType != models.StepTypeStageChange || step.HasCondition() {
			return nil, nil
		}
		if err := e.stages.ApplyStageChange(ctx, contact, step.OrderPosition, step.TargetStageName); err != nil {
			return step, err
		}
	}
	return nil, nil
}

// positionReference is when the contact reached its current position: the
// latest send for that position, else the recorded position time, else the
// sequence start.
func (e *Engine) positionReference(ctx context.Context, contact *models.Contact, now time.Time) (time.Time, error) {
	if contact.SequencePosition > 0 {
		msg, err := e.history.LatestOutbound(ctx, contact.ID, contact.SequencePosition)
		if err != nil {
			return time.Time{}, err
		}
		if msg != nil {
			return msg.Timestamp, nil
		}
	}
	switch {
	case contact.SequencePositionAt != nil:
		return *contact.SequencePositionAt, nil
	case contact.SequenceStartedAt != nil:
		return *contact.SequenceStartedAt, nil
	default:
		return now, nil
	}
}

func (e *Engine) stageFailed(ctx context.Context, log logrus.FieldLogger, contact *models.Contact, d Decision, step *models.SequenceStep, err error, now time.Time) Decision {
	entry := log.WithError(err)
	if step != nil {
		entry = entry.WithFields(logrus.Fields{"step_position": step.OrderPosition, "stage": step.TargetStageName})
	}
	entry.Warn("Stage change failed, position kept for retry")

	d.Reason = ReasonStageChangeFailed
	d.Code = ErrorCode(err)
	d.Position = contact.SequencePosition
	d.State = models.SequenceStateRunning
	e.persist(ctx, log, contact, d, now)
	return d
}

func (e *Engine) persist(ctx context.Context, log logrus.FieldLogger, contact *models.Contact, d Decision, now time.Time) {
	state := EvaluationState{State: d.State, AccumulatedDelay: d.AccumulatedDelay, EvaluatedAt: now}
	if err := e.contacts.SaveEvaluation(ctx, contact.ID, state); err != nil {
		log.WithError(err).Warn("Failed to save evaluation state")
		return
	}
	contact.SequenceState = d.State
	contact.SequenceAccumulatedDelay = d.AccumulatedDelay
	contact.SequenceLastEvaluatedAt = &now
}
