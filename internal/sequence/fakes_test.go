package sequence

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"whatsapp-crm/internal/logging"
	"whatsapp-crm/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func hoursBefore(h float64) time.Time {
	return testNow.Add(-time.Duration(h * float64(time.Hour)))
}

func timePtr(t time.Time) *time.Time { return &t }
func intPtr(i int) *int              { return &i }
func uintPtr(u uint) *uint           { return &u }
func floatPtr(f float64) *float64    { return &f }

// fakeContacts implements ContactStore in memory.
type fakeContacts struct {
	mu         sync.Mutex
	contacts   map[uint]*models.Contact
	getErr     error
	listErr    error
	advanceErr error
	saveErr    error
	saved      map[uint]EvaluationState
	advances   int
}

func newFakeContacts(contacts ...*models.Contact) *fakeContacts {
	f := &fakeContacts{
		contacts: make(map[uint]*models.Contact),
		saved:    make(map[uint]EvaluationState),
	}
	for _, c := range contacts {
		f.contacts[c.ID] = c
	}
	return f
}

func (f *fakeContacts) GetContact(ctx context.Context, id uint) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.contacts[id]
	if !ok {
		return nil, ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeContacts) ListSequenceContacts(ctx context.Context, accountID uint) ([]models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Contact
	for _, c := range f.contacts {
		if c.AccountID == accountID && c.SequenceActive && c.SequenceID != nil {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeContacts) AdvancePosition(ctx context.Context, contactID uint, from, to int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advanceErr != nil {
		return f.advanceErr
	}
	c, ok := f.contacts[contactID]
	if !ok {
		return ErrContactNotFound
	}
	if c.SequencePosition != from {
		return ErrStalePosition
	}
	c.SequencePosition = to
	c.SequencePositionAt = &at
	c.SequenceAccumulatedDelay = 0
	f.advances++
	return nil
}

func (f *fakeContacts) SaveEvaluation(ctx context.Context, contactID uint, state EvaluationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[contactID] = state
	return nil
}

func (f *fakeContacts) position(id uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts[id].SequencePosition
}

func (f *fakeContacts) savedState(id uint) (EvaluationState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.saved[id]
	return s, ok
}

// fakeSequences implements SequenceStore and counts loads.
type fakeSequences struct {
	mu    sync.Mutex
	seqs  map[uint]*models.Sequence
	err   error
	loads int
}

func newFakeSequences(seqs ...*models.Sequence) *fakeSequences {
	f := &fakeSequences{seqs: make(map[uint]*models.Sequence)}
	for _, s := range seqs {
		f.seqs[s.ID] = s
	}
	return f
}

func (f *fakeSequences) GetSequenceWithSteps(ctx context.Context, id uint) (*models.Sequence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.seqs[id]
	if !ok {
		return nil, ErrSequenceNotFound
	}
	return s, nil
}

func (f *fakeSequences) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// fakeHistory implements MessageHistory over a slice.
type fakeHistory struct {
	mu       sync.Mutex
	messages []models.Message
	err      error
}

func (f *fakeHistory) add(m models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
}

func (f *fakeHistory) LatestOutbound(ctx context.Context, contactID uint, position int) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var latest *models.Message
	for i := range f.messages {
		m := &f.messages[i]
		if m.ContactID != contactID || !m.IsFromMe || m.SequenceMessageID == nil || *m.SequenceMessageID != position {
			continue
		}
		if latest == nil || m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	return latest, nil
}

func (f *fakeHistory) LatestInbound(ctx context.Context, contactID uint, after time.Time, textOnly bool) (*models.Message, error) {
	msgs, err := f.InboundSince(ctx, contactID, after)
	if err != nil {
		return nil, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if !textOnly || msgs[i].MessageType == "text" {
			return &msgs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeHistory) InboundSince(ctx context.Context, contactID uint, after time.Time) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Message
	for _, m := range f.messages {
		if m.ContactID == contactID && !m.IsFromMe && m.Timestamp.After(after) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// fakeLeads implements LeadService keyed by contact id.
type fakeLeads struct {
	mu      sync.Mutex
	leads   map[uint]*models.Lead
	getErr  error
	moveErr error
	moves   []string
}

func newFakeLeads(leads ...*models.Lead) *fakeLeads {
	f := &fakeLeads{leads: make(map[uint]*models.Lead)}
	for _, l := range leads {
		f.leads[l.ContactID] = l
	}
	return f
}

func (f *fakeLeads) GetLeadByContact(ctx context.Context, contactID, productID uint) (*models.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	l, ok := f.leads[contactID]
	if !ok || l.ProductID != productID || !l.Active {
		return nil, nil
	}
	return l, nil
}

func (f *fakeLeads) MoveLeadToStage(ctx context.Context, leadID uint, stage string, actorID *uint, productID uint) (*models.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return nil, f.moveErr
	}
	for _, l := range f.leads {
		if l.ID == leadID {
			l.PipelineStage = stage
			f.moves = append(f.moves, stage)
			return l, nil
		}
	}
	return nil, ErrNoLeadFound
}

func (f *fakeLeads) moveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.moves)
}

// fakeAccounts implements AccountStore.
type fakeAccounts struct {
	accounts map[uint]*models.Account
}

func (f *fakeAccounts) GetAccountByID(ctx context.Context, id uint) (*models.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return a, nil
}

type fixture struct {
	contacts  *fakeContacts
	sequences *fakeSequences
	history   *fakeHistory
	leads     *fakeLeads
	accounts  *fakeAccounts
	guard     ContactGuard
}

func newFixture(contacts ...*models.Contact) *fixture {
	return &fixture{
		contacts:  newFakeContacts(contacts...),
		sequences: newFakeSequences(),
		history:   &fakeHistory{},
		leads:     newFakeLeads(),
		accounts:  &fakeAccounts{accounts: map[uint]*models.Account{1: {ID: 1, Name: "Store", ProductID: 7}}},
	}
}

func (fx *fixture) engine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(Options{
		Contacts:  fx.contacts,
		Sequences: fx.sequences,
		History:   fx.history,
		Leads:     fx.leads,
		Accounts:  fx.accounts,
		Logger:    logging.Discard(),
		Now:       func() time.Time { return testNow },
		Workers:   2,
		Guard:     fx.guard,
	})
}

func msgStep(pos int, delay float64) models.SequenceStep {
	return models.SequenceStep{
		ID:                     uint(pos),
		StepType:               models.StepTypeMessage,
		OrderPosition:          pos,
		DelayHoursFromPrevious: delay,
		MessageType:            models.MessageTypeText,
		Content:                "message",
		ConditionType:          models.ConditionNone,
	}
}

func pauseStep(pos int, hours float64) models.SequenceStep {
	return models.SequenceStep{
		ID:                     uint(pos),
		StepType:               models.StepTypePause,
		OrderPosition:          pos,
		DelayHoursFromPrevious: hours,
		PauseType:              models.PauseFixedDelay,
		ConditionType:          models.ConditionNone,
	}
}

func stageStep(pos int, target string) models.SequenceStep {
	return models.SequenceStep{
		ID:              uint(pos),
		StepType:        models.StepTypeStageChange,
		OrderPosition:   pos,
		TargetStageName: target,
		ConditionType:   models.ConditionNone,
	}
}

func conditionStep(pos int, ct models.ConditionType, ifTrue, ifFalse *int) models.SequenceStep {
	return models.SequenceStep{
		ID:              uint(pos),
		StepType:        models.StepTypeCondition,
		OrderPosition:   pos,
		ConditionType:   ct,
		NextStepIfTrue:  ifTrue,
		NextStepIfFalse: ifFalse,
	}
}

func runningContact(id uint, position int, startedHoursAgo float64) *models.Contact {
	return &models.Contact{
		ID:                id,
		AccountID:         1,
		WaID:              "5215500000000",
		SequenceID:        uintPtr(1),
		SequenceActive:    true,
		SequencePosition:  position,
		SequenceStartedAt: timePtr(hoursBefore(startedHoursAgo)),
		SequenceState:     models.SequenceStateRunning,
	}
}
