package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"whatsapp-crm/internal/lock"
	"whatsapp-crm/internal/logging"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type mockEngine struct {
	mu        sync.Mutex
	decisions map[uint]sequence.Decision
	calls     []uint
}

func (m *mockEngine) EvaluateContact(_ context.Context, id uint) sequence.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	if d, ok := m.decisions[id]; ok {
		return d
	}
	return sequence.Decision{ContactID: id, Reason: sequence.ReasonWaitingDelay}
}

type mockSender struct {
	mu    sync.Mutex
	err   error
	sent  []string
	tmpls []*models.Template
}

func (m *mockSender) SendStep(_ context.Context, to string, _ *models.SequenceStep, tmpl *models.Template) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, to)
	m.tmpls = append(m.tmpls, tmpl)
	return "wamid." + to, nil
}

type mockStore struct {
	mu        sync.Mutex
	accounts  []models.Account
	contacts  map[uint]*models.Contact
	recordErr error
	records   []*models.Message
	logs      []*models.SequenceLog
	templates map[string]*models.Template
}

func newMockStore() *mockStore {
	return &mockStore{
		accounts:  []models.Account{{ID: 1}},
		contacts:  make(map[uint]*models.Contact),
		templates: make(map[string]*models.Template),
	}
}

func (m *mockStore) addContact(id uint, position int) {
	seqID := uint(5)
	m.contacts[id] = &models.Contact{ID: id, AccountID: 1, WaID: fmt.Sprintf("5215500000%03d", id), SequenceID: &seqID, SequenceActive: true, SequencePosition: position}
}

func (m *mockStore) ListAccounts(context.Context) ([]models.Account, error) {
	return m.accounts, nil
}

func (m *mockStore) GetContact(_ context.Context, id uint) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, sequence.ErrContactNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *mockStore) ListSequenceContacts(_ context.Context, accountID uint) ([]models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Contact
	for _, c := range m.contacts {
		if c.AccountID == accountID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockStore) RecordSequenceSend(_ context.Context, contactID uint, from int, msg *models.Message, entry *models.SequenceLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	c := m.contacts[contactID]
	if c.SequencePosition != from {
		return sequence.ErrStalePosition
	}
	c.SequencePosition = *msg.SequenceMessageID
	m.records = append(m.records, msg)
	m.logs = append(m.logs, entry)
	return nil
}

func (m *mockStore) GetTemplate(_ context.Context, id string) (*models.Template, error) {
	return m.templates[id], nil
}

func (m *mockStore) Append(_ context.Context, entry *models.SequenceLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []string
}

func (m *mockNotifier) record(e string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *mockNotifier) NotifySequenceSent(*models.Contact, *models.Message) { m.record("sent") }
func (m *mockNotifier) NotifyStageChanged(*models.Contact, int, string)     { m.record("stage") }
func (m *mockNotifier) NotifySequenceFailed(*models.Contact, int, string)   { m.record("failed") }

type harness struct {
	engine   *mockEngine
	sender   *mockSender
	store    *mockStore
	notifier *mockNotifier
	locker   *lock.MemoryLocker
	d        *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		engine:   &mockEngine{decisions: make(map[uint]sequence.Decision)},
		sender:   &mockSender{},
		store:    newMockStore(),
		notifier: &mockNotifier{},
		locker:   lock.NewMemoryLocker(),
	}
	h.d = New(Options{
		Engine:    h.engine,
		Sender:    h.sender,
		Accounts:  h.store,
		Contacts:  h.store,
		Templates: h.store,
		Logs:      h.store,
		Locker:    h.locker,
		Notifier:  h.notifier,
		Logger:    logging.Discard(),
		Workers:   2,
		Now:       func() time.Time { return testNow },
	})
	return h
}

func due(id uint, position int) sequence.Decision {
	return sequence.Decision{
		ContactID:   id,
		ShouldSend:  true,
		Reason:      sequence.ReasonReady,
		NextMessage: &models.SequenceStep{OrderPosition: position, StepType: models.StepTypeMessage, MessageType: models.MessageTypeText, Content: "hola"},
	}
}

func TestProcessContactSendsAndRecords(t *testing.T) {
	h := newHarness(t)
	h.store.addContact(1, 0)
	h.engine.decisions[1] = due(1, 2)

	assert.Equal(t, OutcomeSent, h.d.ProcessContact(context.Background(), 1))

	require.Len(t, h.store.records, 1)
	msg := h.store.records[0]
	assert.Equal(t, 2, *msg.SequenceMessageID)
	assert.Equal(t, "text", msg.MessageType)
	assert.True(t, testNow.Equal(msg.Timestamp))
	assert.Equal(t, 2, h.store.contacts[1].SequencePosition)

	require.Len(t, h.store.logs, 1)
	assert.Equal(t, ActionSent, h.store.logs[0].Action)
	assert.Equal(t, uint(5), h.store.logs[0].SequenceID)
	assert.Equal(t, []string{"sent"}, h.notifier.events)

	// the lease is released afterwards
	lease, err := h.locker.Acquire(context.Background(), lock.ContactKey(1), time.Minute)
	require.NoError(t, err)
	lease.Release(context.Background())
}

func TestProcessContactNotDue(t *testing.T) {
	h := newHarness(t)
	h.store.addContact(1, 0)

	assert.Equal(t, OutcomeWaiting, h.d.ProcessContact(context.Background(), 1))
	assert.Empty(t, h.sender.sent)
	assert.Empty(t, h.store.records)
}

func TestProcessContactSendFailureKeepsPosition(t *testing.T) {
	h := newHarness(t)
	h.store.addContact(1, 0)
	h.engine.decisions[1] = due(1, 1)
	h.sender.err = errors.New("graph down")

	assert.Equal(t, OutcomeFailed, h.d.ProcessContact(context.Background(), 1))
	assert.Zero(t, h.store.contacts[1].SequencePosition)
	assert.Empty(t, h.store.records)

	require.Len(t, h.store.logs, 1)
	assert.Equal(t, ActionSendFailed, h.store.logs[0].Action)
	assert.False(t, h.store.logs[0].Success)
	assert.Equal(t, "graph down", h.store.logs[0].ErrorMessage)
	assert.Equal(t, []string{"failed"}, h.notifier.events)
}

func TestProcessContactSkipsHeldLease(t *testing.T) {
	h := newHarness(t)
	h.store.addContact(1, 0)
	h.engine.decisions[1] = due(1, 1)

	lease, err := h.locker.Acquire(context.Background(), lock.ContactKey(1), time.Minute)
	require.NoError(t, err)
	defer lease.Release(context.Background())

	assert.Equal(t, OutcomeBusy, h.d.ProcessContact(context.Background(), 1))
	assert.Empty(t, h.engine.calls, "a busy contact is not evaluated")
}

func TestProcessContactUsesTemplate(t *testing.T) {
	h := newHarness(t)
	h.store.addContact(1, 0)
	tmplID := "tpl-1"
	h.store.templates[tmplID] = &models.Template{ID: tmplID, Name: "welcome", Language: "es"}
	d := due(1, 1)
	d.NextMessage.TemplateID = &tmplID
	h.engine.decisions[1] = d

	assert.Equal(t, OutcomeSent, h.d.ProcessContact(context.Background(), 1))
	require.Len(t, h.sender.tmpls, 1)
	assert.Equal(t, "welcome", h.sender.tmpls[0].Name)
	assert.Equal(t, "template", h.store.records[0].MessageType)
}

func TestProcessContactStaleRecord(t *testing.T) {
	h := newHarness(t)
	h.store.addContact(1, 0)
	h.engine.decisions[1] = due(1, 1)
	h.store.recordErr = sequence.ErrStalePosition

	assert.Equal(t, OutcomeFailed, h.d.ProcessContact(context.Background(), 1))
	assert.Empty(t, h.notifier.events)
}

func TestTickProcessesEveryContact(t *testing.T) {
	h := newHarness(t)
	for id := uint(1); id <= 4; id++ {
		h.store.addContact(id, 0)
	}
	h.engine.decisions[2] = due(2, 1)
	h.engine.decisions[4] = due(4, 1)

	sum := h.d.Tick(context.Background())
	assert.Equal(t, Summary{Evaluated: 4, Sent: 2}, sum)
	assert.Len(t, h.engine.calls, 4)
	assert.Len(t, h.sender.sent, 2)
}

func TestStageChangedLogsAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.store.addContact(1, 0)

	h.d.StageChanged(h.store.contacts[1], 3, "Qualified")

	require.Len(t, h.store.logs, 1)
	assert.Equal(t, ActionStageChanged, h.store.logs[0].Action)
	assert.Equal(t, "Qualified", h.store.logs[0].Reason)
	assert.Equal(t, 3, h.store.logs[0].StepPosition)
	assert.Equal(t, []string{"stage"}, h.notifier.events)
}

func TestStartStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.d.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
