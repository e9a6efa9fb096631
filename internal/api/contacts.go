package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"whatsapp-crm/internal/lock"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"
	"whatsapp-crm/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TextSender delivers a free-form agent reply.
type TextSender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// ContactHandler serves sequence assignment and evaluation for contacts.
type ContactHandler struct {
	contacts *store.ContactStore
	messages *store.MessageStore
	engine   *sequence.Engine
	locker   lock.Locker
	sender   TextSender
	leaseTTL time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewContactHandler(contacts *store.ContactStore, messages *store.MessageStore, engine *sequence.Engine, locker lock.Locker, sender TextSender, leaseTTL time.Duration, log logrus.FieldLogger) *ContactHandler {
	return &ContactHandler{
		contacts: contacts,
		messages: messages,
		engine:   engine,
		locker:   locker,
		sender:   sender,
		leaseTTL: leaseTTL,
		log:      log,
		now:      time.Now,
	}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	accountID, ok := paramID(c, "id")
	if !ok {
		return
	}
	contacts, err := h.contacts.ListContacts(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func (h *ContactHandler) GetMessages(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit := int(queryUint(c, "limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	msgs, err := h.messages.ListByContact(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// StartSequence assigns a sequence to the contact and restarts it from the
// first step.
func (h *ContactHandler) StartSequence(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		SequenceID uint `json:"sequence_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contact, err := h.contacts.StartSequence(c.Request.Context(), id, req.SequenceID, h.now().UTC())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) StopSequence(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.contacts.StopSequence(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sequence stopped"})
}

// Evaluate runs the engine for the contact now. Evaluation persists the
// contact's state and may apply stage changes, hence POST. It takes the same
// lease as the dispatcher, so a contact being processed answers 409.
func (h *ContactHandler) Evaluate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	lease, err := h.locker.Acquire(ctx, lock.ContactKey(id), h.leaseTTL)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer lease.Release(context.Background())

	decision := h.engine.EvaluateContact(ctx, id)
	if decision.Reason == sequence.ReasonContactNotFound {
		c.JSON(http.StatusNotFound, decision)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// GetDue lists the contacts of an account with a message due right now.
func (h *ContactHandler) GetDue(c *gin.Context) {
	accountID, ok := paramID(c, "id")
	if !ok {
		return
	}
	due, err := h.engine.EvaluateAccount(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if due == nil {
		due = []sequence.DueContact{}
	}
	c.JSON(http.StatusOK, due)
}

// SendReply sends a message typed by an agent. The reply hands the
// conversation back, so a sequence paused by the client resumes.
func (h *ContactHandler) SendReply(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	ctx := c.Request.Context()
	contact, err := h.contacts.GetContact(ctx, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	waMessageID, err := h.sender.SendText(ctx, contact.WaID, req.Text)
	if err != nil {
		h.log.WithError(err).WithField("contact_id", id).Warn("Failed to send agent reply")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send message: " + err.Error()})
		return
	}

	msg := &models.Message{
		ContactID:   contact.ID,
		WaMessageID: waMessageID,
		Timestamp:   h.now().UTC(),
		MessageType: string(models.MessageTypeText),
		TextContent: req.Text,
		Status:      "sent",
	}
	if err := h.contacts.RecordAgentReply(ctx, msg); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
