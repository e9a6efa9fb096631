package webhook

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AccountResolver interface {
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Account, error)
}

type ContactRecorder interface {
	FindOrCreate(ctx context.Context, accountID uint, waID, name string) (*models.Contact, error)
	RecordInbound(ctx context.Context, msg *models.Message) error
}

type StatusUpdater interface {
	UpdateStatus(ctx context.Context, waMessageID, status string) error
}

type MessageNotifier interface {
	NotifyMessage(msg models.Message)
}

type Handler struct {
	Config   *config.Config
	accounts AccountResolver
	contacts ContactRecorder
	statuses StatusUpdater
	notifier MessageNotifier
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewHandler(cfg *config.Config, accounts AccountResolver, contacts ContactRecorder, statuses StatusUpdater, notifier MessageNotifier, log logrus.FieldLogger) *Handler {
	return &Handler{
		Config:   cfg,
		accounts: accounts,
		contacts: contacts,
		statuses: statuses,
		notifier: notifier,
		log:      log.WithField("component", "webhook"),
		now:      time.Now,
	}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || token != h.Config.VerifyToken {
		c.Status(http.StatusForbidden)
		return
	}
	h.log.Info("Webhook verified successfully")
	c.String(http.StatusOK, challenge)
}

// HandleMessage records inbound messages and delivery statuses. Meta retries
// anything but a 200, so processing errors are logged rather than returned.
func (h *Handler) HandleMessage(c *gin.Context) {
	var payload Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.WithError(err).Warn("Error binding webhook JSON")
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			h.processValue(ctx, change.Value)
		}
	}
	c.Status(http.StatusOK)
}

func (h *Handler) processValue(ctx context.Context, value Value) {
	for _, st := range value.Statuses {
		if err := h.statuses.UpdateStatus(ctx, st.ID, st.Status); err != nil {
			h.log.WithError(err).WithField("wa_message_id", st.ID).Warn("Failed to update message status")
		}
	}
	if len(value.Messages) == 0 {
		return
	}

	log := h.log.WithField("phone_number_id", value.Metadata.PhoneNumberID)
	account, err := h.accounts.GetByPhoneNumberID(ctx, value.Metadata.PhoneNumberID)
	if err != nil {
		if errors.Is(err, sequence.ErrAccountNotFound) {
			log.Warn("Webhook for unknown phone number, messages ignored")
		} else {
			log.WithError(err).Error("Failed to resolve account")
		}
		return
	}

	names := make(map[string]string, len(value.Contacts))
	for _, ct := range value.Contacts {
		names[ct.WaID] = ct.Profile.Name
	}

	for _, message := range value.Messages {
		name := names[message.From]
		if name == "" {
			name = message.From
		}
		contact, err := h.contacts.FindOrCreate(ctx, account.ID, message.From, name)
		if err != nil {
			log.WithError(err).WithField("from", message.From).Error("Error saving contact")
			continue
		}

		msg := &models.Message{
			ContactID:   contact.ID,
			WaMessageID: message.ID,
			Timestamp:   h.timestamp(message.Timestamp),
			MessageType: message.Type,
			TextContent: content(message),
			Status:      "received",
		}
		if err := h.contacts.RecordInbound(ctx, msg); err != nil {
			log.WithError(err).WithField("contact_id", contact.ID).Error("Error storing inbound message")
			continue
		}
		log.WithFields(logrus.Fields{"contact_id": contact.ID, "type": message.Type}).Debug("Inbound message recorded")
		if h.notifier != nil {
			h.notifier.NotifyMessage(*msg)
		}
	}
}

func (h *Handler) timestamp(unix string) time.Time {
	if sec, err := strconv.ParseInt(unix, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return h.now().UTC()
}

// content flattens a message into the text stored in history. Media keeps
// its id and caption so the conversation stays readable.
func content(message InboundMessage) string {
	media := func(kind string, m *MediaMessage, extra string) string {
		if m == nil {
			return "[" + kind + "]"
		}
		s := "[" + kind + "]:" + m.ID
		if extra != "" {
			s += ":" + extra
		}
		return s
	}

	switch message.Type {
	case "text":
		if message.Text != nil {
			return message.Text.Body
		}
		return ""
	case "button":
		if message.Button != nil {
			return message.Button.Text
		}
		return ""
	case "image":
		return media("image", message.Image, caption(message.Image))
	case "video":
		return media("video", message.Video, caption(message.Video))
	case "audio":
		return media("audio", message.Audio, "")
	case "document":
		filename := ""
		if message.Document != nil {
			filename = message.Document.Filename
		}
		return media("document", message.Document, filename)
	default:
		return "[" + message.Type + "]"
	}
}

func caption(m *MediaMessage) string {
	if m == nil {
		return ""
	}
	return m.Caption
}
