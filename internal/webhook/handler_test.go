package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/logging"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	messages []models.Message
}

func (n *recordingNotifier) NotifyMessage(msg models.Message) {
	n.messages = append(n.messages, msg)
}

func setup(t *testing.T) (*gin.Engine, *gorm.DB, *recordingNotifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	require.NoError(t, db.Create(&models.Account{Name: "Store", ProductID: 7, PhoneNumberID: "1000"}).Error)

	notifier := &recordingNotifier{}
	h := NewHandler(
		&config.Config{VerifyToken: "secret"},
		store.NewAccountStore(db),
		store.NewContactStore(db),
		store.NewMessageStore(db),
		notifier,
		logging.Discard(),
	)

	r := gin.New()
	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", h.HandleMessage)
	return r, db, notifier
}

func TestVerifyWebhook(t *testing.T) {
	r, _, _ := setup(t)
	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=secret&hub.challenge=42", http.StatusOK, "42"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", http.StatusForbidden, ""},
		{"missing params", "", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil))
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

const inboundPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "waba",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "5215500000000", "phone_number_id": "1000"},
        "contacts": [{"wa_id": "5215511111111", "profile": {"name": "Ana"}}],
        "messages": [
          {"from": "5215511111111", "id": "wamid.IN1", "timestamp": "1773144000", "type": "text", "text": {"body": "Quiero el PRECIO"}},
          {"from": "5215511111111", "id": "wamid.IN2", "timestamp": "1773144060", "type": "image", "image": {"id": "media-1", "caption": "foto"}}
        ]
      }
    }]
  }]
}`

func TestHandleMessageRecordsInbound(t *testing.T) {
	r, db, notifier := setup(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(inboundPayload)))
	require.Equal(t, http.StatusOK, w.Code)

	var contact models.Contact
	require.NoError(t, db.Where("wa_id = ?", "5215511111111").First(&contact).Error)
	assert.Equal(t, "Ana", contact.Name)
	assert.Equal(t, 2, contact.ClientResponsesCount)
	assert.Equal(t, models.InteractionClient, contact.LastInteractionSource)
	assert.True(t, time.Unix(1773144060, 0).Equal(*contact.LastInteractionAt))

	latest, err := store.NewMessageStore(db).LatestInbound(context.Background(), contact.ID, time.Time{}, true)
	require.NoError(t, err)
	assert.Equal(t, "Quiero el PRECIO", latest.TextContent)

	assert.Len(t, notifier.messages, 2)
	assert.Equal(t, "[image]:media-1:foto", notifier.messages[1].TextContent)
}

func TestHandleMessageUnknownPhoneNumber(t *testing.T) {
	r, db, _ := setup(t)
	payload := strings.Replace(inboundPayload, `"phone_number_id": "1000"`, `"phone_number_id": "9999"`, 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload)))
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	db.Model(&models.Contact{}).Count(&count)
	assert.Zero(t, count)
}

func TestHandleMessageStatuses(t *testing.T) {
	r, db, _ := setup(t)
	require.NoError(t, db.Create(&models.Message{ContactID: 1, WaMessageID: "wamid.OUT", IsFromMe: true, Timestamp: time.Now(), Status: "sent"}).Error)

	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"metadata":{"phone_number_id":"1000"},"statuses":[{"id":"wamid.OUT","status":"read","timestamp":"1773144000","recipient_id":"5215511111111"}]}}]}]}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var msg models.Message
	require.NoError(t, db.Where("wa_message_id = ?", "wamid.OUT").First(&msg).Error)
	assert.Equal(t, "read", msg.Status)
}

func TestHandleMessageRejectsBadJSON(t *testing.T) {
	r, _, _ := setup(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContentFlattening(t *testing.T) {
	assert.Equal(t, "[document]:d1:cv.pdf", content(InboundMessage{Type: "document", Document: &MediaMessage{ID: "d1", Filename: "cv.pdf"}}))
	assert.Equal(t, "[audio]:a1", content(InboundMessage{Type: "audio", Audio: &MediaMessage{ID: "a1"}}))
	assert.Equal(t, "[sticker]", content(InboundMessage{Type: "sticker"}))
}
