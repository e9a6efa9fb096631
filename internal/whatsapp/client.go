package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/models"

	"github.com/sirupsen/logrus"
)

const graphHost = "https://graph.facebook.com"

// ErrTemplateRequired is returned when a step references a template that is
// not in the local catalogue.
var ErrTemplateRequired = errors.New("template not found")

type Client struct {
	Config  *config.Config
	BaseURL string
	HTTP    *http.Client
	log     logrus.FieldLogger
}

func NewClient(cfg *config.Config, log logrus.FieldLogger) *Client {
	return &Client{
		Config:  cfg,
		BaseURL: graphHost + "/" + cfg.GraphAPIVersion,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextObj     `json:"text,omitempty"`
	Image            *MediaObj    `json:"image,omitempty"`
	Video            *MediaObj    `json:"video,omitempty"`
	Audio            *MediaObj    `json:"audio,omitempty"`
	Document         *MediaObj    `json:"document,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"` // documents only
}

type TemplateObj struct {
	Name     string      `json:"name"`
	Language LanguageObj `json:"language"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type templateList struct {
	Data []struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Language   string          `json:"language"`
		Category   string          `json:"category"`
		Status     string          `json:"status"`
		Components json.RawMessage `json:"components"`
	} `json:"data"`
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Config.WhatsAppToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return respBody, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}
	return respBody, nil
}

// --- Messaging Methods ---

// SendRawMessage posts msg and returns the WhatsApp message id.
func (c *Client) SendRawMessage(ctx context.Context, msg GenericMessage) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", c.BaseURL, c.Config.PhoneNumberID)
	resp, err := c.sendRequest(ctx, http.MethodPost, url, msg)
	if err != nil {
		return "", err
	}

	var parsed sendResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return "", errors.New("send response carried no message id")
	}
	c.log.WithFields(logrus.Fields{"to": msg.To, "type": msg.Type, "wa_message_id": parsed.Messages[0].ID}).Debug("Message sent")
	return parsed.Messages[0].ID, nil
}

func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.SendRawMessage(ctx, GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &TextObj{Body: body},
	})
}

// SendStep sends a message step to a contact. tmpl must be set when the step
// references a template.
func (c *Client) SendStep(ctx context.Context, to string, step *models.SequenceStep, tmpl *models.Template) (string, error) {
	msg, err := BuildStepMessage(to, step, tmpl)
	if err != nil {
		return "", err
	}
	return c.SendRawMessage(ctx, msg)
}

// BuildStepMessage maps a message step onto a Graph API payload. A template
// reference wins over inline content.
func BuildStepMessage(to string, step *models.SequenceStep, tmpl *models.Template) (GenericMessage, error) {
	msg := GenericMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: to}

	if step.TemplateID != nil {
		if tmpl == nil {
			return msg, fmt.Errorf("%w: %s", ErrTemplateRequired, *step.TemplateID)
		}
		msg.Type = "template"
		msg.Template = &TemplateObj{Name: tmpl.Name, Language: LanguageObj{Code: tmpl.Language}}
		return msg, nil
	}

	media := &MediaObj{Link: step.MediaURL, Caption: step.Content}
	msg.Type = string(step.MessageType)
	switch step.MessageType {
	case models.MessageTypeText, "":
		msg.Type = "text"
		msg.Text = &TextObj{Body: step.Content}
	case models.MessageTypeImage:
		msg.Image = media
	case models.MessageTypeVideo:
		msg.Video = media
	case models.MessageTypeAudio:
		// audio messages take no caption
		msg.Audio = &MediaObj{Link: step.MediaURL}
	case models.MessageTypeDocument:
		media.Filename = step.Filename
		msg.Document = media
	default:
		return msg, fmt.Errorf("unsupported message type %q", step.MessageType)
	}
	return msg, nil
}

// --- Template Management Methods ---

// GetTemplates lists the templates of the business account.
func (c *Client) GetTemplates(ctx context.Context) ([]models.Template, error) {
	if c.Config.WhatsAppBusinessAccountID == "" {
		return nil, errors.New("WABA_ID not configured")
	}
	url := fmt.Sprintf("%s/%s/message_templates", c.BaseURL, c.Config.WhatsAppBusinessAccountID)
	resp, err := c.sendRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var list templateList
	if err := json.Unmarshal(resp, &list); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}

	templates := make([]models.Template, 0, len(list.Data))
	for _, t := range list.Data {
		components := "[]"
		if len(t.Components) > 0 {
			components = string(t.Components)
		}
		templates = append(templates, models.Template{
			ID:         t.ID,
			Name:       t.Name,
			Language:   t.Language,
			Category:   t.Category,
			Status:     t.Status,
			Components: components,
		})
	}
	return templates, nil
}
