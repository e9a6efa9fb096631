package models

import (
	"time"
)

// InteractionSource identifies who spoke last in a conversation.
type InteractionSource string

const (
	InteractionClient InteractionSource = "client"
	InteractionAgent  InteractionSource = "agent"
)

// SequenceState is the per-contact position in the drip state machine.
type SequenceState string

const (
	SequenceStateIdle         SequenceState = "idle"
	SequenceStateRunning      SequenceState = "running"
	SequenceStateWaitingTimed SequenceState = "waiting_timed"
	SequenceStateWaitingEvent SequenceState = "waiting_event"
	SequenceStatePaused       SequenceState = "paused"
	SequenceStateCompleted    SequenceState = "completed"
)

// Account is a business account owning contacts and sequences. Each account
// sells one product, which scopes the leads the engine moves between stages.
type Account struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(255);not null" json:"name"`
	ProductID     uint      `gorm:"index" json:"product_id"`
	PhoneNumberID string    `gorm:"type:varchar(100);index" json:"phone_number_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Contact represents a WhatsApp contact together with its sequence state
type Contact struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	AccountID uint   `gorm:"uniqueIndex:idx_contacts_account_wa;not null" json:"account_id"`
	WaID      string `gorm:"type:varchar(50);uniqueIndex:idx_contacts_account_wa;not null" json:"wa_id"` // WhatsApp ID (phone number), unique per account
	Name      string `gorm:"type:varchar(255)" json:"name"`
	Tags      string `gorm:"type:text" json:"tags"`

	SequenceID               *uint         `gorm:"index" json:"sequence_id"`
	SequenceActive           bool          `gorm:"default:false" json:"sequence_active"`
	SequencePosition         int           `gorm:"default:0" json:"sequence_position"` // last processed order_position, 0 = not started
	SequencePositionAt       *time.Time    `json:"sequence_position_at"`
	SequenceStartedAt        *time.Time    `json:"sequence_started_at"`
	SequenceAccumulatedDelay float64       `gorm:"default:0" json:"sequence_accumulated_delay"`
	SequenceLastEvaluatedAt  *time.Time    `json:"sequence_last_evaluated_at"`
	SequenceState            SequenceState `gorm:"type:varchar(20)" json:"sequence_state"`

	ClientResponsesCount  int               `gorm:"default:0" json:"client_responses_count"`
	LastInteractionSource InteractionSource `gorm:"type:varchar(10)" json:"last_interaction_source"`
	LastInteractionAt     *time.Time        `json:"last_interaction_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// ClientRespondedSince reports whether the client spoke last and did so
// strictly after t.
func (c *Contact) ClientRespondedSince(t *time.Time) bool {
	if c.LastInteractionSource != InteractionClient || c.LastInteractionAt == nil || t == nil {
		return false
	}
	return c.LastInteractionAt.After(*t)
}

// Message represents a WhatsApp message in a contact's history
type Message struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ContactID         uint      `gorm:"index;not null" json:"contact_id"`
	WaMessageID       string    `gorm:"type:varchar(255);index" json:"wa_message_id"`
	IsFromMe          bool      `gorm:"index" json:"is_from_me"`
	Timestamp         time.Time `gorm:"index;not null" json:"timestamp"`
	SequenceMessageID *int      `gorm:"index" json:"sequence_message_id"` // order_position of the step that produced it
	MessageType       string    `gorm:"type:varchar(50)" json:"message_type"`
	TextContent       string    `gorm:"type:text" json:"text_content"`
	Status            string    `gorm:"type:varchar(20)" json:"status"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Template represents a WhatsApp message template
type Template struct {
	ID         string `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"type:varchar(255)" json:"name"`
	Language   string `gorm:"type:varchar(50)" json:"language"`
	Category   string `gorm:"type:varchar(100)" json:"category"`
	Status     string `gorm:"type:varchar(50)" json:"status"`
	Components string `gorm:"type:text" json:"components"` // JSON components
}

func (Template) TableName() string {
	return "templates"
}

// Lead tracks a contact inside the sales pipeline of one product
type Lead struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ContactID     uint      `gorm:"index;not null" json:"contact_id"`
	ProductID     uint      `gorm:"index;not null" json:"product_id"`
	PipelineStage string    `gorm:"type:varchar(255)" json:"pipeline_stage"`
	Active        bool      `gorm:"default:true" json:"active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Lead) TableName() string {
	return "leads"
}

// LeadStageChange is the audit trail of pipeline moves. A nil ActorID marks
// an automated move.
type LeadStageChange struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LeadID    uint      `gorm:"index;not null" json:"lead_id"`
	FromStage string    `gorm:"type:varchar(255)" json:"from_stage"`
	ToStage   string    `gorm:"type:varchar(255)" json:"to_stage"`
	ActorID   *uint     `json:"actor_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (LeadStageChange) TableName() string {
	return "lead_stage_changes"
}

// SequenceLog represents a log entry for sequence execution
type SequenceLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ContactID    uint      `gorm:"index" json:"contact_id"`
	SequenceID   uint      `gorm:"index" json:"sequence_id"`
	StepPosition int       `json:"step_position"`
	Action       string    `gorm:"type:varchar(50)" json:"action"` // sent, stage_changed, send_failed
	Reason       string    `gorm:"type:varchar(100)" json:"reason"`
	Success      bool      `json:"success"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (SequenceLog) TableName() string {
	return "sequence_logs"
}

// All lists every model for auto-migration
func All() []interface{} {
	return []interface{}{
		&Account{},
		&Contact{},
		&Message{},
		&Template{},
		&Sequence{},
		&SequenceStep{},
		&Lead{},
		&LeadStageChange{},
		&SequenceLog{},
		&SystemSetting{},
	}
}

// SystemSetting stores runtime overrides for credentials entered through the UI
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
