package models

import (
	"time"
)

// StepType discriminates the variants of a sequence step
type StepType string

const (
	StepTypeMessage     StepType = "message"
	StepTypePause       StepType = "pause"
	StepTypeStageChange StepType = "stage_change"
	StepTypeCondition   StepType = "condition"
)

func (t StepType) Valid() bool {
	switch t {
	case StepTypeMessage, StepTypePause, StepTypeStageChange, StepTypeCondition:
		return true
	}
	return false
}

// MessageType is the payload kind of a message step
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeDocument MessageType = "document"
)

func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeDocument:
		return true
	}
	return false
}

// PauseType selects how a wait is resolved
type PauseType string

const (
	PauseFixedDelay               PauseType = "fixed_delay"
	PauseUntilMessage             PauseType = "until_message"
	PauseUntilDaysWithoutResponse PauseType = "until_days_without_response"
)

// ConditionType selects the branch predicate of a step
type ConditionType string

const (
	ConditionNone              ConditionType = "none"
	ConditionIfResponded       ConditionType = "if_responded"
	ConditionIfNotResponded    ConditionType = "if_not_responded"
	ConditionIfMessageContains ConditionType = "if_message_contains"
)

// MatchType controls how many keywords must match
type MatchType string

const (
	MatchAny MatchType = "any"
	MatchAll MatchType = "all"
)

// InterruptMode selects which inbound messages cut a fixed delay short
type InterruptMode string

const (
	InterruptAnyMessage InterruptMode = "any_message"
	InterruptKeywords   InterruptMode = "keywords"
)

// KeywordConfig is the keyword set of an if_message_contains condition
type KeywordConfig struct {
	Keywords      []string  `json:"keywords"`
	MatchType     MatchType `json:"match_type"`
	CaseSensitive bool      `json:"case_sensitive"`
}

// InterruptConfig lets an inbound message end a fixed delay early
type InterruptConfig struct {
	Keywords      []string      `json:"keywords"`
	MatchType     MatchType     `json:"match_type"`
	Mode          InterruptMode `json:"mode"`
	CaseSensitive bool          `json:"case_sensitive"`
}

// Sequence represents a drip campaign attached to an account
type Sequence struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	AccountID   uint           `gorm:"index;not null" json:"account_id"`
	Name        string         `gorm:"type:varchar(255);not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Active      bool           `gorm:"default:true" json:"active"`
	Steps       []SequenceStep `gorm:"foreignKey:SequenceID;constraint:OnDelete:CASCADE;" json:"steps,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Sequence) TableName() string {
	return "sequences"
}

// SequenceStep is one unit of a sequence. Only the fields of its StepType
// are populated; pause fields are also honoured on message steps.
type SequenceStep struct {
	ID                     uint     `gorm:"primaryKey" json:"id"`
	SequenceID             uint     `gorm:"index;not null" json:"sequence_id"`
	StepType               StepType `gorm:"type:varchar(20);not null" json:"step_type"`
	OrderPosition          int      `gorm:"not null;index" json:"order_position"`
	MessageNumber          int      `json:"message_number"` // display counter, independent of order
	DelayHoursFromPrevious float64  `json:"delay_hours_from_previous"`

	// message
	MessageType MessageType `gorm:"type:varchar(20)" json:"message_type,omitempty"`
	Content     string      `gorm:"type:text" json:"content,omitempty"`
	MediaURL    string      `gorm:"type:text" json:"media_url,omitempty"`
	Filename    string      `gorm:"type:varchar(255)" json:"filename,omitempty"`
	TemplateID  *string     `gorm:"type:varchar(255)" json:"template_id,omitempty"`

	// pause
	PauseType           PauseType        `gorm:"type:varchar(40)" json:"pause_type,omitempty"`
	DaysWithoutResponse int              `json:"days_without_response,omitempty"`
	InterruptKeywords   *InterruptConfig `gorm:"type:text;serializer:json" json:"interrupt_keywords,omitempty"`
	DelayAfterInterrupt *float64         `json:"delay_after_interrupt,omitempty"`

	// stage_change
	TargetStageName string `gorm:"type:varchar(255)" json:"target_stage_name,omitempty"`

	// branching, valid on any step type
	ConditionType     ConditionType  `gorm:"type:varchar(40)" json:"condition_type"`
	ConditionKeywords *KeywordConfig `gorm:"type:text;serializer:json" json:"condition_keywords,omitempty"`
	NextStepIfTrue    *int           `json:"next_step_if_true,omitempty"`
	NextStepIfFalse   *int           `json:"next_step_if_false,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SequenceStep) TableName() string {
	return "sequence_steps"
}

// EffectivePauseType defaults an unset pause type to fixed_delay.
func (s *SequenceStep) EffectivePauseType() PauseType {
	if s.PauseType == "" {
		return PauseFixedDelay
	}
	return s.PauseType
}

// HasCondition reports whether the step carries a branch predicate.
func (s *SequenceStep) HasCondition() bool {
	return s.ConditionType != "" && s.ConditionType != ConditionNone
}
