package store

import (
	"fmt"
	"reflect"
	"strings"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names so errors match what API clients sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateInput runs the struct-tag checks of a step input.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var errs sequence.ValidationErrors
	for _, fe := range fieldErrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			errs = append(errs, invalid(field, "is required"))
		case "gte":
			errs = append(errs, invalid(field, "must be at least "+fe.Param()))
		case "gt":
			errs = append(errs, invalid(field, "must be greater than "+fe.Param()))
		case "oneof":
			errs = append(errs, invalid(field, "must be one of: "+fe.Param()))
		default:
			errs = append(errs, invalid(field, "is invalid"))
		}
	}
	return errs
}

func invalid(field, msg string) *sequence.ValidationError {
	return &sequence.ValidationError{Field: field, Message: msg}
}

// normalizeStep forces every field that does not belong to the step's type
// back to its zero value.
func normalizeStep(s *models.SequenceStep) {
	if s.ConditionType == "" {
		s.ConditionType = models.ConditionNone
	}
	if s.ConditionType == models.ConditionNone {
		s.NextStepIfTrue = nil
		s.NextStepIfFalse = nil
	}
	if s.ConditionType != models.ConditionIfMessageContains {
		s.ConditionKeywords = nil
	}

	switch s.StepType {
	case models.StepTypeMessage:
		s.TargetStageName = ""
		if s.MessageType == models.MessageTypeText || s.MessageType == "" {
			s.MediaURL = ""
			s.Filename = ""
		}
		if s.MessageType != models.MessageTypeDocument {
			s.Filename = ""
		}
		clearUnusedPauseFields(s)

	case models.StepTypePause:
		clearMessageFields(s)
		s.TargetStageName = ""
		if s.PauseType == "" {
			s.PauseType = models.PauseFixedDelay
		}
		clearUnusedPauseFields(s)

	case models.StepTypeStageChange:
		clearMessageFields(s)
		clearPauseFields(s)
		s.TargetStageName = strings.TrimSpace(s.TargetStageName)

	case models.StepTypeCondition:
		clearMessageFields(s)
		clearPauseFields(s)
		s.TargetStageName = ""
	}
}

// clearTypeFields resets every field owned by step type t. Message steps
// own their pause settings too.
func clearTypeFields(s *models.SequenceStep, t models.StepType) {
	switch t {
	case models.StepTypeMessage:
		clearMessageFields(s)
		clearPauseFields(s)
	case models.StepTypePause:
		clearPauseFields(s)
	case models.StepTypeStageChange:
		s.TargetStageName = ""
	case models.StepTypeCondition:
		s.ConditionType = models.ConditionNone
		s.ConditionKeywords = nil
		s.NextStepIfTrue = nil
		s.NextStepIfFalse = nil
	}
}

func clearMessageFields(s *models.SequenceStep) {
	s.MessageType = ""
	s.Content = ""
	s.MediaURL = ""
	s.Filename = ""
	s.TemplateID = nil
}

func clearPauseFields(s *models.SequenceStep) {
	s.PauseType = ""
	s.DaysWithoutResponse = 0
	s.InterruptKeywords = nil
	s.DelayAfterInterrupt = nil
}

func clearUnusedPauseFields(s *models.SequenceStep) {
	if s.EffectivePauseType() != models.PauseFixedDelay {
		s.InterruptKeywords = nil
		s.DelayAfterInterrupt = nil
	}
	if s.EffectivePauseType() != models.PauseUntilDaysWithoutResponse {
		s.DaysWithoutResponse = 0
	}
}

// checkStep enforces the type-specific invariants of a normalized step.
// siblings are the other steps of the same sequence.
func checkStep(s *models.SequenceStep, siblings []models.SequenceStep) error {
	var errs sequence.ValidationErrors

	if !s.StepType.Valid() {
		errs = append(errs, invalid("step_type", fmt.Sprintf("unknown step type %q", s.StepType)))
		return errs
	}
	if s.OrderPosition <= 0 {
		errs = append(errs, invalid("order_position", "must be greater than 0"))
	}
	if s.DelayHoursFromPrevious < 0 {
		errs = append(errs, invalid("delay_hours_from_previous", "must not be negative"))
	}
	for _, other := range siblings {
		if other.ID != s.ID && other.OrderPosition == s.OrderPosition {
			errs = append(errs, invalid("order_position", fmt.Sprintf("position %d is already used", s.OrderPosition)))
			break
		}
	}

	switch s.StepType {
	case models.StepTypeMessage:
		errs = append(errs, checkMessage(s)...)
		errs = append(errs, checkPause(s)...)
	case models.StepTypePause:
		errs = append(errs, checkPause(s)...)
	case models.StepTypeStageChange:
		if s.TargetStageName == "" {
			errs = append(errs, invalid("target_stage_name", "is required for stage_change steps"))
		}
	case models.StepTypeCondition:
		if s.ConditionType == models.ConditionNone {
			errs = append(errs, invalid("condition_type", "is required for condition steps"))
		}
		if s.NextStepIfTrue == nil && s.NextStepIfFalse == nil {
			errs = append(errs, invalid("next_step_if_true", "condition steps need at least one branch target"))
		}
	}

	errs = append(errs, checkCondition(s)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkMessage(s *models.SequenceStep) sequence.ValidationErrors {
	var errs sequence.ValidationErrors
	if s.TemplateID != nil && strings.TrimSpace(*s.TemplateID) != "" {
		return nil
	}
	switch {
	case s.MessageType == "":
		errs = append(errs, invalid("message_type", "is required unless template_id is set"))
	case s.MessageType == models.MessageTypeText:
		if strings.TrimSpace(s.Content) == "" {
			errs = append(errs, invalid("content", "is required for text messages"))
		}
	case s.MessageType.IsMedia():
		if strings.TrimSpace(s.MediaURL) == "" {
			errs = append(errs, invalid("media_url", "is required for "+string(s.MessageType)+" messages"))
		}
	default:
		errs = append(errs, invalid("message_type", fmt.Sprintf("unknown message type %q", s.MessageType)))
	}
	return errs
}

func checkPause(s *models.SequenceStep) sequence.ValidationErrors {
	var errs sequence.ValidationErrors
	switch s.EffectivePauseType() {
	case models.PauseFixedDelay, models.PauseUntilMessage:
	case models.PauseUntilDaysWithoutResponse:
		if s.DaysWithoutResponse < 1 {
			errs = append(errs, invalid("days_without_response", "must be at least 1"))
		}
	default:
		errs = append(errs, invalid("pause_type", fmt.Sprintf("unknown pause type %q", s.PauseType)))
	}

	if ic := s.InterruptKeywords; ic != nil {
		switch ic.Mode {
		case models.InterruptAnyMessage:
		case models.InterruptKeywords:
			if len(nonBlank(ic.Keywords)) == 0 {
				errs = append(errs, invalid("interrupt_keywords", "keywords mode needs at least one keyword"))
			}
		default:
			errs = append(errs, invalid("interrupt_keywords", fmt.Sprintf("unknown interrupt mode %q", ic.Mode)))
		}
		if !validMatchType(ic.MatchType) {
			errs = append(errs, invalid("interrupt_keywords", "match_type must be any or all"))
		}
	}
	if s.DelayAfterInterrupt != nil && *s.DelayAfterInterrupt < 0 {
		errs = append(errs, invalid("delay_after_interrupt", "must not be negative"))
	}
	return errs
}

func checkCondition(s *models.SequenceStep) sequence.ValidationErrors {
	var errs sequence.ValidationErrors
	switch s.ConditionType {
	case models.ConditionNone, models.ConditionIfResponded, models.ConditionIfNotResponded:
	case models.ConditionIfMessageContains:
		if s.ConditionKeywords == nil || len(nonBlank(s.ConditionKeywords.Keywords)) == 0 {
			errs = append(errs, invalid("condition_keywords", "if_message_contains needs at least one keyword"))
		} else if !validMatchType(s.ConditionKeywords.MatchType) {
			errs = append(errs, invalid("condition_keywords", "match_type must be any or all"))
		}
	default:
		errs = append(errs, invalid("condition_type", fmt.Sprintf("unknown condition type %q", s.ConditionType)))
	}

	// branch targets only point forward, which rules out cycles
	if t := s.NextStepIfTrue; t != nil && *t <= s.OrderPosition {
		errs = append(errs, invalid("next_step_if_true", "must point to a later order_position"))
	}
	if t := s.NextStepIfFalse; t != nil && *t <= s.OrderPosition {
		errs = append(errs, invalid("next_step_if_false", "must point to a later order_position"))
	}
	return errs
}

func validMatchType(m models.MatchType) bool {
	return m == "" || m == models.MatchAny || m == models.MatchAll
}

func nonBlank(keywords []string) []string {
	var out []string
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			out = append(out, k)
		}
	}
	return out
}
