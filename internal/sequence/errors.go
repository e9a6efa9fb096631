package sequence

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStepNotFound     = errors.New("step not found")
	ErrSequenceNotFound = errors.New("sequence not found")
	ErrContactNotFound  = errors.New("contact not found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrNoLeadFound      = errors.New("no active lead found for contact")
	ErrSequenceInUse    = errors.New("sequence has active contacts")
	ErrLeaseHeld        = errors.New("lease already held")
	ErrStalePosition    = errors.New("contact position changed concurrently")
	ErrBranchCycle      = errors.New("branch cycle detected")
)

// Codes attached to decisions that need human attention.
const (
	CodeNoLeadFound     = "NO_LEAD_FOUND"
	CodeContactNotFound = "CONTACT_NOT_FOUND"
	CodeSequenceInvalid = "SEQUENCE_INVALID"
	CodeStageChange     = "STAGE_CHANGE_FAILED"
)

// ErrorCode maps a domain error to its decision code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoLeadFound):
		return CodeNoLeadFound
	case errors.Is(err, ErrContactNotFound):
		return CodeContactNotFound
	case errors.Is(err, ErrBranchCycle), errors.Is(err, ErrSequenceNotFound):
		return CodeSequenceInvalid
	default:
		return CodeStageChange
	}
}

// ValidationError names the step field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one write.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields lists the offending field names in order.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, v := range e {
		fields = append(fields, v.Field)
	}
	return fields
}

// IsValidation reports whether err carries step validation failures.
func IsValidation(err error) bool {
	var single *ValidationError
	var multi ValidationErrors
	return errors.As(err, &single) || errors.As(err, &multi)
}
