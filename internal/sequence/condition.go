package sequence

import (
	"context"
	"time"

	"whatsapp-crm/internal/models"

	"github.com/sirupsen/logrus"
)

// defaultLookback bounds keyword searches when no reference time is known.
const defaultLookback = 30 * 24 * time.Hour

// ConditionEvaluator decides branch predicates for one contact. Lookup
// failures always evaluate to false.
type ConditionEvaluator struct {
	history MessageHistory
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewConditionEvaluator(history MessageHistory, log logrus.FieldLogger, now func() time.Time) *ConditionEvaluator {
	if now == nil {
		now = time.Now
	}
	return &ConditionEvaluator{history: history, log: log, now: now}
}

// Evaluate returns the truth of conditionType for contact. ref limits the
// inbound messages considered by if_message_contains.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, contact *models.Contact, conditionType models.ConditionType, cfg *models.KeywordConfig, ref *time.Time) bool {
	switch conditionType {
	case "", models.ConditionNone:
		return true
	case models.ConditionIfResponded:
		return contact.ClientRespondedSince(contact.SequenceStartedAt)
	case models.ConditionIfNotResponded:
		return !contact.ClientRespondedSince(contact.SequenceStartedAt)
	case models.ConditionIfMessageContains:
		return e.messageContains(ctx, contact, cfg, ref)
	default:
		e.log.WithFields(logrus.Fields{
			"contact_id":     contact.ID,
			"condition_type": conditionType,
		}).Warn("Unknown condition type")
		return false
	}
}

func (e *ConditionEvaluator) messageContains(ctx context.Context, contact *models.Contact, cfg *models.KeywordConfig, ref *time.Time) bool {
	after := e.resolveReference(contact, ref)

	msg, err := e.history.LatestInbound(ctx, contact.ID, after, true)
	if err != nil {
		e.log.WithError(err).WithField("contact_id", contact.ID).Warn("Keyword condition lookup failed")
		return false
	}
	if msg == nil {
		return false
	}
	return CheckKeywordMatch(msg.TextContent, cfg)
}

func (e *ConditionEvaluator) resolveReference(contact *models.Contact, ref *time.Time) time.Time {
	switch {
	case ref != nil:
		return *ref
	case contact.SequenceStartedAt != nil:
		return *contact.SequenceStartedAt
	default:
		return e.now().Add(-defaultLookback)
	}
}
