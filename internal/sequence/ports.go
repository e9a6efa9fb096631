package sequence

import (
	"context"
	"time"

	"whatsapp-crm/internal/models"
)

// ContactStore is the contact persistence the engine reads and advances.
type ContactStore interface {
	GetContact(ctx context.Context, id uint) (*models.Contact, error)
	// ListSequenceContacts returns contacts of the account with an active
	// sequence assignment whose sequence is itself active.
	ListSequenceContacts(ctx context.Context, accountID uint) ([]models.Contact, error)
	// AdvancePosition moves the contact from one position to another. It
	// returns ErrStalePosition when the stored position is no longer from.
	AdvancePosition(ctx context.Context, contactID uint, from, to int, at time.Time) error
	SaveEvaluation(ctx context.Context, contactID uint, state EvaluationState) error
}

// SequenceStore loads a sequence together with its steps.
type SequenceStore interface {
	GetSequenceWithSteps(ctx context.Context, id uint) (*models.Sequence, error)
}

// MessageHistory answers the message lookups used for timing and conditions.
// Lookups that find nothing return nil without error.
type MessageHistory interface {
	LatestOutbound(ctx context.Context, contactID uint, position int) (*models.Message, error)
	LatestInbound(ctx context.Context, contactID uint, after time.Time, textOnly bool) (*models.Message, error)
	InboundSince(ctx context.Context, contactID uint, after time.Time) ([]models.Message, error)
}

// LeadService is the pipeline collaborator behind stage-change steps.
// A nil actorID marks an automated move.
type LeadService interface {
	GetLeadByContact(ctx context.Context, contactID, productID uint) (*models.Lead, error)
	MoveLeadToStage(ctx context.Context, leadID uint, stage string, actorID *uint, productID uint) (*models.Lead, error)
}

// AccountStore resolves the product an account sells.
type AccountStore interface {
	GetAccountByID(ctx context.Context, id uint) (*models.Account, error)
}

// ContactGuard serializes work on one contact across workers and processes.
// It returns ErrLeaseHeld when someone else holds the contact; otherwise the
// caller must run release when done.
type ContactGuard func(ctx context.Context, contactID uint) (release func(), err error)

// EvaluationState is persisted on the contact after every evaluation.
type EvaluationState struct {
	State            models.SequenceState
	AccumulatedDelay float64
	EvaluatedAt      time.Time
}
