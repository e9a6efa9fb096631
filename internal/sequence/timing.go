package sequence

import (
	"context"
	"math"
	"time"

	"whatsapp-crm/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	onboardingGrace = time.Hour
	// neverRespondedDays stands in for a contact with no inbound message.
	neverRespondedDays = 999
)

// GateInput describes the candidate message the gate rules on.
type GateInput struct {
	Contact          *models.Contact
	Step             *models.SequenceStep
	AccumulatedDelay float64
	// Interrupt is used when the step carries no interrupt config itself.
	Interrupt *Interrupt
	// Reference is the last send for the contact's current position.
	Reference time.Time
	Now       time.Time
}

// GateDecision says whether the message fires now. ETAMinutes is nil while
// waiting on an event.
type GateDecision struct {
	Fire       bool
	ETAMinutes *int
	Reason     string
}

// TimingGate applies the pause semantics of an actionable message step.
type TimingGate struct {
	history MessageHistory
	log     logrus.FieldLogger
}

func NewTimingGate(history MessageHistory, log logrus.FieldLogger) *TimingGate {
	return &TimingGate{history: history, log: log}
}

// Decide resolves the step's pause type. Any lookup error means do not fire.
func (g *TimingGate) Decide(ctx context.Context, in GateInput) GateDecision {
	switch in.Step.EffectivePauseType() {
	case models.PauseUntilMessage:
		return g.untilMessage(ctx, in)
	case models.PauseUntilDaysWithoutResponse:
		return g.untilDaysWithoutResponse(ctx, in)
	default:
		return g.fixedDelay(ctx, in)
	}
}

func (g *TimingGate) fixedDelay(ctx context.Context, in GateInput) GateDecision {
	c := in.Contact
	if c.SequencePosition == 0 && c.SequenceStartedAt != nil {
		sinceStart := in.Now.Sub(*c.SequenceStartedAt)
		if sinceStart < onboardingGrace {
			return wait(ReasonInitialGrace, ceilMinutes((onboardingGrace - sinceStart).Hours()))
		}
	}

	required := in.Step.DelayHoursFromPrevious + in.AccumulatedDelay
	elapsed := in.Now.Sub(in.Reference).Hours()
	if elapsed >= required {
		return GateDecision{Fire: true, Reason: ReasonReady}
	}
	remaining := ceilMinutes(required - elapsed)

	if rule := interruptRule(in); rule != nil {
		msg, err := g.firstInterrupting(ctx, c.ID, in.Reference, rule.Config)
		if err != nil {
			g.lookupFailed(err, c.ID)
			return GateDecision{Reason: ReasonLookupFailed}
		}
		if msg != nil {
			if rule.DelayAfter == nil || *rule.DelayAfter <= 0 {
				return GateDecision{Fire: true, Reason: ReasonInterrupted}
			}
			due := msg.Timestamp.Add(hoursToDuration(*rule.DelayAfter))
			if !in.Now.Before(due) {
				return GateDecision{Fire: true, Reason: ReasonInterrupted}
			}
			// the regular delay still applies if it runs out first
			if afterInterrupt := ceilMinutes(due.Sub(in.Now).Hours()); afterInterrupt < remaining {
				return wait(ReasonWaitingAfterInterrupt, afterInterrupt)
			}
		}
	}

	return wait(ReasonWaitingDelay, remaining)
}

func (g *TimingGate) untilMessage(ctx context.Context, in GateInput) GateDecision {
	msg, err := g.history.LatestInbound(ctx, in.Contact.ID, in.Reference, false)
	if err != nil {
		g.lookupFailed(err, in.Contact.ID)
		return GateDecision{Reason: ReasonLookupFailed}
	}
	if msg == nil {
		return GateDecision{Reason: ReasonWaitingForMessage}
	}
	return GateDecision{Fire: true, Reason: ReasonReady}
}

func (g *TimingGate) untilDaysWithoutResponse(ctx context.Context, in GateInput) GateDecision {
	msg, err := g.history.LatestInbound(ctx, in.Contact.ID, time.Time{}, false)
	if err != nil {
		g.lookupFailed(err, in.Contact.ID)
		return GateDecision{Reason: ReasonLookupFailed}
	}

	days := neverRespondedDays
	if msg != nil {
		days = int(math.Floor(in.Now.Sub(msg.Timestamp).Hours() / 24))
	}
	if days >= in.Step.DaysWithoutResponse {
		return GateDecision{Fire: true, Reason: ReasonReady}
	}
	return GateDecision{Reason: ReasonWaitingDaysWithoutResponse}
}

// firstInterrupting returns the earliest inbound message after ref that
// satisfies the interrupt mode.
func (g *TimingGate) firstInterrupting(ctx context.Context, contactID uint, ref time.Time, cfg *models.InterruptConfig) (*models.Message, error) {
	msgs, err := g.history.InboundSince(ctx, contactID, ref)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if cfg.Mode != models.InterruptKeywords {
			return &msgs[i], nil
		}
		if MatchKeywords(msgs[i].TextContent, cfg.Keywords, cfg.MatchType, cfg.CaseSensitive) {
			return &msgs[i], nil
		}
	}
	return nil, nil
}

func (g *TimingGate) lookupFailed(err error, contactID uint) {
	g.log.WithError(err).WithField("contact_id", contactID).Warn("Timing lookup failed, not firing")
}

func interruptRule(in GateInput) *Interrupt {
	if in.Step.InterruptKeywords != nil {
		return &Interrupt{Config: in.Step.InterruptKeywords, DelayAfter: in.Step.DelayAfterInterrupt}
	}
	if in.Interrupt != nil && in.Interrupt.Config != nil {
		return in.Interrupt
	}
	return nil
}

func wait(reason string, minutes int) GateDecision {
	if minutes < 0 {
		minutes = 0
	}
	return GateDecision{Reason: reason, ETAMinutes: &minutes}
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
