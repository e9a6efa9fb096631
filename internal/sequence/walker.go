package sequence

import (
	"context"
	"math"
	"sort"
	"time"

	"whatsapp-crm/internal/models"
)

// WalkOutcome classifies how a walk ended.
type WalkOutcome int

const (
	// OutcomeMessage means an actionable message step was found.
	OutcomeMessage WalkOutcome = iota
	// OutcomeCompleted means the steps ran out.
	OutcomeCompleted
	// OutcomeStageBlocked means a stage change sits behind an unelapsed timed pause.
	OutcomeStageBlocked
	// OutcomeStageFailed means the stage-change side effect returned an error.
	OutcomeStageFailed
	// OutcomeCycle means branch targets revisited a step.
	OutcomeCycle
)

// StageFunc applies a stage-change step and persists the contact's new
// position. It must leave the position untouched on failure.
type StageFunc func(ctx context.Context, step *models.SequenceStep) error

// Interrupt is the early-exit rule the timing gate applies to a fixed delay.
type Interrupt struct {
	Config     *models.InterruptConfig
	DelayAfter *float64
}

// WalkInput is the state a walk starts from.
type WalkInput struct {
	Contact      *models.Contact
	Steps        []models.SequenceStep
	FromPosition int
	// Reference is when the contact reached FromPosition.
	Reference  time.Time
	Now        time.Time
	ApplyStage StageFunc
}

// WalkResult is what the walker found after FromPosition.
type WalkResult struct {
	Outcome          WalkOutcome
	Step             *models.SequenceStep
	AccumulatedDelay float64
	// Position is the last structural step applied, or FromPosition.
	Position int
	// Interrupt comes from the last accumulated fixed pause carrying one.
	Interrupt *Interrupt
	// ETAMinutes is set when a stage change is blocked.
	ETAMinutes *int
	// Since is when the contact reached Position: in.Reference, or in.Now
	// once a stage change has been applied during the walk.
	Since time.Time
	Err   error
}

// Walker finds the next actionable message of a sequence.
type Walker struct {
	conditions *ConditionEvaluator
}

func NewWalker(conditions *ConditionEvaluator) *Walker {
	return &Walker{conditions: conditions}
}

// SortSteps returns a copy of steps ordered by order_position. Equal
// positions keep their original order.
func SortSteps(steps []models.SequenceStep) []models.SequenceStep {
	sorted := make([]models.SequenceStep, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OrderPosition < sorted[j].OrderPosition
	})
	return sorted
}

// FindNextActionableStep scans forward from in.FromPosition. Fixed-delay
// pauses add to the accumulator, stage changes run through in.ApplyStage,
// and conditions redirect the scan.
func (w *Walker) FindNextActionableStep(ctx context.Context, in WalkInput) WalkResult {
	steps := SortSteps(in.Steps)
	idx := indexAtOrAfter(steps, in.FromPosition+1)

	res := WalkResult{Position: in.FromPosition, Since: in.Reference}
	visited := make(map[int]bool, len(steps))

	for idx < len(steps) {
		if visited[idx] {
			res.Outcome = OutcomeCycle
			res.Err = ErrBranchCycle
			return res
		}
		visited[idx] = true
		step := &steps[idx]

		switch step.StepType {
		case models.StepTypePause:
			if step.EffectivePauseType() == models.PauseFixedDelay {
				res.AccumulatedDelay += step.DelayHoursFromPrevious
				if step.InterruptKeywords != nil {
					res.Interrupt = &Interrupt{Config: step.InterruptKeywords, DelayAfter: step.DelayAfterInterrupt}
				}
			}

		case models.StepTypeStageChange:
			if res.AccumulatedDelay > 0 {
				elapsed := in.Now.Sub(res.Since).Hours()
				if elapsed < res.AccumulatedDelay {
					eta := ceilMinutes(res.AccumulatedDelay - elapsed)
					res.Outcome = OutcomeStageBlocked
					res.Step = step
					res.ETAMinutes = &eta
					return res
				}
			}
			if err := in.ApplyStage(ctx, step); err != nil {
				res.Outcome = OutcomeStageFailed
				res.Step = step
				res.Err = err
				return res
			}
			res.Position = step.OrderPosition
			res.AccumulatedDelay = 0
			res.Interrupt = nil
			res.Since = in.Now

		case models.StepTypeCondition:
			res.AccumulatedDelay = 0
			res.Interrupt = nil
			if next, ok := w.branch(ctx, in.Contact, res.Since, steps, step); ok {
				idx = next
				continue
			}
			idx++
			continue

		case models.StepTypeMessage:
			if !step.HasCondition() {
				res.Outcome = OutcomeMessage
				res.Step = step
				return res
			}
			holds := w.conditions.Evaluate(ctx, in.Contact, step.ConditionType, step.ConditionKeywords, &res.Since)
			target := step.NextStepIfFalse
			if holds {
				target = step.NextStepIfTrue
			}
			if target != nil {
				idx = indexAtOrAfter(steps, *target)
				continue
			}
			if holds {
				res.Outcome = OutcomeMessage
				res.Step = step
				return res
			}
			idx++
			continue
		}

		// pause and stage-change steps may carry a branch too
		if step.HasCondition() {
			if next, ok := w.branch(ctx, in.Contact, res.Since, steps, step); ok {
				idx = next
				continue
			}
		}
		idx++
	}

	res.Outcome = OutcomeCompleted
	res.Step = nil
	return res
}

// branch evaluates the step's condition and returns the index to resume at
// when the outcome has a target.
func (w *Walker) branch(ctx context.Context, contact *models.Contact, ref time.Time, steps []models.SequenceStep, step *models.SequenceStep) (int, bool) {
	holds := w.conditions.Evaluate(ctx, contact, step.ConditionType, step.ConditionKeywords, &ref)
	target := step.NextStepIfFalse
	if holds {
		target = step.NextStepIfTrue
	}
	if target == nil {
		return 0, false
	}
	return indexAtOrAfter(steps, *target), true
}

// indexAtOrAfter returns the first index whose order_position is >= pos.
func indexAtOrAfter(steps []models.SequenceStep, pos int) int {
	return sort.Search(len(steps), func(i int) bool {
		return steps[i].OrderPosition >= pos
	})
}

func ceilMinutes(hours float64) int {
	return int(math.Ceil(hours * 60))
}
