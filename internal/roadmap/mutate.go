package roadmap

import "fmt"

// Evidence is a partial step mutation. Nil fields are "not supplied";
// a pointer to zero is "explicitly empty". The distinction is load-bearing:
// supplying a PR reference without also supplying the plan field (set or
// explicitly empty) is rejected, because downstream consumers navigate from
// the plan reference back to design rationale even after a PR exists.
type Evidence struct {
	Plan     *int
	PR       *int
	Override *Override
	Notes    *string
}

// Ref returns a pointer to n, for building Evidence values.
func Ref(n int) *int { return &n }

// Set returns a pointer to the override, for building Evidence values.
func Set(o Override) *Override { return &o }

// SetEvidence applies an evidence mutation to the named step. Validation
// failures leave the roadmap untouched.
func (r *Roadmap) SetEvidence(stepID string, ev Evidence) error {
	if ev.PR != nil && *ev.PR != 0 && ev.Plan == nil {
		return fmt.Errorf("%w: setting a PR reference on %s requires the plan reference to be supplied (set or explicitly empty)", ErrValidation, stepID)
	}
	if ev.Override != nil {
		switch *ev.Override {
		case OverrideNone, OverrideBlocked, OverrideSkipped:
		default:
			return fmt.Errorf("%w: %q is not an override status", ErrValidation, *ev.Override)
		}
	}
	step := r.Step(stepID)
	if step == nil {
		return fmt.Errorf("step %s: %w", stepID, ErrStepNotFound)
	}
	if ev.Plan != nil {
		step.Plan = *ev.Plan
	}
	if ev.PR != nil {
		step.PR = *ev.PR
	}
	if ev.Override != nil {
		step.Override = *ev.Override
	}
	if ev.Notes != nil {
		step.Notes = *ev.Notes
	}
	return nil
}
