// Package plan owns the plan lifecycle: the header schema persisted in the
// issue body, the phase state machine, progress tracking, and the linking
// of plans to branches, pull requests, and CI runs.
package plan

import "fmt"

// Phase is a plan's lifecycle phase.
type Phase string

const (
	PhaseCreated        Phase = "created"
	PhaseSubmitted      Phase = "submitted"
	PhaseDispatched     Phase = "dispatched"
	PhaseImplementing   Phase = "implementing"
	PhaseReadyForReview Phase = "ready_for_review"
	PhaseMerged         Phase = "merged"
	PhaseClosed         Phase = "closed"
)

// transitions is the legal phase graph. The lifecycle is linear;
// dispatched may re-enter itself (idempotent re-dispatch), and closed is
// reachable from any non-terminal phase (handled in CanTransition, not
// listed per-phase here).
var transitions = map[Phase][]Phase{
	PhaseCreated:        {PhaseSubmitted},
	PhaseSubmitted:      {PhaseDispatched},
	PhaseDispatched:     {PhaseDispatched, PhaseImplementing},
	PhaseImplementing:   {PhaseReadyForReview},
	PhaseReadyForReview: {PhaseMerged},
}

// IsValidPhase reports whether p is a known phase.
func IsValidPhase(p Phase) bool {
	switch p {
	case PhaseCreated, PhaseSubmitted, PhaseDispatched, PhaseImplementing,
		PhaseReadyForReview, PhaseMerged, PhaseClosed:
		return true
	}
	return false
}

// IsTerminal reports whether p permits no further header mutation beyond
// the closing annotation.
func (p Phase) IsTerminal() bool {
	return p == PhaseMerged || p == PhaseClosed
}

// CanTransition reports whether from → to is a legal phase transition.
func CanTransition(from, to Phase) bool {
	if from.IsTerminal() {
		return false
	}
	if to == PhaseClosed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns a validation error naming both phases when the
// transition is illegal.
func checkTransition(from, to Phase) error {
	if !IsValidPhase(to) {
		return fmt.Errorf("%w: unknown phase %q", ErrValidation, to)
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: plan is %s", ErrTerminal, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot advance from %s to %s", ErrValidation, from, to)
	}
	return nil
}
