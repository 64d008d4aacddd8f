// Package dispatchtest provides a fake Runner for tests.
package dispatchtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetherhq/tether/internal/dispatch"
)

// Runner is an in-memory dispatch.Runner. Runs become visible to Poll only
// after the configured number of polls, simulating the gap between
// submission and the run surfacing in the runner's API.
type Runner struct {
	mu sync.Mutex

	// VisibleAfter is how many Poll calls return not-found before a
	// dispatched run surfaces. Zero means immediately visible.
	VisibleAfter int

	// DispatchErr, when set, is returned by Dispatch.
	DispatchErr error

	runs      map[string]*dispatch.Run // token -> run
	polls     map[string]int
	Dispatches int
}

// New returns an empty fake runner.
func New() *Runner {
	return &Runner{
		runs:  make(map[string]*dispatch.Run),
		polls: make(map[string]int),
	}
}

// Dispatch implements dispatch.Runner.
func (r *Runner) Dispatch(ctx context.Context, planID int, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DispatchErr != nil {
		return r.DispatchErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.Dispatches++
	r.runs[token] = &dispatch.Run{
		ID:          fmt.Sprintf("run-%d-%s", planID, token),
		DisplayName: fmt.Sprintf("implement plan %d [%s]", planID, dispatch.Marker(token)),
		Status:      dispatch.RunQueued,
	}
	return nil
}

// Poll implements dispatch.Runner.
func (r *Runner) Poll(ctx context.Context, token string) (*dispatch.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run, ok := r.runs[token]
	if !ok {
		return nil, dispatch.ErrRunNotFound
	}
	r.polls[token]++
	if r.polls[token] <= r.VisibleAfter {
		return nil, dispatch.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

// Complete marks a run finished with the given conclusion.
func (r *Runner) Complete(token, conclusion string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[token]; ok {
		run.Status = dispatch.RunCompleted
		run.Conclusion = conclusion
	}
}
