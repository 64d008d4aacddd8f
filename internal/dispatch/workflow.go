package dispatch

import (
	"context"
	"strconv"
	"strings"

	"github.com/tetherhq/tether/internal/store"
)

// WorkflowAPI is the slice of the store client the workflow runner consumes.
type WorkflowAPI interface {
	DispatchWorkflow(ctx context.Context, workflow, ref string, inputs map[string]string) error
	ListWorkflowRuns(ctx context.Context, workflow string) ([]store.WorkflowRun, error)
}

// WorkflowRunner runs plans through a workflow_dispatch workflow. The
// workflow is expected to echo the token input into its run name, which is
// the only correlation surface the runs API offers.
type WorkflowRunner struct {
	API      WorkflowAPI
	Workflow string // workflow file name, e.g. "tether-run.yml"
	Ref      string // branch to run on
}

var _ Runner = (*WorkflowRunner)(nil)

// Dispatch triggers one run carrying the plan id and token marker as inputs.
func (w *WorkflowRunner) Dispatch(ctx context.Context, planID int, token string) error {
	return w.API.DispatchWorkflow(ctx, w.Workflow, w.Ref, map[string]string{
		"plan":  strconv.Itoa(planID),
		"token": Marker(token),
	})
}

// Poll scans recent runs for one whose display title carries the token
// marker. Dispatch-to-visibility lag on the runs API makes ErrRunNotFound
// an expected transient here.
func (w *WorkflowRunner) Poll(ctx context.Context, token string) (*Run, error) {
	runs, err := w.API.ListWorkflowRuns(ctx, w.Workflow)
	if err != nil {
		return nil, err
	}
	marker := Marker(token)
	for _, r := range runs {
		if strings.Contains(r.DisplayTitle, marker) {
			return &Run{
				ID:          strconv.FormatInt(r.ID, 10),
				DisplayName: r.DisplayTitle,
				Status:      r.Status,
				Conclusion:  r.Conclusion,
			}, nil
		}
	}
	return nil, ErrRunNotFound
}
