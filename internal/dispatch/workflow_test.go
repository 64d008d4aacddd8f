package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tetherhq/tether/internal/dispatch"
	"github.com/tetherhq/tether/internal/store"
)

type fakeWorkflowAPI struct {
	runs       []store.WorkflowRun
	listErr    error
	dispatched []map[string]string
}

func (f *fakeWorkflowAPI) DispatchWorkflow(ctx context.Context, workflow, ref string, inputs map[string]string) error {
	f.dispatched = append(f.dispatched, inputs)
	return nil
}

func (f *fakeWorkflowAPI) ListWorkflowRuns(ctx context.Context, workflow string) ([]store.WorkflowRun, error) {
	return f.runs, f.listErr
}

func TestWorkflowRunnerDispatchInputs(t *testing.T) {
	api := &fakeWorkflowAPI{}
	w := &dispatch.WorkflowRunner{API: api, Workflow: "tether-run.yml", Ref: "main"}

	if err := w.Dispatch(context.Background(), 42, "deadbeef"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(api.dispatched) != 1 {
		t.Fatalf("dispatched %d times", len(api.dispatched))
	}
	in := api.dispatched[0]
	if in["plan"] != "42" {
		t.Fatalf("plan input = %q", in["plan"])
	}
	if in["token"] != "tether-run:deadbeef" {
		t.Fatalf("token input = %q", in["token"])
	}
}

func TestWorkflowRunnerPollMatchesMarker(t *testing.T) {
	api := &fakeWorkflowAPI{runs: []store.WorkflowRun{
		{ID: 1, DisplayTitle: "Run plan [tether-run:0badf00d]", Status: "completed", Conclusion: "success"},
		{ID: 2, DisplayTitle: "Run plan [tether-run:deadbeef]", Status: "in_progress"},
	}}
	w := &dispatch.WorkflowRunner{API: api, Workflow: "tether-run.yml", Ref: "main"}

	run, err := w.Poll(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if run.ID != "2" || run.Status != dispatch.RunInProgress {
		t.Fatalf("run = %+v", run)
	}

	if _, err := w.Poll(context.Background(), "cafebabe"); !errors.Is(err, dispatch.ErrRunNotFound) {
		t.Fatalf("unmatched token: want ErrRunNotFound, got %v", err)
	}
}

func TestWorkflowRunnerPollPropagatesAPIError(t *testing.T) {
	api := &fakeWorkflowAPI{listErr: errors.New("boom")}
	w := &dispatch.WorkflowRunner{API: api, Workflow: "tether-run.yml", Ref: "main"}

	if _, err := w.Poll(context.Background(), "deadbeef"); err == nil || errors.Is(err, dispatch.ErrRunNotFound) {
		t.Fatalf("API error must not be reported as not-found, got %v", err)
	}
}
