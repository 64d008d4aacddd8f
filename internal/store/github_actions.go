package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// WorkflowRun is a single workflow run as reported by the Actions API.
type WorkflowRun struct {
	ID           int64  `json:"id"`
	DisplayTitle string `json:"display_title"`
	Status       string `json:"status"`
	Conclusion   string `json:"conclusion"`
	HeadBranch   string `json:"head_branch"`
}

// DispatchWorkflow triggers a workflow_dispatch event for the named workflow
// file on ref. The API returns 204 with no body; correlation happens later
// through the run's display title.
func (g *GitHub) DispatchWorkflow(ctx context.Context, workflow, ref string, inputs map[string]string) error {
	reqBody := map[string]interface{}{"ref": ref}
	if len(inputs) > 0 {
		reqBody["inputs"] = inputs
	}
	urlStr := g.buildURL("/repos/"+g.repoPath()+"/actions/workflows/"+workflow+"/dispatches", nil)
	if _, _, err := g.doRequest(ctx, http.MethodPost, urlStr, reqBody); err != nil {
		return fmt.Errorf("dispatch workflow %s: %w", workflow, err)
	}
	return nil
}

// ListWorkflowRuns returns recent workflow_dispatch runs for the named
// workflow file, newest first.
func (g *GitHub) ListWorkflowRuns(ctx context.Context, workflow string) ([]WorkflowRun, error) {
	params := map[string]string{
		"event":    "workflow_dispatch",
		"per_page": strconv.Itoa(50),
	}
	urlStr := g.buildURL("/repos/"+g.repoPath()+"/actions/workflows/"+workflow+"/runs", params)
	respBody, _, err := g.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("list runs for workflow %s: %w", workflow, err)
	}
	var page struct {
		WorkflowRuns []WorkflowRun `json:"workflow_runs"`
	}
	if err := json.Unmarshal(respBody, &page); err != nil {
		return nil, fmt.Errorf("parse workflow runs response: %w", err)
	}
	return page.WorkflowRuns, nil
}
