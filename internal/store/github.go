package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tetherhq/tether/internal/debug"
	"github.com/tetherhq/tether/internal/telemetry"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultGraphQLEndpoint is the GitHub GraphQL API URL. Linked-branch
	// operations have no REST surface.
	DefaultGraphQLEndpoint = "https://api.github.com/graphql"

	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRetryMaxElapsed bounds the transient-error retry window.
	DefaultRetryMaxElapsed = 30 * time.Second

	// DefaultCommentCapacity is GitHub's per-comment character ceiling.
	DefaultCommentCapacity = 65536
)

// GitHub implements Store against the GitHub REST and GraphQL APIs.
type GitHub struct {
	Token      string // personal access token
	Owner      string // repository owner (user or org)
	Repo       string // repository name
	BaseURL    string // REST base URL (default: https://api.github.com)
	GraphQLURL string
	HTTPClient *http.Client

	// CommentCapacity overrides DefaultCommentCapacity (for GHE or tests).
	CommentCapacity int

	// RetryMaxElapsed overrides DefaultRetryMaxElapsed.
	RetryMaxElapsed time.Duration
}

var _ Store = (*GitHub)(nil)

// NewGitHub creates a GitHub-backed store client.
func NewGitHub(token, owner, repo string) *GitHub {
	return &GitHub{
		Token:      token,
		Owner:      owner,
		Repo:       repo,
		BaseURL:    DefaultAPIEndpoint,
		GraphQLURL: DefaultGraphQLEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// MaxCommentBytes returns the store's declared per-comment capacity.
func (g *GitHub) MaxCommentBytes() int {
	if g.CommentCapacity > 0 {
		return g.CommentCapacity
	}
	return DefaultCommentCapacity
}

// repoPath returns the "owner/repo" path segment.
func (g *GitHub) repoPath() string {
	return g.Owner + "/" + g.Repo
}

// buildURL constructs a full API URL.
func (g *GitHub) buildURL(path string, params map[string]string) string {
	u := g.BaseURL + path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}
	return u
}

// newRetryBackoff returns a fresh backoff for one logical operation.
// BackOff implementations are stateful; never share instances.
func (g *GitHub) newRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if g.RetryMaxElapsed > 0 {
		bo.MaxElapsedTime = g.RetryMaxElapsed
	} else {
		bo.MaxElapsedTime = DefaultRetryMaxElapsed
	}
	return bo
}

// isTransientStatus reports whether an HTTP status is worth retrying.
// GitHub signals rate limiting with 429, or 403 plus a drained
// X-RateLimit-Remaining header.
func isTransientStatus(status int, headers http.Header) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if status == http.StatusForbidden && headers.Get("X-RateLimit-Remaining") == "0" {
		return true
	}
	return status >= 500
}

// doRequest performs one authenticated API call with transient-error retry.
// Non-transient API errors are permanent and abort the backoff immediately.
func (g *GitHub) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, http.Header, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request body: %w", err)
		}
	}
	telemetry.CountStoreRequest(ctx, method)

	var respBody []byte
	var respHeaders http.Header
	attempt := 0

	op := func() error {
		attempt++
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+g.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := g.HTTPClient.Do(req)
		if err != nil {
			// Network errors are transient by default.
			return fmt.Errorf("request failed (attempt %d): %w", attempt, err)
		}
		defer func() { _ = resp.Body.Close() }()

		const maxResponseSize = 50 * 1024 * 1024
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("read response (attempt %d): %w", attempt, err)
		}

		if isTransientStatus(resp.StatusCode, resp.Header) {
			debug.Logf("store: transient %d from %s %s (attempt %d)", resp.StatusCode, method, urlStr, attempt)
			return fmt.Errorf("transient API status %d (attempt %d)", resp.StatusCode, attempt)
		}
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(ErrNotFound)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("API error: %s (status %d)", string(data), resp.StatusCode))
		}

		respBody = data
		respHeaders = resp.Header
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(g.newRetryBackoff(), ctx)); err != nil {
		return nil, nil, err
	}
	return respBody, respHeaders, nil
}

// ghIssue is the wire shape of a GitHub issue.
type ghIssue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *struct {
		URL string `json:"url,omitempty"`
	} `json:"pull_request,omitempty"`
}

func (gi *ghIssue) toIssue() *Issue {
	iss := &Issue{
		Number: gi.Number,
		Title:  gi.Title,
		Body:   gi.Body,
		State:  gi.State,
	}
	for _, l := range gi.Labels {
		iss.Labels = append(iss.Labels, l.Name)
	}
	if gi.CreatedAt != nil {
		iss.CreatedAt = *gi.CreatedAt
	}
	if gi.UpdatedAt != nil {
		iss.UpdatedAt = *gi.UpdatedAt
	}
	return iss
}

// GetIssue retrieves a single issue by number.
func (g *GitHub) GetIssue(ctx context.Context, number int) (*Issue, error) {
	urlStr := g.buildURL("/repos/"+g.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := g.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch issue #%d: %w", number, err)
	}
	var gi ghIssue
	if err := json.Unmarshal(respBody, &gi); err != nil {
		return nil, fmt.Errorf("parse issue response: %w", err)
	}
	return gi.toIssue(), nil
}

// CreateIssue creates a new issue.
func (g *GitHub) CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error) {
	reqBody := map[string]interface{}{
		"title": title,
		"body":  body,
	}
	if len(labels) > 0 {
		reqBody["labels"] = labels
	}
	urlStr := g.buildURL("/repos/"+g.repoPath()+"/issues", nil)
	respBody, _, err := g.doRequest(ctx, http.MethodPost, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	var gi ghIssue
	if err := json.Unmarshal(respBody, &gi); err != nil {
		return nil, fmt.Errorf("parse create response: %w", err)
	}
	return gi.toIssue(), nil
}

// UpdateIssue applies a partial update. GitHub uses PATCH for issue updates.
func (g *GitHub) UpdateIssue(ctx context.Context, number int, upd IssueUpdate) (*Issue, error) {
	fields := map[string]interface{}{}
	if upd.Title != nil {
		fields["title"] = *upd.Title
	}
	if upd.Body != nil {
		fields["body"] = *upd.Body
	}
	if upd.State != nil {
		fields["state"] = *upd.State
	}
	if upd.Labels != nil {
		fields["labels"] = *upd.Labels
	}
	if len(fields) == 0 {
		return g.GetIssue(ctx, number)
	}
	urlStr := g.buildURL("/repos/"+g.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := g.doRequest(ctx, http.MethodPatch, urlStr, fields)
	if err != nil {
		return nil, fmt.Errorf("update issue #%d: %w", number, err)
	}
	var gi ghIssue
	if err := json.Unmarshal(respBody, &gi); err != nil {
		return nil, fmt.Errorf("parse update response: %w", err)
	}
	return gi.toIssue(), nil
}

// AddLabels adds labels to an issue without disturbing existing ones.
func (g *GitHub) AddLabels(ctx context.Context, number int, labels []string) error {
	urlStr := g.buildURL("/repos/"+g.repoPath()+"/issues/"+strconv.Itoa(number)+"/labels", nil)
	_, _, err := g.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"labels": labels})
	if err != nil {
		return fmt.Errorf("add labels to #%d: %w", number, err)
	}
	return nil
}

// ghComment is the wire shape of a GitHub issue comment.
type ghComment struct {
	ID        int64      `json:"id"`
	Body      string     `json:"body"`
	CreatedAt *time.Time `json:"created_at"`
}

func (gc *ghComment) toComment() Comment {
	c := Comment{ID: gc.ID, Body: gc.Body}
	if gc.CreatedAt != nil {
		c.CreatedAt = *gc.CreatedAt
	}
	return c
}

// ListComments retrieves all comments on an issue, oldest first.
func (g *GitHub) ListComments(ctx context.Context, number int) ([]Comment, error) {
	var all []Comment
	page := 1
	for {
		params := map[string]string{
			"per_page": "100",
			"page":     strconv.Itoa(page),
		}
		urlStr := g.buildURL("/repos/"+g.repoPath()+"/issues/"+strconv.Itoa(number)+"/comments", params)
		respBody, headers, err := g.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("list comments for #%d: %w", number, err)
		}
		var comments []ghComment
		if err := json.Unmarshal(respBody, &comments); err != nil {
			return nil, fmt.Errorf("parse comments response: %w", err)
		}
		for i := range comments {
			all = append(all, comments[i].toComment())
		}
		if !strings.Contains(headers.Get("Link"), `rel="next"`) {
			break
		}
		page++
	}
	return all, nil
}

// CreateComment posts a new comment on an issue.
func (g *GitHub) CreateComment(ctx context.Context, number int, body string) (*Comment, error) {
	urlStr := g.buildURL("/repos/"+g.repoPath()+"/issues/"+strconv.Itoa(number)+"/comments", nil)
	respBody, _, err := g.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"body": body})
	if err != nil {
		return nil, fmt.Errorf("create comment on #%d: %w", number, err)
	}
	var gc ghComment
	if err := json.Unmarshal(respBody, &gc); err != nil {
		return nil, fmt.Errorf("parse comment response: %w", err)
	}
	c := gc.toComment()
	return &c, nil
}

// UpdateComment replaces a comment's body.
func (g *GitHub) UpdateComment(ctx context.Context, commentID int64, body string) (*Comment, error) {
	urlStr := g.buildURL("/repos/"+g.repoPath()+"/issues/comments/"+strconv.FormatInt(commentID, 10), nil)
	respBody, _, err := g.doRequest(ctx, http.MethodPatch, urlStr, map[string]interface{}{"body": body})
	if err != nil {
		return nil, fmt.Errorf("update comment %d: %w", commentID, err)
	}
	var gc ghComment
	if err := json.Unmarshal(respBody, &gc); err != nil {
		return nil, fmt.Errorf("parse comment response: %w", err)
	}
	c := gc.toComment()
	return &c, nil
}

// PullRequestForBranch finds the pull request whose head is the given
// branch, or ErrNotFound. Closed PRs are included so merged evidence is
// still discoverable.
func (g *GitHub) PullRequestForBranch(ctx context.Context, branch string) (*PullRequest, error) {
	params := map[string]string{
		"head":  g.Owner + ":" + branch,
		"state": "all",
	}
	urlStr := g.buildURL("/repos/"+g.repoPath()+"/pulls", params)
	respBody, _, err := g.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("list pulls for branch %s: %w", branch, err)
	}
	var pulls []struct {
		Number   int        `json:"number"`
		Title    string     `json:"title"`
		State    string     `json:"state"`
		MergedAt *time.Time `json:"merged_at"`
		Head     struct {
			Ref string `json:"ref"`
		} `json:"head"`
	}
	if err := json.Unmarshal(respBody, &pulls); err != nil {
		return nil, fmt.Errorf("parse pulls response: %w", err)
	}
	if len(pulls) == 0 {
		return nil, ErrNotFound
	}
	p := pulls[0]
	return &PullRequest{
		Number:  p.Number,
		Title:   p.Title,
		State:   p.State,
		Merged:  p.MergedAt != nil,
		HeadRef: p.Head.Ref,
	}, nil
}
