package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*GitHub, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewGitHub("test-token", "acme", "widgets")
	g.BaseURL = srv.URL
	g.GraphQLURL = srv.URL + "/graphql"
	g.RetryMaxElapsed = 5 * time.Second
	return g, srv
}

func TestGetIssue(t *testing.T) {
	g, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/widgets/issues/42", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"number": 42,
			"title":  "Implement sync",
			"body":   "details",
			"state":  "open",
			"labels": []map[string]string{{"name": "tether:ready"}},
		})
	}))

	iss, err := g.GetIssue(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, 42, iss.Number)
	require.Equal(t, "Implement sync", iss.Title)
	require.True(t, iss.HasLabel("tether:ready"))
}

func TestGetIssueNotFound(t *testing.T) {
	g, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := g.GetIssue(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRateLimitRetry(t *testing.T) {
	attempts := 0
	g, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"number": 1, "state": "open"})
	}))

	_, err := g.GetIssue(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, attempts, "rate-limited request should be retried")
}

func TestNonTransientErrorIsNotRetried(t *testing.T) {
	attempts := 0
	g, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Validation Failed"}`))
	}))

	_, err := g.CreateIssue(context.Background(), "t", "b", nil)
	require.Error(t, err)
	require.Equal(t, 1, attempts, "4xx responses must abort the backoff immediately")
}

func TestCreateCommentSendsBody(t *testing.T) {
	g, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/repos/acme/widgets/issues/7/comments", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "hello", payload["body"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": 1234, "body": "hello"})
	}))

	c, err := g.CreateComment(context.Background(), 7, "hello")
	require.NoError(t, err)
	require.Equal(t, int64(1234), c.ID)
}

func TestListLinkedBranchesGraphQL(t *testing.T) {
	g, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/graphql", r.URL.Path)
		var payload struct {
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.EqualValues(t, 42, payload.Variables["number"])
		_, _ = w.Write([]byte(`{"data":{"repository":{"issue":{"linkedBranches":{"nodes":[
			{"id":"LB_1","ref":{"name":"tether/plan-42"}}
		]}}}}}`))
	}))

	branches, err := g.ListLinkedBranches(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	require.Equal(t, "tether/plan-42", branches[0].Name)
}

func TestGraphQLErrorSurfaces(t *testing.T) {
	g, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"Field 'linkedBranches' doesn't exist"}]}`))
	}))

	_, err := g.ListLinkedBranches(context.Background(), 42)
	require.Error(t, err)
	require.Contains(t, err.Error(), "linkedBranches")
}

func TestPullRequestForBranch(t *testing.T) {
	g, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "acme:tether/plan-42", r.URL.Query().Get("head"))
		require.Equal(t, "all", r.URL.Query().Get("state"))
		_, _ = w.Write([]byte(`[{"number":88,"title":"Implement sync","state":"closed",
			"merged_at":"2026-08-01T10:00:00Z","head":{"ref":"tether/plan-42"}}]`))
	}))

	pr, err := g.PullRequestForBranch(context.Background(), "tether/plan-42")
	require.NoError(t, err)
	require.Equal(t, 88, pr.Number)
	require.True(t, pr.Merged)
}

func TestPullRequestForBranchAbsent(t *testing.T) {
	g, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))

	_, err := g.PullRequestForBranch(context.Background(), "tether/plan-9")
	require.ErrorIs(t, err, ErrNotFound)
}
