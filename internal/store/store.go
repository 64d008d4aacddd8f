// Package store defines the Issue Store abstraction: read/write/list access
// to remote issues, comments, labels, linked branches, and pull requests.
//
// The remote tracker is the system's only durable state. Every mutation is
// a whole-document read-modify-write; there is no field-level patch API and
// no optimistic concurrency control, so last write wins (see DESIGN.md).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested issue, comment, or pull
// request does not exist. It is never conflated with an empty result.
var ErrNotFound = errors.New("store: not found")

// Issue states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Issue is a remote issue. Number is repository-scoped.
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string // "open" or "closed"
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLabel reports whether the issue carries the named label.
func (i *Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// Comment is one comment on an issue.
type Comment struct {
	ID        int64
	Body      string
	CreatedAt time.Time
}

// LinkedBranch is a branch natively linked to an issue by the store.
// Native linking survives issue edits; free-text matching does not, which
// is why the engine never discovers branches by string search.
type LinkedBranch struct {
	ID   string
	Name string
}

// PullRequest is a pull request discovered for a linked branch.
type PullRequest struct {
	Number  int
	Title   string
	State   string // "open" or "closed"
	Merged  bool
	HeadRef string
}

// IssueUpdate is a partial issue mutation. Nil fields are left unchanged.
type IssueUpdate struct {
	Title  *string
	Body   *string
	State  *string
	Labels *[]string
}

// Store is the Issue Store client surface the engine consumes.
// Implementations must respect MaxCommentBytes as a hard payload ceiling
// and must surface ErrNotFound distinctly from empty results.
type Store interface {
	GetIssue(ctx context.Context, number int) (*Issue, error)
	CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error)
	UpdateIssue(ctx context.Context, number int, upd IssueUpdate) (*Issue, error)
	AddLabels(ctx context.Context, number int, labels []string) error

	ListComments(ctx context.Context, number int) ([]Comment, error)
	CreateComment(ctx context.Context, number int, body string) (*Comment, error)
	UpdateComment(ctx context.Context, commentID int64, body string) (*Comment, error)

	ListLinkedBranches(ctx context.Context, number int) ([]LinkedBranch, error)
	CreateLinkedBranch(ctx context.Context, number int, name, base string) (*LinkedBranch, error)
	PullRequestForBranch(ctx context.Context, branch string) (*PullRequest, error)

	// MaxCommentBytes is the store's declared per-comment capacity.
	MaxCommentBytes() int
}
