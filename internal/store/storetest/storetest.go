// Package storetest provides an in-memory Store for tests. It enforces the
// comment capacity contract and counts mutating calls so tests can assert
// idempotence (e.g. exactly one branch created under racing submitters).
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetherhq/tether/internal/store"
)

// Store is an in-memory store.Store. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	issues    map[int]*store.Issue
	comments  map[int][]store.Comment
	branches  map[int][]store.LinkedBranch
	pulls     map[string]*store.PullRequest // branch name -> PR
	nextIssue int
	nextCmt   int64
	capacity  int

	// Mutation counters for idempotence assertions.
	BranchCreates  int
	CommentCreates int
	IssueUpdates   int
}

// New returns an empty in-memory store with the default comment capacity.
func New() *Store {
	return &Store{
		issues:    make(map[int]*store.Issue),
		comments:  make(map[int][]store.Comment),
		branches:  make(map[int][]store.LinkedBranch),
		pulls:     make(map[string]*store.PullRequest),
		nextIssue: 1,
		nextCmt:   1,
		capacity:  store.DefaultCommentCapacity,
	}
}

// SetCapacity overrides the comment capacity (for chunking tests).
func (s *Store) SetCapacity(n int) { s.capacity = n }

// MaxCommentBytes implements store.Store.
func (s *Store) MaxCommentBytes() int { return s.capacity }

// Seed inserts an issue with a fixed number, for tests that reference
// well-known identifiers.
func (s *Store) Seed(iss *store.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *iss
	s.issues[iss.Number] = &cp
	if iss.Number >= s.nextIssue {
		s.nextIssue = iss.Number + 1
	}
}

// SeedPull registers a pull request for a branch name.
func (s *Store) SeedPull(branch string, pr *store.PullRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pr
	cp.HeadRef = branch
	s.pulls[branch] = &cp
}

// GetIssue implements store.Store.
func (s *Store) GetIssue(_ context.Context, number int) (*store.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss, ok := s.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, store.ErrNotFound)
	}
	cp := *iss
	return &cp, nil
}

// CreateIssue implements store.Store.
func (s *Store) CreateIssue(_ context.Context, title, body string, labels []string) (*store.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss := &store.Issue{
		Number:    s.nextIssue,
		Title:     title,
		Body:      body,
		State:     store.StateOpen,
		Labels:    append([]string(nil), labels...),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.nextIssue++
	s.issues[iss.Number] = iss
	cp := *iss
	return &cp, nil
}

// UpdateIssue implements store.Store.
func (s *Store) UpdateIssue(_ context.Context, number int, upd store.IssueUpdate) (*store.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss, ok := s.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, store.ErrNotFound)
	}
	if upd.Title != nil {
		iss.Title = *upd.Title
	}
	if upd.Body != nil {
		iss.Body = *upd.Body
	}
	if upd.State != nil {
		iss.State = *upd.State
	}
	if upd.Labels != nil {
		iss.Labels = append([]string(nil), (*upd.Labels)...)
	}
	iss.UpdatedAt = time.Now().UTC()
	s.IssueUpdates++
	cp := *iss
	return &cp, nil
}

// AddLabels implements store.Store.
func (s *Store) AddLabels(_ context.Context, number int, labels []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss, ok := s.issues[number]
	if !ok {
		return fmt.Errorf("issue #%d: %w", number, store.ErrNotFound)
	}
	for _, l := range labels {
		if !iss.HasLabel(l) {
			iss.Labels = append(iss.Labels, l)
		}
	}
	return nil
}

// ListComments implements store.Store.
func (s *Store) ListComments(_ context.Context, number int) ([]store.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[number]; !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, store.ErrNotFound)
	}
	return append([]store.Comment(nil), s.comments[number]...), nil
}

// CreateComment implements store.Store. Bodies beyond the capacity contract
// are rejected the way the real store rejects them.
func (s *Store) CreateComment(_ context.Context, number int, body string) (*store.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[number]; !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, store.ErrNotFound)
	}
	if len(body) > s.capacity {
		return nil, fmt.Errorf("comment body of %d bytes exceeds capacity %d", len(body), s.capacity)
	}
	c := store.Comment{ID: s.nextCmt, Body: body, CreatedAt: time.Now().UTC()}
	s.nextCmt++
	s.comments[number] = append(s.comments[number], c)
	s.CommentCreates++
	return &c, nil
}

// UpdateComment implements store.Store.
func (s *Store) UpdateComment(_ context.Context, commentID int64, body string) (*store.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(body) > s.capacity {
		return nil, fmt.Errorf("comment body of %d bytes exceeds capacity %d", len(body), s.capacity)
	}
	for number := range s.comments {
		for i := range s.comments[number] {
			if s.comments[number][i].ID == commentID {
				s.comments[number][i].Body = body
				cp := s.comments[number][i]
				return &cp, nil
			}
		}
	}
	return nil, fmt.Errorf("comment %d: %w", commentID, store.ErrNotFound)
}

// ListLinkedBranches implements store.Store.
func (s *Store) ListLinkedBranches(_ context.Context, number int) ([]store.LinkedBranch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[number]; !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, store.ErrNotFound)
	}
	return append([]store.LinkedBranch(nil), s.branches[number]...), nil
}

// CreateLinkedBranch implements store.Store. Creating a branch name that is
// already linked to the issue is a conflict, mirroring the real store.
func (s *Store) CreateLinkedBranch(_ context.Context, number int, name, base string) (*store.LinkedBranch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[number]; !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, store.ErrNotFound)
	}
	for _, b := range s.branches[number] {
		if b.Name == name {
			return nil, fmt.Errorf("branch %s already linked to #%d", name, number)
		}
	}
	lb := store.LinkedBranch{ID: fmt.Sprintf("LB_%d_%d", number, len(s.branches[number])+1), Name: name}
	s.branches[number] = append(s.branches[number], lb)
	s.BranchCreates++
	return &lb, nil
}

// PullRequestForBranch implements store.Store.
func (s *Store) PullRequestForBranch(_ context.Context, branch string) (*store.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.pulls[branch]
	if !ok {
		return nil, fmt.Errorf("pull for branch %s: %w", branch, store.ErrNotFound)
	}
	cp := *pr
	return &cp, nil
}

var _ store.Store = (*Store)(nil)
