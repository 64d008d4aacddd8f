package roadmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetherhq/tether/internal/debug"
	"github.com/tetherhq/tether/internal/metablock"
	"github.com/tetherhq/tether/internal/store"
)

// ErrNoRoadmap means the objective's body carries no roadmap block.
var ErrNoRoadmap = errors.New("roadmap: no roadmap block")

// Engine reads and writes roadmaps stored in objective bodies. Every
// mutation is a whole-document read-modify-write of the objective issue.
type Engine struct {
	store store.Store
	codec *metablock.Codec
}

// NewEngine returns an engine bound to a store. chunkMargin is the fence
// margin subtracted from the store's comment capacity.
func NewEngine(st store.Store, chunkMargin int) *Engine {
	return &Engine{
		store: st,
		codec: metablock.NewCodec(st.MaxCommentBytes() - chunkMargin),
	}
}

// Load reads and parses the objective's roadmap.
func (e *Engine) Load(ctx context.Context, objectiveID int) (*Roadmap, Schema, error) {
	iss, err := e.store.GetIssue(ctx, objectiveID)
	if err != nil {
		return nil, 0, err
	}
	payload, _, err := e.codec.Extract([]string{iss.Body}, metablock.KindRoadmap)
	if err != nil {
		if errors.Is(err, metablock.ErrNotFound) {
			return nil, 0, fmt.Errorf("objective #%d: %w", objectiveID, ErrNoRoadmap)
		}
		return nil, 0, fmt.Errorf("objective #%d roadmap: %w", objectiveID, err)
	}
	r, schema, err := Parse(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("objective #%d: %w", objectiveID, err)
	}
	return r, schema, nil
}

// save writes the roadmap back into the objective body at the current
// schema.
func (e *Engine) save(ctx context.Context, objectiveID int, r *Roadmap) error {
	iss, err := e.store.GetIssue(ctx, objectiveID)
	if err != nil {
		return err
	}
	body, err := e.codec.ReplaceBlock(ctx, iss.Body, metablock.KindRoadmap, Render(r), metablock.RenderOptions{})
	if err != nil {
		return fmt.Errorf("objective #%d: embed roadmap: %w", objectiveID, err)
	}
	if _, err := e.store.UpdateIssue(ctx, objectiveID, store.IssueUpdate{Body: &body}); err != nil {
		return fmt.Errorf("objective #%d: write roadmap: %w", objectiveID, err)
	}
	return nil
}

// NextStep returns the first pending step id in document order, or ok=false
// when no step is pending.
func (e *Engine) NextStep(ctx context.Context, objectiveID int) (string, bool, error) {
	r, _, err := e.Load(ctx, objectiveID)
	if err != nil {
		return "", false, err
	}
	id, ok := r.Next()
	return id, ok, nil
}

// SetStepEvidence applies an evidence mutation and persists the roadmap.
// Validation failures mutate nothing, locally or remotely.
func (e *Engine) SetStepEvidence(ctx context.Context, objectiveID int, stepID string, ev Evidence) error {
	r, _, err := e.Load(ctx, objectiveID)
	if err != nil {
		return err
	}
	if err := r.SetEvidence(stepID, ev); err != nil {
		return fmt.Errorf("objective #%d: %w", objectiveID, err)
	}
	return e.save(ctx, objectiveID, r)
}

// Migrate rewrites a legacy roadmap table into the current schema,
// preserving every evidence reference and override. Already-current tables
// are rewritten only if their rendering is not canonical, so running
// migration twice produces no further change.
func (e *Engine) Migrate(ctx context.Context, objectiveID int) (bool, error) {
	iss, err := e.store.GetIssue(ctx, objectiveID)
	if err != nil {
		return false, err
	}
	payload, _, err := e.codec.Extract([]string{iss.Body}, metablock.KindRoadmap)
	if err != nil {
		if errors.Is(err, metablock.ErrNotFound) {
			return false, fmt.Errorf("objective #%d: %w", objectiveID, ErrNoRoadmap)
		}
		return false, err
	}
	r, schema, err := Parse(payload)
	if err != nil {
		return false, fmt.Errorf("objective #%d: %w", objectiveID, err)
	}
	rendered := Render(r)
	if schema == SchemaCurrent && rendered == payload {
		return false, nil
	}
	debug.Logf("roadmap: migrating objective #%d from schema %d", objectiveID, schema)
	if err := e.save(ctx, objectiveID, r); err != nil {
		return false, err
	}
	return true, nil
}

// CloseIfComplete closes the objective when every step is done or skipped.
// Returns whether it closed.
func (e *Engine) CloseIfComplete(ctx context.Context, objectiveID int) (bool, error) {
	r, _, err := e.Load(ctx, objectiveID)
	if err != nil {
		return false, err
	}
	if !r.Complete() {
		return false, nil
	}
	closed := store.StateClosed
	if _, err := e.store.UpdateIssue(ctx, objectiveID, store.IssueUpdate{State: &closed}); err != nil {
		return false, fmt.Errorf("objective #%d: close: %w", objectiveID, err)
	}
	return true, nil
}
