package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tetherhq/tether/internal/metablock"
	"github.com/tetherhq/tether/internal/store"
)

// Header schema versions. Version 1 predates objective and previous-review
// references; readers accept both, writers emit CurrentSchema.
const (
	CurrentSchema = 2
	minSchema     = 1
)

// Sentinel errors for the plan engine.
var (
	// ErrValidation marks synchronous validation failures. No state was
	// changed when a call returns one.
	ErrValidation = errors.New("plan: validation failed")

	// ErrTerminal marks mutations attempted against a merged or closed
	// plan. Terminal plans accept only the closing annotation.
	ErrTerminal = errors.New("plan: terminal phase")

	// ErrNoHeader means the issue carries no header block and is therefore
	// not a plan.
	ErrNoHeader = errors.New("plan: no header block")
)

// DispatchRecord is the durable record of the most recent dispatch. It is
// updated in place on re-dispatch, never appended to.
type DispatchRecord struct {
	At       time.Time `yaml:"at"`
	By       string    `yaml:"by,omitempty"`
	RunToken string    `yaml:"run_token"`
}

// LocalRecord captures the most recent local implementation event.
type LocalRecord struct {
	At    time.Time `yaml:"at"`
	Event string    `yaml:"event"`
}

// Header is the machine-readable plan metadata stored as a yaml payload
// inside the issue body's header block, separate from the plan text so it
// stays small and independently editable.
type Header struct {
	Schema       int             `yaml:"schema"`
	CreatedAt    time.Time       `yaml:"created_at"`
	CreatedBy    string          `yaml:"created_by,omitempty"`
	Phase        Phase           `yaml:"phase"`
	StepsTotal   int             `yaml:"steps_total"`
	StepsDone    int             `yaml:"steps_done"`
	Objective    int             `yaml:"objective,omitempty"`
	ReviewPR     int             `yaml:"review_pr,omitempty"`
	PrevReviewPR int             `yaml:"prev_review_pr,omitempty"`
	BodyDigest   string          `yaml:"body_digest,omitempty"`
	Dispatch     *DispatchRecord `yaml:"dispatch,omitempty"`
	Local        *LocalRecord    `yaml:"local,omitempty"`
	ClosedNote   string          `yaml:"closed_note,omitempty"`
}

// ParseHeader decodes a header payload, accepting any supported schema.
func ParseHeader(payload string) (*Header, error) {
	var h Header
	if err := yaml.Unmarshal([]byte(payload), &h); err != nil {
		return nil, fmt.Errorf("plan: decode header: %w", err)
	}
	if h.Schema < minSchema || h.Schema > CurrentSchema {
		return nil, fmt.Errorf("%w: unsupported header schema %d", ErrValidation, h.Schema)
	}
	if !IsValidPhase(h.Phase) {
		return nil, fmt.Errorf("%w: unknown phase %q in header", ErrValidation, h.Phase)
	}
	return &h, nil
}

// Encode serializes the header at the current schema.
func (h *Header) Encode() (string, error) {
	h.Schema = CurrentSchema
	out, err := yaml.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("plan: encode header: %w", err)
	}
	return string(out), nil
}

// loadHeader reads the issue and extracts its header.
func (m *Machine) loadHeader(ctx context.Context, planID int) (*Header, *store.Issue, error) {
	iss, err := m.store.GetIssue(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	payload, _, err := m.codec.Extract([]string{iss.Body}, metablock.KindHeader)
	if err != nil {
		if errors.Is(err, metablock.ErrNotFound) {
			return nil, nil, fmt.Errorf("plan #%d: %w", planID, ErrNoHeader)
		}
		return nil, nil, fmt.Errorf("plan #%d header: %w", planID, err)
	}
	h, err := ParseHeader(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("plan #%d: %w", planID, err)
	}
	return h, iss, nil
}

// saveHeader writes the header back into the issue body, replacing the
// existing header block in place.
func (m *Machine) saveHeader(ctx context.Context, iss *store.Issue, h *Header) error {
	payload, err := h.Encode()
	if err != nil {
		return err
	}
	body, err := m.codec.ReplaceBlock(ctx, iss.Body, metablock.KindHeader, payload, metablock.RenderOptions{})
	if err != nil {
		return fmt.Errorf("plan #%d: embed header: %w", iss.Number, err)
	}
	if _, err := m.store.UpdateIssue(ctx, iss.Number, store.IssueUpdate{Body: &body}); err != nil {
		return fmt.Errorf("plan #%d: write header: %w", iss.Number, err)
	}
	return nil
}
