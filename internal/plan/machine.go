package plan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/debug"
	"github.com/tetherhq/tether/internal/dispatch"
	"github.com/tetherhq/tether/internal/metablock"
	"github.com/tetherhq/tether/internal/store"
)

// Machine drives the plan lifecycle against an Issue Store. It holds no
// plan state of its own: every operation is a read-modify-write of the
// remote document, and the store is the sole persistent owner.
type Machine struct {
	store store.Store
	codec *metablock.Codec
	cfg   *config.Config

	// flight dedups branch/PR discovery-before-create across racing
	// callers: at most one creation proceeds, losers adopt its result.
	flight singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

// NewMachine returns a machine bound to a store and configuration. The
// codec's chunk ceiling derives from the store's declared capacity minus
// the configured fence margin.
func NewMachine(st store.Store, cfg *config.Config) *Machine {
	return &Machine{
		store: st,
		codec: metablock.NewCodec(st.MaxCommentBytes() - cfg.ChunkMargin),
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Codec exposes the machine's codec for callers that post auxiliary blocks
// (session transcripts) against the same capacity contract.
func (m *Machine) Codec() *metablock.Codec { return m.codec }

// Create authors a new plan: an issue carrying a header block, the ready
// label, and the plan text stored as body-block comments. StepsTotal is
// fixed here for the plan's lifetime.
func (m *Machine) Create(ctx context.Context, title, body, author string, stepsTotal, objective int) (*store.Issue, error) {
	if stepsTotal <= 0 {
		return nil, fmt.Errorf("%w: steps_total must be positive, got %d", ErrValidation, stepsTotal)
	}
	h := &Header{
		Schema:     CurrentSchema,
		CreatedAt:  m.now(),
		CreatedBy:  author,
		Phase:      PhaseCreated,
		StepsTotal: stepsTotal,
		Objective:  objective,
	}
	payload, err := h.Encode()
	if err != nil {
		return nil, err
	}
	issueBody, err := m.codec.ReplaceBlock(ctx, "", metablock.KindHeader, payload, metablock.RenderOptions{})
	if err != nil {
		return nil, err
	}
	iss, err := m.store.CreateIssue(ctx, title, issueBody, []string{m.cfg.ReadyLabel})
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	if body != "" {
		if err := m.writeBody(ctx, iss.Number, body); err != nil {
			return nil, err
		}
	}
	debug.Logf("plan: created #%d (%d steps)", iss.Number, stepsTotal)
	return iss, nil
}

// SubmitResult reports a successful submission.
type SubmitResult struct {
	PlanID int
	Token  string
	Phase  Phase
}

// Submit validates the plan is actionable, mints a fresh correlation token,
// and durably records who submitted and when. Re-submission of an already
// submitted or dispatched plan is an idempotent re-dispatch: the dispatch
// record is updated in place, never duplicated. Validation failures are
// synchronous and mutate nothing.
func (m *Machine) Submit(ctx context.Context, planID int, actor string) (*SubmitResult, error) {
	h, iss, err := m.loadHeader(ctx, planID)
	if err != nil {
		return nil, err
	}
	if h.Phase.IsTerminal() {
		return nil, fmt.Errorf("plan #%d: %w", planID, ErrTerminal)
	}
	if iss.State != store.StateOpen {
		return nil, fmt.Errorf("%w: plan #%d is not open", ErrValidation, planID)
	}
	if !iss.HasLabel(m.cfg.ReadyLabel) {
		return nil, fmt.Errorf("%w: plan #%d is missing the %q label", ErrValidation, planID, m.cfg.ReadyLabel)
	}
	switch h.Phase {
	case PhaseCreated, PhaseSubmitted, PhaseDispatched:
		// actionable
	default:
		return nil, fmt.Errorf("%w: plan #%d is %s, not submittable", ErrValidation, planID, h.Phase)
	}

	token := dispatch.MintToken()
	if h.Phase == PhaseCreated {
		h.Phase = PhaseSubmitted
	}
	h.Dispatch = &DispatchRecord{At: m.now(), By: actor, RunToken: token}

	// Pin the body at submission so later edits are detectable: body
	// content is immutable once implementation starts.
	if body, err := m.GetBody(ctx, planID); err == nil {
		h.BodyDigest = digest(body)
	} else if !errors.Is(err, metablock.ErrNotFound) {
		return nil, err
	}

	if err := m.saveHeader(ctx, iss, h); err != nil {
		return nil, err
	}
	if err := m.upsertDispatchNotice(ctx, planID, actor, token); err != nil {
		return nil, err
	}
	return &SubmitResult{PlanID: planID, Token: token, Phase: h.Phase}, nil
}

// upsertDispatchNotice writes the dispatch-notice comment carrying the run
// token marker. An existing notice is updated in place so re-dispatch never
// appends uncontrolled duplicates.
func (m *Machine) upsertDispatchNotice(ctx context.Context, planID int, actor, token string) error {
	payload := fmt.Sprintf("Dispatched by %s at %s\n%s", actor, m.now().Format(time.RFC3339), dispatch.Marker(token))
	bodies, err := m.codec.Render(ctx, metablock.KindDispatch, payload, metablock.RenderOptions{Label: token})
	if err != nil {
		return err
	}
	comments, err := m.store.ListComments(ctx, planID)
	if err != nil {
		return fmt.Errorf("plan #%d: list comments: %w", planID, err)
	}
	for _, c := range comments {
		for _, blk := range metablock.Parse(c.Body) {
			if blk.Kind == metablock.KindDispatch {
				_, err := m.store.UpdateComment(ctx, c.ID, bodies[0])
				return err
			}
		}
	}
	_, err = m.store.CreateComment(ctx, planID, bodies[0])
	return err
}

// Advance moves the plan to a new phase, enforcing the transition table.
// ReadyForReview additionally requires every step complete.
func (m *Machine) Advance(ctx context.Context, planID int, to Phase) error {
	h, iss, err := m.loadHeader(ctx, planID)
	if err != nil {
		return err
	}
	if err := checkTransition(h.Phase, to); err != nil {
		return fmt.Errorf("plan #%d: %w", planID, err)
	}
	if to == PhaseReadyForReview && h.StepsDone != h.StepsTotal {
		return fmt.Errorf("%w: plan #%d has %d/%d steps complete", ErrValidation, planID, h.StepsDone, h.StepsTotal)
	}
	h.Phase = to
	h.Local = &LocalRecord{At: m.now(), Event: "advance:" + string(to)}
	return m.saveHeader(ctx, iss, h)
}

// RecordProgress sets the steps-completed counter. The counter is
// monotonically increasing and never exceeds the total fixed at creation.
// The first progress on a dispatched plan moves it to implementing. A
// status-snapshot comment is kept up to date alongside the header.
func (m *Machine) RecordProgress(ctx context.Context, planID, completed int) error {
	h, iss, err := m.loadHeader(ctx, planID)
	if err != nil {
		return err
	}
	if h.Phase.IsTerminal() {
		return fmt.Errorf("plan #%d: %w", planID, ErrTerminal)
	}
	if completed < h.StepsDone {
		return fmt.Errorf("%w: steps completed cannot decrease (%d -> %d)", ErrValidation, h.StepsDone, completed)
	}
	if completed > h.StepsTotal {
		return fmt.Errorf("%w: %d exceeds total steps %d", ErrValidation, completed, h.StepsTotal)
	}
	h.StepsDone = completed
	if h.Phase == PhaseDispatched && completed > 0 {
		h.Phase = PhaseImplementing
	}
	h.Local = &LocalRecord{At: m.now(), Event: "progress"}
	if err := m.saveHeader(ctx, iss, h); err != nil {
		return err
	}
	return m.upsertStatus(ctx, planID, h)
}

// upsertStatus maintains the human-visible status-snapshot comment.
func (m *Machine) upsertStatus(ctx context.Context, planID int, h *Header) error {
	payload := fmt.Sprintf("phase: %s\nsteps: %d/%d\nupdated: %s",
		h.Phase, h.StepsDone, h.StepsTotal, m.now().Format(time.RFC3339))
	bodies, err := m.codec.Render(ctx, metablock.KindStatus, payload, metablock.RenderOptions{})
	if err != nil {
		return err
	}
	comments, err := m.store.ListComments(ctx, planID)
	if err != nil {
		return err
	}
	for _, c := range comments {
		for _, blk := range metablock.Parse(c.Body) {
			if blk.Kind == metablock.KindStatus {
				_, err := m.store.UpdateComment(ctx, c.ID, bodies[0])
				return err
			}
		}
	}
	_, err = m.store.CreateComment(ctx, planID, bodies[0])
	return err
}

// Close moves the plan to the closed terminal phase with an immutable
// closing annotation, and closes the underlying issue. A plan already in a
// terminal phase accepts exactly one further mutation: appending the closing
// annotation if it has none yet. Everything else is rejected.
func (m *Machine) Close(ctx context.Context, planID int, note string) error {
	h, iss, err := m.loadHeader(ctx, planID)
	if err != nil {
		return err
	}
	if h.Phase.IsTerminal() {
		if h.ClosedNote != "" || note == "" {
			return fmt.Errorf("plan #%d: %w", planID, ErrTerminal)
		}
		h.ClosedNote = note
		return m.saveHeader(ctx, iss, h)
	}
	h.Phase = PhaseClosed
	h.ClosedNote = note
	if err := m.saveHeader(ctx, iss, h); err != nil {
		return err
	}
	closed := store.StateClosed
	if _, err := m.store.UpdateIssue(ctx, planID, store.IssueUpdate{State: &closed}); err != nil {
		return fmt.Errorf("plan #%d: close issue: %w", planID, err)
	}
	return nil
}

// BranchName returns the canonical branch name for a plan.
func (m *Machine) BranchName(planID int) string {
	return m.cfg.BranchPrefix + strconv.Itoa(planID)
}

// EnsureBranch returns the branch linked to the plan, creating and linking
// one only if none exists. Discovery always precedes creation, and racing
// callers are collapsed through a single-flight group keyed by plan id, so
// at most one creation ever succeeds; losers adopt the winner's branch.
// Discovery uses the store's native linking, never free-text search.
func (m *Machine) EnsureBranch(ctx context.Context, planID int) (string, bool, error) {
	type result struct {
		name    string
		created bool
	}
	v, err, _ := m.flight.Do("branch:"+strconv.Itoa(planID), func() (interface{}, error) {
		branches, err := m.store.ListLinkedBranches(ctx, planID)
		if err != nil {
			return nil, fmt.Errorf("plan #%d: discover branches: %w", planID, err)
		}
		if len(branches) > 0 {
			return result{name: branches[0].Name}, nil
		}
		lb, err := m.store.CreateLinkedBranch(ctx, planID, m.BranchName(planID), m.cfg.BaseBranch)
		if err != nil {
			// Lost a cross-process race: someone linked a branch between
			// our list and create. Adopt theirs.
			branches, listErr := m.store.ListLinkedBranches(ctx, planID)
			if listErr == nil && len(branches) > 0 {
				return result{name: branches[0].Name}, nil
			}
			return nil, fmt.Errorf("plan #%d: create branch: %w", planID, err)
		}
		return result{name: lb.Name, created: true}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := v.(result)
	return r.name, r.created, nil
}

// EnsureReviewPR discovers the pull request for the plan's linked branch
// and records it in the header. A branch, once linked, is linked for the
// plan's lifetime; the PR inherits that link implicitly, so no restating is
// needed. Returns store.ErrNotFound when no PR exists yet.
func (m *Machine) EnsureReviewPR(ctx context.Context, planID int) (int, error) {
	branch, _, err := m.EnsureBranch(ctx, planID)
	if err != nil {
		return 0, err
	}
	pr, err := m.store.PullRequestForBranch(ctx, branch)
	if err != nil {
		return 0, err
	}
	h, iss, err := m.loadHeader(ctx, planID)
	if err != nil {
		return 0, err
	}
	if h.ReviewPR == pr.Number {
		return pr.Number, nil
	}
	if h.Phase.IsTerminal() {
		return 0, fmt.Errorf("plan #%d: %w", planID, ErrTerminal)
	}
	if h.ReviewPR != 0 {
		h.PrevReviewPR = h.ReviewPR
	}
	h.ReviewPR = pr.Number
	if err := m.saveHeader(ctx, iss, h); err != nil {
		return 0, err
	}
	return pr.Number, nil
}

// GetBody reassembles the plan text from its body-block comments. Returns
// metablock.ErrNotFound (wrapped) when no body has been written.
func (m *Machine) GetBody(ctx context.Context, planID int) (string, error) {
	comments, err := m.store.ListComments(ctx, planID)
	if err != nil {
		return "", err
	}
	bodies := make([]string, len(comments))
	for i, c := range comments {
		bodies[i] = c.Body
	}
	payload, _, err := m.codec.Extract(bodies, metablock.KindBody)
	if err != nil {
		return "", fmt.Errorf("plan #%d body: %w", planID, err)
	}
	return payload, nil
}

// SetBody writes the plan text. Once implementation has started the body is
// immutable: a write that would change the pinned digest is rejected as a
// correctness violation rather than silently applied.
func (m *Machine) SetBody(ctx context.Context, planID int, text string) error {
	h, _, err := m.loadHeader(ctx, planID)
	if err != nil {
		return err
	}
	implementing := h.Phase == PhaseImplementing || h.Phase == PhaseReadyForReview || h.Phase.IsTerminal()
	if implementing && h.BodyDigest != "" && digest(text) != h.BodyDigest {
		return fmt.Errorf("%w: plan #%d body is immutable once implementation has started", ErrValidation, planID)
	}
	return m.writeBody(ctx, planID, text)
}

// writeBody replaces existing body-block comments with a fresh chunked
// rendering. Old chunks are blanked in place rather than deleted, then the
// new chunks are appended; extraction keys on block kind, not comment
// position, so reassembly is unaffected.
func (m *Machine) writeBody(ctx context.Context, planID int, text string) error {
	bodies, err := m.codec.Render(ctx, metablock.KindBody, text, metablock.RenderOptions{})
	if err != nil {
		return fmt.Errorf("plan #%d: render body: %w", planID, err)
	}
	comments, err := m.store.ListComments(ctx, planID)
	if err != nil {
		return err
	}
	var stale []int64
	for _, c := range comments {
		for _, blk := range metablock.Parse(c.Body) {
			if blk.Kind == metablock.KindBody {
				stale = append(stale, c.ID)
				break
			}
		}
	}
	for i, body := range bodies {
		if i < len(stale) {
			if _, err := m.store.UpdateComment(ctx, stale[i], body); err != nil {
				return fmt.Errorf("plan #%d: update body chunk: %w", planID, err)
			}
			continue
		}
		if _, err := m.store.CreateComment(ctx, planID, body); err != nil {
			return fmt.Errorf("plan #%d: write body chunk: %w", planID, err)
		}
	}
	for _, id := range stale[min(len(bodies), len(stale)):] {
		if _, err := m.store.UpdateComment(ctx, id, supersededNotice); err != nil {
			return fmt.Errorf("plan #%d: blank stale chunk: %w", planID, err)
		}
	}
	return nil
}

// Header returns a copy of the plan's current header.
func (m *Machine) Header(ctx context.Context, planID int) (*Header, error) {
	h, _, err := m.loadHeader(ctx, planID)
	return h, err
}

// supersededNotice replaces stale body chunks left over when a rewrite
// needs fewer chunks than before.
const supersededNotice = "_superseded by a later plan body revision_"

// digest pins body content for the immutability check.
func digest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
