// Package dispatch coordinates CI runs for plans. The runner has no native
// "plan identifier" field, so correlation is temporal and token-based: a
// short random token is minted at submission, embedded in the run's display
// name, and later located by a bounded poll.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tetherhq/tether/internal/debug"
	"github.com/tetherhq/tether/internal/telemetry"
)

// ErrRunNotFound is returned by Poll when no run matches the token, and by
// AwaitRun when the poll window closes without a match. A timed-out await is
// failed-to-observe, not failed-to-execute: the run may still be proceeding
// and the caller must reconcile manually.
var ErrRunNotFound = errors.New("dispatch: run not found")

// Run states reported by runners.
const (
	RunQueued     = "queued"
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
)

// TokenPrefix marks correlation tokens on the wire. The metablock extractor
// scans reassembled payloads for this pattern.
const TokenPrefix = "tether-run:"

// MintToken returns a fresh 8-char lowercase hex correlation token.
func MintToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Marker renders a token as its wire form, e.g. "tether-run:3fa92c1b".
func Marker(token string) string {
	return TokenPrefix + token
}

// Run is a runner-side run located by its correlation token.
type Run struct {
	ID          string
	DisplayName string
	Status      string // queued, in_progress, completed
	Conclusion  string // success, failure, cancelled (when completed)
}

// Runner is the CI/workflow runner interface tether consumes. Dispatch
// submits a run whose display metadata must contain the token; Poll locates
// it later, returning ErrRunNotFound while it has not yet surfaced.
type Runner interface {
	Dispatch(ctx context.Context, planID int, token string) error
	Poll(ctx context.Context, token string) (*Run, error)
}

// Coordinator enforces the one-live-dispatch-per-plan policy: starting a
// dispatch for a plan cancels the in-flight dispatch context for the same
// plan before proceeding (cancel-in-progress, keyed by plan id).
type Coordinator struct {
	runner Runner

	// PollTimeout bounds AwaitRun; PollInitialDelay seeds its backoff.
	PollTimeout      time.Duration
	PollInitialDelay time.Duration

	mu     sync.Mutex
	active map[int]context.CancelFunc
}

// NewCoordinator wraps a runner with cancel-in-progress dispatch semantics.
func NewCoordinator(runner Runner, pollTimeout, pollInitialDelay time.Duration) *Coordinator {
	return &Coordinator{
		runner:           runner,
		PollTimeout:      pollTimeout,
		PollInitialDelay: pollInitialDelay,
		active:           make(map[int]context.CancelFunc),
	}
}

// Start dispatches a run for the plan, superseding any in-flight dispatch
// for the same plan id. The returned context stays live until the next
// Start for this plan or until Done is called.
func (c *Coordinator) Start(ctx context.Context, planID int, token string) (context.Context, error) {
	runCtx := c.supersede(ctx, planID)
	telemetry.CountDispatch(ctx)
	debug.Logf("dispatch: plan %d token %s", planID, token)
	if err := c.runner.Dispatch(runCtx, planID, token); err != nil {
		c.Done(planID)
		return nil, fmt.Errorf("dispatch plan %d: %w", planID, err)
	}
	return runCtx, nil
}

// supersede cancels the prior in-flight context for planID and registers a
// fresh one derived from ctx.
func (c *Coordinator) supersede(ctx context.Context, planID int) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.active[planID]; ok {
		debug.Logf("dispatch: superseding in-flight dispatch for plan %d", planID)
		cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.active[planID] = cancel
	return runCtx
}

// Done releases the active dispatch slot for a plan.
func (c *Coordinator) Done(planID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.active[planID]; ok {
		cancel()
		delete(c.active, planID)
	}
}

// AwaitRun polls the runner until a run matching the token appears, backing
// off exponentially up to PollTimeout. Errors other than ErrRunNotFound
// abort immediately.
func (c *Coordinator) AwaitRun(ctx context.Context, token string) (*Run, error) {
	bo := backoff.NewExponentialBackOff()
	if c.PollInitialDelay > 0 {
		bo.InitialInterval = c.PollInitialDelay
	}
	bo.MaxElapsedTime = c.PollTimeout

	var run *Run
	op := func() error {
		r, err := c.runner.Poll(ctx, token)
		if err != nil {
			if errors.Is(err, ErrRunNotFound) {
				return err // retryable until the window closes
			}
			return backoff.Permanent(err)
		}
		run = r
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return nil, fmt.Errorf("no run observed for token %s within %s: %w", token, c.PollTimeout, ErrRunNotFound)
		}
		return nil, err
	}
	return run, nil
}
