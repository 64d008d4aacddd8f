package dispatch_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/tetherhq/tether/internal/dispatch"
	"github.com/tetherhq/tether/internal/dispatch/dispatchtest"
)

func TestMintTokenFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := dispatch.MintToken()
		if !pattern.MatchString(tok) {
			t.Fatalf("token %q is not 8 lowercase hex chars", tok)
		}
		if seen[tok] {
			t.Fatalf("token %q minted twice in 100 draws", tok)
		}
		seen[tok] = true
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	tok := dispatch.MintToken()
	marker := dispatch.Marker(tok)
	if marker != "tether-run:"+tok {
		t.Fatalf("marker = %q", marker)
	}
}

func TestAwaitRunFindsDelayedRun(t *testing.T) {
	runner := dispatchtest.New()
	runner.VisibleAfter = 2 // surface on the third poll

	c := dispatch.NewCoordinator(runner, 5*time.Second, time.Millisecond)
	ctx := context.Background()

	tok := dispatch.MintToken()
	if _, err := c.Start(ctx, 7, tok); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Done(7)

	run, err := c.AwaitRun(ctx, tok)
	if err != nil {
		t.Fatalf("AwaitRun: %v", err)
	}
	if run.Status != dispatch.RunQueued {
		t.Fatalf("run status = %q", run.Status)
	}
	if want := dispatch.Marker(tok); !regexp.MustCompile(regexp.QuoteMeta(want)).MatchString(run.DisplayName) {
		t.Fatalf("display name %q does not carry the token marker", run.DisplayName)
	}
}

func TestAwaitRunTimesOutAsNotFound(t *testing.T) {
	runner := dispatchtest.New()
	c := dispatch.NewCoordinator(runner, 50*time.Millisecond, 5*time.Millisecond)

	// Never dispatched: the poll window closes without a match. This is
	// failed-to-observe, reported as the distinguished not-found error.
	_, err := c.AwaitRun(context.Background(), "deadbeef")
	if !errors.Is(err, dispatch.ErrRunNotFound) {
		t.Fatalf("want ErrRunNotFound, got %v", err)
	}
}

func TestStartSupersedesInFlightDispatch(t *testing.T) {
	runner := dispatchtest.New()
	c := dispatch.NewCoordinator(runner, time.Second, time.Millisecond)
	ctx := context.Background()

	first, err := c.Start(ctx, 3, dispatch.MintToken())
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := c.Start(ctx, 3, dispatch.MintToken())
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer c.Done(3)

	select {
	case <-first.Done():
	default:
		t.Fatal("first dispatch context should be cancelled by the second Start")
	}
	if second.Err() != nil {
		t.Fatal("second dispatch context should still be live")
	}
	if runner.Dispatches != 2 {
		t.Fatalf("runner saw %d dispatches, want 2", runner.Dispatches)
	}

	// Dispatches for other plans are unaffected.
	other, err := c.Start(ctx, 4, dispatch.MintToken())
	if err != nil {
		t.Fatalf("Start plan 4: %v", err)
	}
	defer c.Done(4)
	if second.Err() != nil || other.Err() != nil {
		t.Fatal("unrelated plan dispatch cancelled a live context")
	}
}

func TestStartDispatchFailureReleasesSlot(t *testing.T) {
	runner := dispatchtest.New()
	runner.DispatchErr = errors.New("runner unavailable")
	c := dispatch.NewCoordinator(runner, time.Second, time.Millisecond)

	_, err := c.Start(context.Background(), 5, dispatch.MintToken())
	if err == nil {
		t.Fatal("expected dispatch failure")
	}

	// The caller retries with a fresh token; the failed slot must not
	// block it.
	runner.DispatchErr = nil
	runCtx, err := c.Start(context.Background(), 5, dispatch.MintToken())
	if err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	defer c.Done(5)
	if runCtx.Err() != nil {
		t.Fatal("retry context should be live")
	}
}
