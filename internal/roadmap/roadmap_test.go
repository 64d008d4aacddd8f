package roadmap

import (
	"errors"
	"strings"
	"testing"
)

const legacyTable = `## Phase 1: Foundation

| Step | Description | Evidence | Status |
| --- | --- | --- | --- |
| 1.1 | Wire codec | #12, PR #34 |  |
| 1.2 | Store client | #15 |  |
| 1.3 | Spike removed |  | skipped |

## Phase 2

| Step | Description | Evidence | Status |
| --- | --- | --- | --- |
| 2.1 | State machine |  | blocked |
| 2.2 | Roadmap engine |  |  |`

const currentTable = `## Phase 1: Foundation

| Step | Description | Plan | PR | Status | Notes |
| --- | --- | --- | --- | --- | --- |
| 1.1 | Wire codec | #12 | #34 |  |  |
| 1.2 | Store client | #15 |  |  |  |
| 1.3 | Spike removed |  |  | skipped |  |

## Phase 2

| Step | Description | Plan | PR | Status | Notes |
| --- | --- | --- | --- | --- | --- |
| 2.1 | State machine |  |  | blocked |  |
| 2.2 | Roadmap engine |  |  |  |  |`

func TestStatusInference(t *testing.T) {
	tests := []struct {
		name     string
		override Override
		plan     int
		pr       int
		want     Status
	}{
		{"no evidence", OverrideNone, 0, 0, StatusPending},
		{"plan only", OverrideNone, 12, 0, StatusInProgress},
		{"pr only", OverrideNone, 0, 34, StatusDone},
		{"plan and pr", OverrideNone, 12, 34, StatusDone},
		{"blocked wins over nothing", OverrideBlocked, 0, 0, StatusBlocked},
		{"blocked wins over plan", OverrideBlocked, 12, 0, StatusBlocked},
		{"blocked wins over pr", OverrideBlocked, 12, 34, StatusBlocked},
		{"skipped wins over nothing", OverrideSkipped, 0, 0, StatusSkipped},
		{"skipped wins over pr", OverrideSkipped, 0, 34, StatusSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Step{ID: "1.1", Override: tt.override, Plan: tt.plan, PR: tt.pr}
			if got := s.Status(); got != tt.want {
				t.Fatalf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseBothSchemasSameGraph(t *testing.T) {
	legacy, schema, err := Parse(legacyTable)
	if err != nil {
		t.Fatalf("parse legacy: %v", err)
	}
	if schema != SchemaLegacy {
		t.Fatalf("legacy table detected as schema %d", schema)
	}
	current, schema, err := Parse(currentTable)
	if err != nil {
		t.Fatalf("parse current: %v", err)
	}
	if schema != SchemaCurrent {
		t.Fatalf("current table detected as schema %d", schema)
	}

	for _, r := range []*Roadmap{legacy, current} {
		if len(r.Phases) != 2 {
			t.Fatalf("got %d phases, want 2", len(r.Phases))
		}
		if r.Phases[0].Title != "Foundation" {
			t.Fatalf("phase 1 title = %q", r.Phases[0].Title)
		}
		s := r.Step("1.1")
		if s == nil || s.Plan != 12 || s.PR != 34 {
			t.Fatalf("step 1.1 evidence = %+v", s)
		}
		if got := r.Step("1.2").Status(); got != StatusInProgress {
			t.Fatalf("1.2 status = %s", got)
		}
		if got := r.Step("1.3").Status(); got != StatusSkipped {
			t.Fatalf("1.3 status = %s", got)
		}
		if got := r.Step("2.1").Status(); got != StatusBlocked {
			t.Fatalf("2.1 status = %s", got)
		}
		if got := r.Step("2.2").Status(); got != StatusPending {
			t.Fatalf("2.2 status = %s", got)
		}
	}
}

func TestMigrationPreservesAndIsIdempotent(t *testing.T) {
	r1, _, err := Parse(legacyTable)
	if err != nil {
		t.Fatalf("parse legacy: %v", err)
	}
	once := Render(r1)

	r2, schema, err := Parse(once)
	if err != nil {
		t.Fatalf("parse migrated: %v", err)
	}
	if schema != SchemaCurrent {
		t.Fatalf("migrated table is schema %d", schema)
	}
	twice := Render(r2)
	if once != twice {
		t.Fatalf("migration is not idempotent:\n--- once ---\n%s\n--- twice ---\n%s", once, twice)
	}

	// Every evidence reference and override survives.
	if s := r2.Step("1.1"); s.Plan != 12 || s.PR != 34 {
		t.Fatalf("1.1 evidence lost in migration: %+v", s)
	}
	if s := r2.Step("1.3"); s.Override != OverrideSkipped {
		t.Fatalf("1.3 override lost in migration: %+v", s)
	}
	if s := r2.Step("2.1"); s.Override != OverrideBlocked {
		t.Fatalf("2.1 override lost in migration: %+v", s)
	}
}

func TestNextStepOrder(t *testing.T) {
	r, _, err := Parse(currentTable)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	id, ok := r.Next()
	if !ok || id != "2.2" {
		t.Fatalf("Next() = %q, %v; want 2.2 (1.1 done, 1.2 in progress, 1.3 skipped, 2.1 blocked)", id, ok)
	}
}

func TestDocumentOrderBeatsNumericOrder(t *testing.T) {
	table := strings.Join([]string{
		"## Phase 2: Hotfixes first",
		"",
		"| Step | Description | Plan | PR | Status | Notes |",
		"| --- | --- | --- | --- | --- | --- |",
		"| 2.1 | Patch the leak |  |  |  |  |",
		"",
		"## Phase 1",
		"",
		"| Step | Description | Plan | PR | Status | Notes |",
		"| --- | --- | --- | --- | --- | --- |",
		"| 1.1 | Planned work |  |  |  |  |",
	}, "\n")

	r, _, err := Parse(table)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Phases[0].Number != 2 || r.Phases[1].Number != 1 {
		t.Fatalf("phases reordered: %d then %d", r.Phases[0].Number, r.Phases[1].Number)
	}

	// Selection keys on position in the document, not on phase numbering.
	if id, ok := r.Next(); !ok || id != "2.1" {
		t.Fatalf("Next() = %q, %v; want 2.1", id, ok)
	}

	// Rendering preserves the document's order too.
	r2, _, err := Parse(Render(r))
	if err != nil {
		t.Fatalf("parse rendered: %v", err)
	}
	if r2.Phases[0].Number != 2 {
		t.Fatalf("render reordered phases: first is %d", r2.Phases[0].Number)
	}
}

func TestSetEvidenceValidation(t *testing.T) {
	r, _, err := Parse(currentTable)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// PR without the plan field present is a partial mutation: rejected,
	// and the step is untouched.
	err = r.SetEvidence("2.2", Evidence{PR: Ref(99)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	if s := r.Step("2.2"); s.PR != 0 {
		t.Fatalf("rejected mutation was partially applied: %+v", s)
	}

	// Explicitly-empty plan alongside the PR is allowed.
	if err := r.SetEvidence("2.2", Evidence{Plan: Ref(0), PR: Ref(99)}); err != nil {
		t.Fatalf("explicit empty plan should pass: %v", err)
	}
	if got := r.Step("2.2").Status(); got != StatusDone {
		t.Fatalf("2.2 status = %s, want done", got)
	}

	if err := r.SetEvidence("9.9", Evidence{Plan: Ref(1)}); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("want ErrStepNotFound, got %v", err)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"no table", "just prose\n"},
		{"bad column count", "| Step | Description | Plan |\n| --- | --- | --- |\n| 1.1 | x | #1 |"},
		{"bad step id", "| Step | Description | Plan | PR | Status | Notes |\n| --- | --- | --- | --- | --- | --- |\n| one | x |  |  |  |  |"},
		{"stored status word", "| Step | Description | Plan | PR | Status | Notes |\n| --- | --- | --- | --- | --- | --- |\n| 1.1 | x |  |  | done |  |"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Parse(tt.payload); !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestRenderEscapesNothingButRoundTrips(t *testing.T) {
	r := &Roadmap{Phases: []Phase{{
		Number: 1,
		Title:  "Only phase",
		Steps: []Step{
			{ID: "1.1", Description: "Do the thing", Plan: 7},
			{ID: "1.2", Description: "Follow-up", Notes: "waiting on review"},
		},
	}}}
	out := Render(r)
	r2, schema, err := Parse(out)
	if err != nil {
		t.Fatalf("parse rendered: %v", err)
	}
	if schema != SchemaCurrent {
		t.Fatalf("rendered schema = %d", schema)
	}
	if s := r2.Step("1.2"); s.Notes != "waiting on review" {
		t.Fatalf("notes lost: %+v", s)
	}
	if !strings.Contains(out, "## Phase 1: Only phase") {
		t.Fatalf("missing heading:\n%s", out)
	}
}
