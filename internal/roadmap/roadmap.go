// Package roadmap implements the objective roadmap: an ordered graph of
// phases and steps embedded in the objective's body as a Markdown table.
//
// A step's status is never stored. It is a pure function of the step's
// evidence references and the two explicit override states, computed by
// Step.Status — keeping a stored status field would let the two
// representations drift, which is the bug class this package exists to
// prevent.
package roadmap

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrValidation marks malformed tables and rejected mutations. No state is
// changed when a call returns one.
var ErrValidation = errors.New("roadmap: validation failed")

// ErrStepNotFound is returned when a step id does not exist in the roadmap.
var ErrStepNotFound = errors.New("roadmap: step not found")

// Override is an explicit terminal status that cannot be inferred from
// evidence. Only blocked and skipped exist; everything else is computed.
type Override string

const (
	OverrideNone    Override = ""
	OverrideBlocked Override = "blocked"
	OverrideSkipped Override = "skipped"
)

// Status is a step's effective status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
	StatusSkipped    Status = "skipped"
)

// Schema identifies a roadmap table layout.
type Schema int

const (
	// SchemaLegacy is the older 4-column layout with a combined evidence
	// column: | Step | Description | Evidence | Status |
	SchemaLegacy Schema = 1

	// SchemaCurrent separates plan and PR evidence and adds notes:
	// | Step | Description | Plan | PR | Status | Notes |
	SchemaCurrent Schema = 2
)

// Step is one unit of roadmap work. Plan and PR are evidence references
// (issue and pull request numbers; zero means none). There is deliberately
// no status field.
type Step struct {
	ID          string // phase-scoped, e.g. "2.1"
	Description string
	Plan        int
	PR          int
	Override    Override
	Notes       string
}

// Status computes the step's effective status. Priority: explicit override,
// then PR evidence (done), then plan evidence (in progress), then pending.
func (s *Step) Status() Status {
	switch s.Override {
	case OverrideBlocked:
		return StatusBlocked
	case OverrideSkipped:
		return StatusSkipped
	}
	if s.PR != 0 {
		return StatusDone
	}
	if s.Plan != 0 {
		return StatusInProgress
	}
	return StatusPending
}

// Phase is an ordered group of steps.
type Phase struct {
	Number int
	Title  string
	Steps  []Step
}

// Roadmap is the ordered phase/step graph. Dependency is positional: a
// step's eligibility follows from its position in document order.
type Roadmap struct {
	Phases []Phase
}

// Step returns the step with the given id, or nil.
func (r *Roadmap) Step(id string) *Step {
	for pi := range r.Phases {
		for si := range r.Phases[pi].Steps {
			if r.Phases[pi].Steps[si].ID == id {
				return &r.Phases[pi].Steps[si]
			}
		}
	}
	return nil
}

// Next returns the id of the first step, in document order, whose effective
// status is pending. ok is false when no step is pending.
func (r *Roadmap) Next() (id string, ok bool) {
	for _, p := range r.Phases {
		for i := range p.Steps {
			if p.Steps[i].Status() == StatusPending {
				return p.Steps[i].ID, true
			}
		}
	}
	return "", false
}

// Complete reports whether the objective is eligible for closure: every
// step is done or skipped. Blocked and in-progress steps keep the
// objective open.
func (r *Roadmap) Complete() bool {
	for _, p := range r.Phases {
		for i := range p.Steps {
			switch p.Steps[i].Status() {
			case StatusDone, StatusSkipped:
			default:
				return false
			}
		}
	}
	return true
}

var (
	phaseHeadingPattern = regexp.MustCompile(`^##\s+Phase\s+(\d+)(?::\s*(.*))?\s*$`)
	stepIDPattern       = regexp.MustCompile(`^(\d+)\.(\d+)$`)
	planRefPattern      = regexp.MustCompile(`(?:^|[^A-Za-z])#(\d+)`)
	prRefPattern        = regexp.MustCompile(`PR\s*#(\d+)`)
)

// Parse decodes a roadmap payload in either schema, producing the same
// logical graph regardless of which layout is on disk. Malformed tables are
// validation errors, never best-effort guesses.
func Parse(payload string) (*Roadmap, Schema, error) {
	r := &Roadmap{}
	schema := SchemaCurrent
	sawTable := false
	titles := map[int]string{}
	var expectCols int

	for ln, line := range strings.Split(payload, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := phaseHeadingPattern.FindStringSubmatch(trimmed); m != nil {
			n, _ := strconv.Atoi(m[1])
			titles[n] = strings.TrimSpace(m[2])
			continue
		}
		if !strings.HasPrefix(trimmed, "|") {
			continue
		}
		cells := splitRow(trimmed)
		if len(cells) == 0 {
			continue
		}
		if isSeparatorRow(cells) {
			continue
		}
		if strings.EqualFold(cells[0], "Step") {
			switch len(cells) {
			case 4:
				schema = SchemaLegacy
			case 6:
				schema = SchemaCurrent
			default:
				return nil, 0, fmt.Errorf("%w: line %d: table has %d columns, want 4 or 6", ErrValidation, ln+1, len(cells))
			}
			expectCols = len(cells)
			sawTable = true
			continue
		}
		if !sawTable {
			return nil, 0, fmt.Errorf("%w: line %d: data row before table header", ErrValidation, ln+1)
		}
		if len(cells) != expectCols {
			return nil, 0, fmt.Errorf("%w: line %d: row has %d cells, want %d", ErrValidation, ln+1, len(cells), expectCols)
		}
		step, phaseNum, err := parseRow(cells, schema, ln+1)
		if err != nil {
			return nil, 0, err
		}
		r.appendStep(phaseNum, step)
	}
	if !sawTable {
		return nil, 0, fmt.Errorf("%w: no roadmap table present", ErrValidation)
	}
	for i := range r.Phases {
		if t, ok := titles[r.Phases[i].Number]; ok {
			r.Phases[i].Title = t
		}
	}
	return r, schema, nil
}

// appendStep attaches a step to its phase, creating the phase at its first
// appearance. Phases keep document order, not numeric order: scheduling is
// positional, and renumbering a document must never reorder it.
func (r *Roadmap) appendStep(phaseNum int, step Step) {
	for i := range r.Phases {
		if r.Phases[i].Number == phaseNum {
			r.Phases[i].Steps = append(r.Phases[i].Steps, step)
			return
		}
	}
	r.Phases = append(r.Phases, Phase{Number: phaseNum, Steps: []Step{step}})
}

// parseRow decodes one data row into a step. The step id's integer prefix
// names its phase.
func parseRow(cells []string, schema Schema, line int) (Step, int, error) {
	idm := stepIDPattern.FindStringSubmatch(cells[0])
	if idm == nil {
		return Step{}, 0, fmt.Errorf("%w: line %d: step id %q is not phase.step", ErrValidation, line, cells[0])
	}
	phaseNum, _ := strconv.Atoi(idm[1])
	step := Step{ID: cells[0], Description: cells[1]}

	var statusCell string
	switch schema {
	case SchemaLegacy:
		// Combined evidence cell: "#12", "PR #34", or "#12, PR #34".
		step.Plan, step.PR = parseEvidence(cells[2])
		statusCell = cells[3]
	case SchemaCurrent:
		step.Plan = parseRef(cells[2])
		step.PR = parseRef(cells[3])
		statusCell = cells[4]
		step.Notes = cells[5]
	}

	switch strings.ToLower(strings.TrimSpace(statusCell)) {
	case "":
		step.Override = OverrideNone
	case string(OverrideBlocked):
		step.Override = OverrideBlocked
	case string(OverrideSkipped):
		step.Override = OverrideSkipped
	default:
		return Step{}, 0, fmt.Errorf("%w: line %d: status %q is not an override (only blocked/skipped are stored)", ErrValidation, line, statusCell)
	}
	return step, phaseNum, nil
}

// parseEvidence extracts plan and PR references from a combined legacy
// evidence cell.
func parseEvidence(cell string) (planRef, prRef int) {
	if m := prRefPattern.FindStringSubmatch(cell); m != nil {
		prRef, _ = strconv.Atoi(m[1])
		cell = prRefPattern.ReplaceAllString(cell, "")
	}
	planRef = parseRef(cell)
	return planRef, prRef
}

// parseRef extracts a single "#N" reference, or zero.
func parseRef(cell string) int {
	m := planRefPattern.FindStringSubmatch(" " + cell)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// splitRow splits a "|"-delimited table row into trimmed cells.
func splitRow(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

// isSeparatorRow reports whether every cell is a run of dashes/colons.
func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if c == "" {
			return false
		}
		for _, ch := range c {
			if ch != '-' && ch != ':' {
				return false
			}
		}
	}
	return true
}

// Render emits the roadmap in the current schema's canonical layout.
// Rendering then re-parsing yields the same graph, and rendering is a fixed
// point: Render(Parse(Render(x))) == Render(x), which is what makes
// migration idempotent.
func Render(r *Roadmap) string {
	var b strings.Builder
	for pi, p := range r.Phases {
		if pi > 0 {
			b.WriteString("\n")
		}
		if p.Title != "" {
			fmt.Fprintf(&b, "## Phase %d: %s\n\n", p.Number, p.Title)
		} else {
			fmt.Fprintf(&b, "## Phase %d\n\n", p.Number)
		}
		b.WriteString("| Step | Description | Plan | PR | Status | Notes |\n")
		b.WriteString("| --- | --- | --- | --- | --- | --- |\n")
		for _, s := range p.Steps {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				s.ID, s.Description, formatRef(s.Plan), formatRef(s.PR), string(s.Override), s.Notes)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatRef renders an evidence reference cell.
func formatRef(n int) string {
	if n == 0 {
		return ""
	}
	return "#" + strconv.Itoa(n)
}
