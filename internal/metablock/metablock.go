// Package metablock implements the delimited block format Tether embeds in
// issue bodies and comments. A block is an HTML-comment fence pair that
// survives Markdown rendering, so the payload stays machine-readable while
// the surrounding comment stays human-readable.
//
// Oversized payloads are split into ordered chunks, one comment body per
// chunk. Extraction sorts by chunk index and reassembles the payload
// byte-for-byte, or reports that the block is absent or incomplete; it never
// returns a silently truncated hybrid.
package metablock

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Kind identifies the closed set of block kinds on the wire.
type Kind string

const (
	KindHeader   Kind = "header"   // plan header metadata (yaml)
	KindBody     Kind = "body"     // full plan text
	KindStatus   Kind = "status"   // progress snapshot
	KindDispatch Kind = "dispatch" // dispatch notice carrying a run token
	KindSession  Kind = "session"  // session transcript payload
	KindRoadmap  Kind = "roadmap"  // objective roadmap table
)

// validKinds guards against emitting kinds the extractor will never look for.
var validKinds = map[Kind]bool{
	KindHeader:   true,
	KindBody:     true,
	KindStatus:   true,
	KindDispatch: true,
	KindSession:  true,
	KindRoadmap:  true,
}

// IsValidKind reports whether k is a known block kind.
func IsValidKind(k Kind) bool {
	return validKinds[k]
}

// Format configuration constants.
const (
	// DefaultMaxChunkBytes is the per-chunk payload ceiling when the caller
	// does not supply one: GitHub's 65536-character comment limit minus the
	// margin reserved for the block delimiters and labels.
	DefaultMaxChunkBytes = 65000

	// MaxChunks bounds how many chunks a single payload may occupy. A
	// payload that needs more than this is rejected rather than scattered
	// across an unbounded comment thread.
	MaxChunks = 100
)

// Sentinel errors. Callers distinguish "absent" from "present but empty"
// and from "present but unusable" via errors.Is.
var (
	// ErrNotFound means no block of the requested kind exists in the input.
	ErrNotFound = errors.New("metablock: block not found")

	// ErrIncomplete means blocks of the requested kind exist but the chunk
	// sequence cannot be reassembled exactly (missing chunks, duplicate
	// indexes, or disagreeing totals).
	ErrIncomplete = errors.New("metablock: incomplete chunk sequence")
)

// Block is one delimited region parsed out of a comment body.
type Block struct {
	Kind    Kind
	Index   int // 1-based chunk index; 0 for unchunked blocks
	Total   int // total chunk count; 0 for unchunked blocks
	Label   string
	Hints   string
	Payload string
}

// openPattern matches a block opening fence:
//
//	<!-- tether:kind -->
//	<!-- tether:kind 2/5 -->
//	<!-- tether:kind 1/5 label="x" hints="y" -->
var openPattern = regexp.MustCompile(`^<!-- tether:([a-z]+)(?: (\d+)/(\d+))?(?: label="([^"]*)")?(?: hints="([^"]*)")? -->$`)

// tokenPattern matches embedded correlation identifiers. Tokens are minted
// by the dispatch package (see dispatch.MintToken) as 8 lowercase hex chars.
var tokenPattern = regexp.MustCompile(`tether-run:([0-9a-f]{8})\b`)

// closeFence returns the closing fence line for a kind.
func closeFence(kind Kind) string {
	return fmt.Sprintf("<!-- /tether:%s -->", kind)
}

// openFence returns the opening fence line for one chunk.
func openFence(kind Kind, index, total int, label, hints string) string {
	var b strings.Builder
	b.WriteString("<!-- tether:")
	b.WriteString(string(kind))
	if total > 0 {
		fmt.Fprintf(&b, " %d/%d", index, total)
	}
	if label != "" {
		fmt.Fprintf(&b, " label=%q", label)
	}
	if hints != "" {
		fmt.Fprintf(&b, " hints=%q", hints)
	}
	b.WriteString(" -->")
	return b.String()
}

// Wrap renders a single already-sized chunk as a complete comment body.
func wrap(kind Kind, index, total int, label, hints, payload string) string {
	return openFence(kind, index, total, label, hints) + "\n" + payload + "\n" + closeFence(kind)
}

// Parse scans one comment body for blocks of every kind, in document order.
// Malformed fences (an opener with no closer) are ignored rather than
// guessed at.
func Parse(body string) []Block {
	var blocks []Block
	lines := strings.Split(body, "\n")
	for i := 0; i < len(lines); i++ {
		m := openPattern.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		kind := Kind(m[1])
		closer := closeFence(kind)
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if lines[j] == closer {
				end = j
				break
			}
		}
		if end < 0 {
			continue
		}
		blk := Block{
			Kind:    kind,
			Label:   m[4],
			Hints:   m[5],
			Payload: strings.Join(lines[i+1:end], "\n"),
		}
		if m[2] != "" {
			fmt.Sscanf(m[2], "%d", &blk.Index)
			fmt.Sscanf(m[3], "%d", &blk.Total)
		}
		blocks = append(blocks, blk)
		i = end
	}
	return blocks
}

// scanTokens returns correlation tokens embedded in payload, deduplicated,
// in first-seen order.
func scanTokens(payload string) []string {
	matches := tokenPattern.FindAllStringSubmatch(payload, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var tokens []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			tokens = append(tokens, m[1])
		}
	}
	return tokens
}

// sortChunks orders blocks for reassembly: unchunked blocks first, then by
// ascending chunk index. Input comment order is irrelevant.
func sortChunks(blocks []Block) {
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].Index < blocks[j].Index
	})
}
