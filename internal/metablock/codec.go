package metablock

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tetherhq/tether/internal/telemetry"
)

// Codec renders and extracts blocks against a fixed per-chunk payload
// ceiling. The ceiling is the Issue Store's per-comment capacity minus the
// margin reserved for fences and labels; the store client supplies it.
type Codec struct {
	MaxChunkBytes int
}

// NewCodec returns a codec for the given chunk ceiling. Non-positive values
// fall back to DefaultMaxChunkBytes.
func NewCodec(maxChunkBytes int) *Codec {
	if maxChunkBytes <= 0 {
		maxChunkBytes = DefaultMaxChunkBytes
	}
	return &Codec{MaxChunkBytes: maxChunkBytes}
}

// RenderOptions carries the optional block metadata.
type RenderOptions struct {
	Label string
	Hints string // emitted on the first chunk only
}

// Render serializes payload into one or more comment bodies, each holding
// one block. A payload within the chunk ceiling yields a single unchunked
// block; larger payloads are split by whole lines, falling back to a UTF-8
// boundary split only when a single line exceeds the ceiling on its own.
func (c *Codec) Render(ctx context.Context, kind Kind, payload string, opts RenderOptions) ([]string, error) {
	if !IsValidKind(kind) {
		return nil, fmt.Errorf("metablock: unknown kind %q", kind)
	}
	if len(payload) <= c.MaxChunkBytes {
		return []string{wrap(kind, 0, 0, opts.Label, opts.Hints, payload)}, nil
	}

	chunks, err := c.split(payload)
	if err != nil {
		return nil, err
	}
	if len(chunks) > MaxChunks {
		return nil, fmt.Errorf("metablock: payload of %d bytes needs %d chunks, limit is %d",
			len(payload), len(chunks), MaxChunks)
	}

	bodies := make([]string, len(chunks))
	for i, chunk := range chunks {
		hints := ""
		if i == 0 {
			hints = opts.Hints
		}
		bodies[i] = wrap(kind, i+1, len(chunks), opts.Label, hints, chunk)
	}
	telemetry.CountChunks(ctx, len(bodies))
	return bodies, nil
}

// split breaks payload into ceiling-sized pieces whose concatenation equals
// payload exactly. Splits fall on line boundaries; an overlong single line
// splits at a rune boundary instead.
func (c *Codec) split(payload string) ([]string, error) {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	rest := payload
	for len(rest) > 0 {
		// Take one line including its newline, or the unterminated tail.
		nl := strings.IndexByte(rest, '\n')
		var line string
		if nl >= 0 {
			line = rest[:nl+1]
			rest = rest[nl+1:]
		} else {
			line = rest
			rest = ""
		}

		if len(line) > c.MaxChunkBytes {
			// A single line exceeding the ceiling is split at rune
			// boundaries, each piece its own chunk.
			flush()
			pieces, err := c.splitLine(line)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, pieces...)
			continue
		}

		if cur.Len()+len(line) > c.MaxChunkBytes {
			flush()
		}
		cur.WriteString(line)
	}
	flush()
	return chunks, nil
}

// splitLine splits one overlong line at UTF-8 rune boundaries.
func (c *Codec) splitLine(line string) ([]string, error) {
	var pieces []string
	for len(line) > 0 {
		if len(line) <= c.MaxChunkBytes {
			pieces = append(pieces, line)
			break
		}
		cut := c.MaxChunkBytes
		// Back off until the cut does not land inside a multi-byte rune.
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			return nil, fmt.Errorf("metablock: single character larger than chunk limit of %d bytes", c.MaxChunkBytes)
		}
		pieces = append(pieces, line[:cut])
		line = line[cut:]
	}
	return pieces, nil
}

// Extract scans comment bodies for blocks of the requested kind, reassembles
// the payload, and returns any correlation tokens embedded in it. It returns
// ErrNotFound when no block of the kind exists, and ErrIncomplete when the
// chunk sequence cannot reproduce the original payload exactly.
func (c *Codec) Extract(bodies []string, kind Kind) (string, []string, error) {
	var blocks []Block
	for _, body := range bodies {
		for _, blk := range Parse(body) {
			if blk.Kind == kind {
				blocks = append(blocks, blk)
			}
		}
	}
	if len(blocks) == 0 {
		return "", nil, ErrNotFound
	}

	sortChunks(blocks)

	// A single unchunked block stands alone. Anything else must be a
	// complete 1..N sequence agreeing on N.
	if blocks[0].Total == 0 {
		if len(blocks) > 1 {
			return "", nil, fmt.Errorf("%w: unchunked block mixed with %d others", ErrIncomplete, len(blocks)-1)
		}
		payload := blocks[0].Payload
		return payload, scanTokens(payload), nil
	}

	total := blocks[0].Total
	if len(blocks) != total {
		return "", nil, fmt.Errorf("%w: have %d of %d chunks", ErrIncomplete, len(blocks), total)
	}
	var sb strings.Builder
	for i, blk := range blocks {
		if blk.Total != total || blk.Index != i+1 {
			return "", nil, fmt.Errorf("%w: chunk %d/%d out of sequence at position %d", ErrIncomplete, blk.Index, blk.Total, i+1)
		}
		sb.WriteString(blk.Payload)
	}
	payload := sb.String()
	return payload, scanTokens(payload), nil
}

// ReplaceBlock splices a single-chunk block of the given kind into doc,
// replacing an existing block of that kind in place, or appending one if
// none exists. Used for the header and roadmap blocks that live inside an
// issue body and must fit in one chunk.
func (c *Codec) ReplaceBlock(ctx context.Context, doc string, kind Kind, payload string, opts RenderOptions) (string, error) {
	bodies, err := c.Render(ctx, kind, payload, opts)
	if err != nil {
		return "", err
	}
	if len(bodies) != 1 {
		return "", fmt.Errorf("metablock: %s payload of %d bytes does not fit a single embedded block", kind, len(payload))
	}
	rendered := bodies[0]

	lines := strings.Split(doc, "\n")
	start, end := -1, -1
	for i := 0; i < len(lines); i++ {
		m := openPattern.FindStringSubmatch(lines[i])
		if m == nil || Kind(m[1]) != kind {
			continue
		}
		closer := closeFence(kind)
		for j := i + 1; j < len(lines); j++ {
			if lines[j] == closer {
				start, end = i, j
				break
			}
		}
		break
	}

	if start < 0 {
		if doc == "" {
			return rendered, nil
		}
		return strings.TrimRight(doc, "\n") + "\n\n" + rendered, nil
	}
	var out []string
	out = append(out, lines[:start]...)
	out = append(out, strings.Split(rendered, "\n")...)
	out = append(out, lines[end+1:]...)
	return strings.Join(out, "\n"), nil
}
