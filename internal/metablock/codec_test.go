package metablock

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRenderExtractRoundTrip(t *testing.T) {
	c := NewCodec(64)

	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"single line", "hello world"},
		{"exactly at boundary", strings.Repeat("a", 64)},
		{"one over boundary", strings.Repeat("a", 65)},
		{"multi line chunked", strings.Repeat("line one\nline two\n", 30)},
		{"no trailing newline", strings.Repeat("abcdefg\n", 20) + "tail"},
		{"multibyte at split point", strings.Repeat("日本語", 100)},
		{"mixed width lines", "short\n" + strings.Repeat("x", 200) + "\nshort again\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bodies, err := c.Render(context.Background(), KindSession, tt.payload, RenderOptions{Label: "t"})
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			got, _, err := c.Extract(bodies, KindSession)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != tt.payload {
				t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestExtractShuffledChunks(t *testing.T) {
	c := NewCodec(32)
	payload := strings.Repeat("the quick brown fox\n", 40)

	bodies, err := c.Render(context.Background(), KindBody, payload, RenderOptions{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(bodies) < 3 {
		t.Fatalf("expected several chunks, got %d", len(bodies))
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		shuffled := append([]string(nil), bodies...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		got, _, err := c.Extract(shuffled, KindBody)
		if err != nil {
			t.Fatalf("trial %d: Extract: %v", trial, err)
		}
		if got != payload {
			t.Fatalf("trial %d: reassembly depends on input order", trial)
		}
	}
}

func TestNoMidLineSplit(t *testing.T) {
	c := NewCodec(50)
	payload := strings.Repeat("alpha beta gamma\n", 25)

	bodies, err := c.Render(context.Background(), KindBody, payload, RenderOptions{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for i, body := range bodies {
		blocks := Parse(body)
		if len(blocks) != 1 {
			t.Fatalf("body %d: expected 1 block, got %d", i, len(blocks))
		}
		chunk := blocks[0].Payload
		// Every line-accumulated chunk must end at a line boundary; only
		// the final chunk may lack the trailing newline.
		if i < len(bodies)-1 && !strings.HasSuffix(chunk, "\n") {
			t.Fatalf("chunk %d boundary falls mid-line: %q", i+1, chunk[len(chunk)-10:])
		}
	}
}

func TestMultibyteSplitRespectsRunes(t *testing.T) {
	c := NewCodec(10)
	// A single 300-byte line of 2-byte runes forces byte splitting.
	payload := strings.Repeat("éèê", 50)

	bodies, err := c.Render(context.Background(), KindSession, payload, RenderOptions{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	var rebuilt strings.Builder
	for i, body := range bodies {
		chunk := Parse(body)[0].Payload
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk %d split inside a multi-byte character", i+1)
		}
		rebuilt.WriteString(chunk)
	}
	if rebuilt.String() != payload {
		t.Fatal("byte-split chunks do not reassemble")
	}
}

func TestExtractNotFound(t *testing.T) {
	c := NewCodec(64)
	_, _, err := c.Extract([]string{"just prose", "more prose"}, KindHeader)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	// A present-but-empty block is found, not absent.
	bodies, err := c.Render(context.Background(), KindHeader, "", RenderOptions{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	got, _, err := c.Extract(bodies, KindHeader)
	if err != nil {
		t.Fatalf("Extract of empty payload: %v", err)
	}
	if got != "" {
		t.Fatalf("want empty payload, got %q", got)
	}
}

func TestExtractIncompleteSequence(t *testing.T) {
	c := NewCodec(32)
	payload := strings.Repeat("0123456789abcdef\n", 20)
	bodies, err := c.Render(context.Background(), KindSession, payload, RenderOptions{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(bodies) < 3 {
		t.Fatalf("need at least 3 chunks, got %d", len(bodies))
	}

	// Drop a middle chunk: extraction must refuse, never truncate.
	partial := append([]string{}, bodies[0])
	partial = append(partial, bodies[2:]...)
	_, _, err = c.Extract(partial, KindSession)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("want ErrIncomplete, got %v", err)
	}
}

func TestExtractIgnoresOtherKinds(t *testing.T) {
	c := NewCodec(1024)
	header, _ := c.Render(context.Background(), KindHeader, "schema: 2", RenderOptions{})
	status, _ := c.Render(context.Background(), KindStatus, "phase: implementing", RenderOptions{})

	got, _, err := c.Extract(append(header, status...), KindStatus)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "phase: implementing" {
		t.Fatalf("got %q", got)
	}
}

func TestCorrelationTokenScan(t *testing.T) {
	c := NewCodec(1024)
	payload := "run one tether-run:aabbccdd\nrun two tether-run:11223344\nrepeat tether-run:aabbccdd"
	bodies, err := c.Render(context.Background(), KindDispatch, payload, RenderOptions{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	_, tokens, err := c.Extract(bodies, KindDispatch)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []string{"aabbccdd", "11223344"}
	if len(tokens) != len(want) {
		t.Fatalf("got tokens %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("token order: got %v, want %v", tokens, want)
		}
	}
}

func TestRenderChunkLimit(t *testing.T) {
	c := NewCodec(8)
	payload := strings.Repeat("abcdefg\n", MaxChunks+10)
	_, err := c.Render(context.Background(), KindSession, payload, RenderOptions{})
	if err == nil {
		t.Fatal("expected chunk-limit error")
	}
	if !strings.Contains(err.Error(), "chunks") {
		t.Fatalf("error should name the offending size: %v", err)
	}
}

func TestHintsOnFirstChunkOnly(t *testing.T) {
	c := NewCodec(32)
	payload := strings.Repeat("data line here\n", 10)
	bodies, err := c.Render(context.Background(), KindSession, payload, RenderOptions{Hints: "v=1"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(bodies) < 2 {
		t.Fatalf("need chunked output, got %d bodies", len(bodies))
	}
	for i, body := range bodies {
		blk := Parse(body)[0]
		if i == 0 && blk.Hints != "v=1" {
			t.Fatalf("first chunk missing hints: %+v", blk)
		}
		if i > 0 && blk.Hints != "" {
			t.Fatalf("chunk %d carries hints", i+1)
		}
	}
}

func TestReplaceBlock(t *testing.T) {
	c := NewCodec(1024)
	doc := "Intro text.\n\n<!-- tether:header -->\nschema: 1\n<!-- /tether:header -->\n\nOutro text."

	out, err := c.ReplaceBlock(context.Background(), doc, KindHeader, "schema: 2", RenderOptions{})
	if err != nil {
		t.Fatalf("ReplaceBlock: %v", err)
	}
	got, _, err := c.Extract([]string{out}, KindHeader)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "schema: 2" {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(out, "Intro text.") || !strings.Contains(out, "Outro text.") {
		t.Fatal("surrounding prose was not preserved")
	}
	if strings.Contains(out, "schema: 1") {
		t.Fatal("old block content survived replacement")
	}

	// Appending into a doc with no block.
	out2, err := c.ReplaceBlock(context.Background(), "Just prose.", KindRoadmap, "| Step |", RenderOptions{})
	if err != nil {
		t.Fatalf("ReplaceBlock append: %v", err)
	}
	if _, _, err := c.Extract([]string{out2}, KindRoadmap); err != nil {
		t.Fatalf("appended block not extractable: %v", err)
	}
}
