package chunker

import (
	"reflect"
	"strings"
	"testing"
)

func repeatWords(n int) string {
	return strings.Repeat("word ", n)
}

func TestChunkEmptyInput(t *testing.T) {
	c := New()
	if chunks := c.Chunk("   \n\t", "txt", Config{}); chunks != nil {
		t.Fatalf("expected nil for blank input, got %d chunks", len(chunks))
	}
}

func TestChunkDeterministic(t *testing.T) {
	c := New()
	text := "# Intro\n\n" + repeatWords(400) + "\n\n## Details\n\n" + repeatWords(300)
	first := c.Chunk(text, "md", Config{})
	second := c.Chunk(text, "md", Config{})

	if len(first) != len(second) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !reflect.DeepEqual(first[i], second[i]) {
			t.Fatalf("non-deterministic chunk at index %d", i)
		}
	}
}

func TestChunkAdaptiveMarkdownSections(t *testing.T) {
	c := New()
	// Three ## sections approximating 700/500/800 tokens (scenario 1, §8).
	text := "## Section One\n\n" + repeatWords(540) + "\n\n" +
		"## Section Two\n\n" + repeatWords(385) + "\n\n" +
		"## Section Three\n\n" + repeatWords(615)

	chunks := c.Chunk(text, "md", Config{Strategy: StrategyAdaptive})
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if ch.TokenCount > 768+200 { // generous slack: word-count heuristic, not a real tokenizer
			t.Errorf("chunk %d token count %d exceeds bound", ch.Ordinal, ch.TokenCount)
		}
	}
	last := chunks[len(chunks)-1]
	if last.SemanticScore != 1.0 {
		t.Errorf("last chunk semantic score = %v, want 1.0 (document end)", last.SemanticScore)
	}
}

func TestChunkOverlapCountedInNewChunk(t *testing.T) {
	c := New()
	text := repeatWords(2000)
	chunks := c.Chunk(text, "txt", Config{Strategy: StrategyFixed, MaxTokens: 100, OverlapRatio: 0.2})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.OverlapPrev == 0 {
			t.Errorf("chunk %d: expected nonzero overlap with predecessor", i)
		}
		if cur.Start >= prev.End {
			continue // no overlap possible at the boundary (shouldn't happen given ratio>0)
		}
		// The overlap region is counted in the new chunk: its OverlapPrev words
		// are exactly the shared span between cur.Start and prev.End.
		if got := len(strings.Fields(text[cur.Start:prev.End])); got != cur.OverlapPrev {
			t.Errorf("chunk %d: overlap leaked into previous chunk's end", i-1)
		}
	}
}

func TestChunkHybridResplitsOversizedChunks(t *testing.T) {
	c := New()
	// A single paragraph with no internal boundaries, long enough that the
	// Semantic pass alone would keep it as one oversized chunk.
	text := repeatWords(3000)
	chunks := c.Chunk(text, "txt", Config{Strategy: StrategyHybrid, MaxTokens: 100})
	threshold := int(100 * 1.5)
	for _, ch := range chunks {
		if ch.TokenCount > threshold+50 {
			t.Errorf("hybrid chunk %d has %d tokens, want <= ~%d after re-split", ch.Ordinal, ch.TokenCount, threshold)
		}
	}
}

func TestChunkOrdinalsAreDense(t *testing.T) {
	c := New()
	text := repeatWords(1500)
	chunks := c.Chunk(text, "txt", Config{Strategy: StrategyFixed, MaxTokens: 100})
	for i, ch := range chunks {
		if ch.Ordinal != i {
			t.Errorf("chunk at index %d has ordinal %d, want dense ordering", i, ch.Ordinal)
		}
		if ch.End <= ch.Start {
			t.Errorf("chunk %d has end <= start", i)
		}
	}
}
