package optimizer

import (
	"context"
	"strings"
	"testing"

	"github.com/ragcore/ragcore/chunker"
)

func makeChunks(n int, size int) []chunker.Chunk {
	out := make([]chunker.Chunk, n)
	for i := 0; i < n; i++ {
		out[i] = chunker.Chunk{
			Ordinal:       i,
			Start:         i * size,
			End:           i*size + size,
			TokenCount:    100,
			Kind:          chunker.ChunkParagraph,
			SemanticScore: 0.9,
			Content:       strings.Repeat("word ", size/5),
		}
	}
	return out
}

func TestOptimizeSpeedPreservesOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategySpeed
	o := New(cfg)

	chunks := makeChunks(20, 50)
	out, metrics := o.Optimize(context.Background(), chunks)

	if len(out) != len(chunks) {
		t.Fatalf("got %d chunks, want %d", len(out), len(chunks))
	}
	for i, c := range out {
		if c.Ordinal != i {
			t.Errorf("chunk at index %d has ordinal %d, order not preserved", i, c.Ordinal)
		}
		if c.Metadata["optimization_strategy"] != "speed" {
			t.Errorf("chunk %d missing speed metadata: %v", i, c.Metadata)
		}
	}
	if metrics.TotalChunks != len(chunks) {
		t.Errorf("metrics.TotalChunks = %d, want %d", metrics.TotalChunks, len(chunks))
	}
}

func TestOptimizeCacheHitsOnRepeatedContent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategySpeed
	o := New(cfg)

	chunk := chunker.Chunk{Kind: chunker.ChunkParagraph, TokenCount: 10, Content: "identical content", SemanticScore: 1.0}
	chunks := []chunker.Chunk{chunk, chunk, chunk}

	_, metrics := o.Optimize(context.Background(), chunks)
	if metrics.CacheHitRatio <= 0 {
		t.Errorf("expected some cache hits for repeated content, got ratio %v", metrics.CacheHitRatio)
	}
}

func TestOptimizeMemoryCompressesUnderPressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyMemory
	cfg.MemoryPressureThreshold = 0.0001 // force "high pressure" branch: heap/sys ratio always exceeds this
	o := New(cfg)

	chunks := []chunker.Chunk{{Kind: chunker.ChunkParagraph, TokenCount: 5, Content: "a   b\n\n\n\nc", SemanticScore: 0.5}}
	out, _ := o.Optimize(context.Background(), chunks)

	if out[0].Metadata["compressed"] != "true" {
		t.Errorf("expected compressed metadata under forced memory pressure, got %v", out[0].Metadata)
	}
	if strings.Contains(out[0].Content, "   ") {
		t.Errorf("expected whitespace collapsed, got %q", out[0].Content)
	}
}

func TestOptimizeBalancedHandlesEmptyInput(t *testing.T) {
	o := New(DefaultConfig())
	out, metrics := o.Optimize(context.Background(), nil)
	if len(out) != 0 {
		t.Errorf("expected no chunks, got %d", len(out))
	}
	if metrics.TotalChunks != 0 {
		t.Errorf("expected zero total, got %d", metrics.TotalChunks)
	}
}

func TestPerformanceSummaryReportsNoDataInitially(t *testing.T) {
	o := New(DefaultConfig())
	summary := o.PerformanceSummary()
	if summary["status"] != "no_data" {
		t.Errorf("expected no_data status before any run, got %v", summary)
	}
}
