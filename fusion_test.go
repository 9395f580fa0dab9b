package ragcore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ragcore/ragcore/selector"
	"github.com/ragcore/ragcore/store"
)

func TestFuseRRFCombinesAndRanksByWeightedScore(t *testing.T) {
	vec := []store.RetrievalResult{{ChunkID: 1}, {ChunkID: 2}, {ChunkID: 3}}
	fts := []store.RetrievalResult{{ChunkID: 3}, {ChunkID: 4}}

	fused := fuseRRF(vec, fts, 0.7, 0.3, 0)
	if len(fused) != 4 {
		t.Fatalf("expected 4 distinct chunks, got %d", len(fused))
	}
	// Chunk 3 appears in both result sets at a strong rank in each, so it
	// should outscore chunk 1 (vector-only, rank 1).
	var rank3, rank1 int
	for i, r := range fused {
		switch r.ChunkID {
		case 3:
			rank3 = i
		case 1:
			rank1 = i
		}
	}
	if rank3 >= rank1 {
		t.Fatalf("expected chunk 3 (fused) to rank above chunk 1 (vector-only), got ranks %d vs %d", rank3, rank1)
	}
}

func TestFuseRRFRespectsMaxResults(t *testing.T) {
	vec := []store.RetrievalResult{{ChunkID: 1}, {ChunkID: 2}, {ChunkID: 3}}
	fused := fuseRRF(vec, nil, 1, 0, 2)
	if len(fused) != 2 {
		t.Fatalf("expected 2 results, got %d", len(fused))
	}
}

func TestSanitizeFTSQueryStripsOperators(t *testing.T) {
	q := sanitizeFTSQuery(`What is the "rated power" of motor-X1 (v2)?`)
	for _, bad := range []string{"(", ")", "-", "\"\"", "?"} {
		if contains(q, bad) {
			t.Errorf("expected sanitized query to strip %q, got %q", bad, q)
		}
	}
	if q == "" {
		t.Fatal("expected non-empty sanitized query")
	}
}

func TestSanitizeFTSQueryEmptyFallsBackToRaw(t *testing.T) {
	if got := sanitizeFTSQuery("   "); got != "   " {
		t.Errorf("expected raw query returned for all-whitespace input, got %q", got)
	}
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
	return path
}

func TestRankByTagRelevancePromotesKeywordOverlap(t *testing.T) {
	dir := t.TempDir()
	motorDoc := writeTestFile(t, dir, "motor.txt", "motor voltage safety")
	weatherDoc := writeTestFile(t, dir, "weather.txt", "rainfall cloud forecast")

	results := []store.RetrievalResult{
		{ChunkID: 1, Path: weatherDoc, Content: "weather forecast discusses rainfall patterns and cloud cover"},
		{ChunkID: 2, Path: motorDoc, Content: "motor voltage safety requirements for industrial equipment"},
	}

	sel := selector.New(5)
	ranked := rankByTagRelevance(sel, "what is the motor voltage safety rating", results)
	if len(ranked) == 0 {
		t.Fatal("expected at least one ranked result")
	}
	if ranked[0].Path != motorDoc {
		t.Fatalf("expected the motor document to rank first by tag overlap, got %q", ranked[0].Path)
	}
}

func TestRankByTagRelevanceFallsBackWhenNothingScores(t *testing.T) {
	results := []store.RetrievalResult{
		{ChunkID: 1, Path: "/nonexistent/a.txt", Content: "zzz qqq xxx"},
	}
	sel := selector.New(5)
	ranked := rankByTagRelevance(sel, "motor voltage safety", results)
	if len(ranked) != len(results) {
		t.Fatalf("expected fallback to original results when nothing scores, got %d", len(ranked))
	}
}

func contains(s, sub string) bool {
	return len(sub) == 0 || (len(s) >= len(sub) && func() bool {
		for i := 0; i <= len(s)-len(sub); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	}())
}
