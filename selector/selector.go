package selector

import (
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// Selector ranks candidates against a target tag set, grounded on the
// original source's TagBasedDocumentSelector.
type Selector struct {
	defaultTopN int
}

// New constructs a Selector with a default top-N (5, matching the
// original's max_documents default) used when Options.TopN is zero.
func New(defaultTopN int) *Selector {
	if defaultTopN <= 0 {
		defaultTopN = 5
	}
	return &Selector{defaultTopN: defaultTopN}
}

type scoredCandidate struct {
	Result
	fresh time.Time
}

// Select scores every candidate against targetTags and returns the top-N,
// ties broken by freshness descending. An empty target tag set yields an
// empty selection; candidates whose file no longer exists are dropped with
// a warning rather than failing the call.
func (s *Selector) Select(targetTags []Tag, candidates []Candidate, opts Options) []Result {
	if len(targetTags) == 0 {
		slog.Warn("selector: no target tags provided, returning empty selection")
		return nil
	}

	topN := opts.TopN
	if topN <= 0 {
		topN = s.defaultTopN
	}

	target := make(map[string]Tag, len(targetTags))
	for _, t := range targetTags {
		target[strings.ToLower(t.Name)] = t
	}

	weights := opts.Weights
	if weights.Sum() == 0 {
		weights = DefaultWeights()
	}

	var scored []scoredCandidate
	for _, c := range candidates {
		if opts.Exclude[c.Path] {
			continue
		}
		if len(c.Tags) == 0 {
			continue
		}
		if !pathAccessible(c.Path) {
			slog.Warn("selector: candidate not accessible, dropping", "path", c.Path)
			continue
		}

		tScore, matching, perTag := tagScore(target, c.Tags)
		total := tScore * weights.Tag

		if opts.QueryEmbedding != nil && weights.Semantic > 0 {
			total += maxCosineSimilarity(opts.QueryEmbedding, c.ChunkEmbeddings) * weights.Semantic
		}

		if total <= 0 {
			continue
		}
		scored = append(scored, scoredCandidate{
			Result: Result{Path: c.Path, Score: total, MatchingTags: matching, TagScores: perTag},
			fresh:  c.LastAnalyzed,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].fresh.After(scored[j].fresh)
	})

	if topN > len(scored) {
		topN = len(scored)
	}
	out := make([]Result, 0, topN)
	for i := 0; i < topN; i++ {
		out = append(out, scored[i].Result)
	}

	slog.Info("selector: selection complete", "selected", len(out), "candidates", len(candidates))
	return out
}

func maxCosineSimilarity(query []float32, chunkEmbeddings [][]float32) float64 {
	var best float64
	for _, e := range chunkEmbeddings {
		if sim := cosineSimilarity(query, e); sim > best {
			best = sim
		}
	}
	return best
}

// pathAccessible reports whether path exists and is a regular file,
// mirroring the original's validate_selected_documents existence check.
func pathAccessible(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
