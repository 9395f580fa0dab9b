// Package selector ranks candidate documents against a target tag set,
// optionally blended with semantic (embedding) similarity.
package selector

import "time"

// Tag is one AI-generated or user-assigned tag with a confidence score.
type Tag struct {
	Name       string
	Category   string
	Confidence float64
}

// Candidate is one document available for selection.
type Candidate struct {
	Path           string
	Tags           []Tag
	ChunkEmbeddings [][]float32 // optional, for semantic augmentation
	LastAnalyzed   time.Time
}

// Weights blends tag similarity with other signals. Must sum to 1.0 ± 0.01
// when semantic augmentation is enabled.
type Weights struct {
	Tag        float64
	Semantic   float64
	Content    float64
	Structural float64
	Freshness  float64
}

// DefaultWeights puts all weight on tag similarity (no semantic signal).
func DefaultWeights() Weights {
	return Weights{Tag: 1.0}
}

// Sum reports the total weight, used to validate the ±0.01 invariant.
func (w Weights) Sum() float64 {
	return w.Tag + w.Semantic + w.Content + w.Structural + w.Freshness
}

// Result is one scored, selected candidate.
type Result struct {
	Path         string
	Score        float64
	MatchingTags []string
	TagScores    map[string]float64
}

// Options configures one Select call.
type Options struct {
	TopN           int
	Exclude        map[string]bool
	Weights        Weights
	QueryEmbedding []float32 // enables semantic augmentation when non-nil
}
