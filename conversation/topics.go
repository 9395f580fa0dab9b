package conversation

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "i": true, "you": true, "he": true, "she": true,
	"it": true, "we": true, "they": true, "me": true, "him": true, "her": true,
	"us": true, "them": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true,
	"cannot": true, "this": true, "that": true, "these": true, "those": true,
}

var wordPattern = regexp.MustCompile(`[a-zA-Z]{3,}`)

// extractKeywords returns up to the 10 most frequent non-stopword terms in
// text, each repeated once per occurrence (multiset semantics) rather than
// deduplicated, matching the topic keyword model's multiset field.
func extractKeywords(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	counts := make(map[string]int)
	var order []string
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 10 {
		order = order[:10]
	}
	keywords := make([]string, 0, len(order))
	for _, w := range order {
		for i := 0; i < counts[w]; i++ {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

// topicName derives a human-readable label from the first three distinct
// keywords, mirroring the original's " ".join(keywords[:3]).
func topicName(keywords []string) string {
	seen := make(map[string]bool)
	var parts []string
	for _, k := range keywords {
		if seen[k] {
			continue
		}
		seen[k] = true
		parts = append(parts, k)
		if len(parts) == 3 {
			break
		}
	}
	return strings.Join(parts, " ")
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors; mismatched lengths or a zero vector yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// findSimilarTopic returns the topic with the highest cosine similarity to
// embedding, if that similarity is at least threshold.
func findSimilarTopic(embedding []float32, topics []ConversationTopic, threshold float64) (ConversationTopic, float64, bool) {
	var best ConversationTopic
	bestSim := 0.0
	found := false
	for _, t := range topics {
		if len(t.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(embedding, t.Embedding)
		if sim > bestSim {
			bestSim = sim
			best = t
			found = true
		}
	}
	if !found || bestSim < threshold {
		return ConversationTopic{}, 0, false
	}
	return best, bestSim, true
}
