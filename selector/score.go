package selector

import (
	"math"
	"strings"
)

// tagScore computes the §4.5 tag-similarity score for one candidate against
// the target tag set, grounded on the original source's
// _calculate_document_score / _calculate_partial_match_score.
func tagScore(target map[string]Tag, docTags []Tag) (total float64, matching []string, perTag map[string]float64) {
	perTag = make(map[string]float64)

	docByName := make(map[string]Tag, len(docTags))
	for _, t := range docTags {
		docByName[strings.ToLower(t.Name)] = t
	}

	for name, targetTag := range target {
		if docTag, ok := docByName[name]; ok {
			score := (targetTag.Confidence + docTag.Confidence) / 2.0 * 1.2
			matching = append(matching, name)
			perTag[name] = score
			total += score
		}
	}

	targetList := make([]Tag, 0, len(target))
	for _, t := range target {
		targetList = append(targetList, t)
	}

	for _, docTag := range docTags {
		lower := strings.ToLower(docTag.Name)
		if _, ok := target[lower]; ok {
			continue
		}
		partial := partialMatchScore(docTag, targetList)
		if partial > 0 {
			perTag["partial_"+lower] = partial
			total += partial * 0.3
		}
	}

	if len(target) > 0 {
		total /= float64(len(target))
	}
	return total, matching, perTag
}

// partialMatchScore mirrors _calculate_partial_match_score: category match,
// substring match, and compound-tag word overlap, taking the max across
// every target tag.
func partialMatchScore(docTag Tag, targetTags []Tag) float64 {
	var max float64
	docLower := strings.ToLower(docTag.Name)

	for _, targetTag := range targetTags {
		targetLower := strings.ToLower(targetTag.Name)

		if docTag.Category != "" && targetTag.Category != "" &&
			strings.EqualFold(docTag.Category, targetTag.Category) {
			if s := minF(docTag.Confidence, targetTag.Confidence) * 0.5; s > max {
				max = s
			}
		}

		if strings.Contains(targetLower, docLower) || strings.Contains(docLower, targetLower) {
			if s := minF(docTag.Confidence, targetTag.Confidence) * 0.3; s > max {
				max = s
			}
		}

		docWords := wordSet(docLower)
		targetWords := wordSet(targetLower)
		if len(docWords) > 1 && len(targetWords) > 1 {
			common := intersectionSize(docWords, targetWords)
			if common > 0 {
				denom := len(docWords)
				if len(targetWords) > denom {
					denom = len(targetWords)
				}
				ratio := float64(common) / float64(denom)
				if s := minF(docTag.Confidence, targetTag.Confidence) * ratio * 0.4; s > max {
					max = s
				}
			}
		}
	}
	return max
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}

func intersectionSize(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors, returning 0 for mismatched or zero-length inputs.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
