package ragcore

import (
	"sort"
	"strings"

	"github.com/ragcore/ragcore/selector"
	"github.com/ragcore/ragcore/store"
)

const rrfK = 60 // RRF constant (standard value from literature)

// sanitizeFTSQuery strips sqlite FTS5 operator characters out of a raw
// user query and rebuilds it as an OR of the full phrase plus individual
// significant terms, so free-form chat questions never trip FTS5 syntax
// errors on punctuation.
func sanitizeFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		"\"", "", "*", "", "(", "", ")", "", "+", "", "-", "",
		"^", "", ":", "", "?", "", "[", "", "]", "", "{", "", "}", "",
		"!", "", ".", "", ",", "", ";", "",
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return query
	}

	var parts []string
	if len(words) > 1 {
		parts = append(parts, "\""+strings.Join(words, " ")+"\"")
	}
	for _, w := range words {
		if len(w) > 2 && !stopWords[strings.ToLower(w)] {
			parts = append(parts, w)
		}
	}
	if len(parts) == 0 {
		return strings.Join(words, " OR ")
	}
	return strings.Join(parts, " OR ")
}

// fuseRRF combines vector and full-text retrieval result sets with
// Reciprocal Rank Fusion: each set is ranked independently, then scores
// are combined as score = sum(weight_i / (k + rank_i)) per chunk.
func fuseRRF(vecResults, ftsResults []store.RetrievalResult, weightVec, weightFTS float64, maxResults int) []store.RetrievalResult {
	type fusedEntry struct {
		result store.RetrievalResult
		score  float64
	}
	fused := make(map[int64]*fusedEntry)

	for rank, r := range vecResults {
		entry, ok := fused[r.ChunkID]
		if !ok {
			entry = &fusedEntry{result: r}
			fused[r.ChunkID] = entry
		}
		entry.score += weightVec / float64(rrfK+rank+1)
	}
	for rank, r := range ftsResults {
		entry, ok := fused[r.ChunkID]
		if !ok {
			entry = &fusedEntry{result: r}
			fused[r.ChunkID] = entry
		}
		entry.score += weightFTS / float64(rrfK+rank+1)
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})
	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	results := make([]store.RetrievalResult, len(entries))
	for i, e := range entries {
		results[i] = e.result
		results[i].Score = e.score
	}
	return results
}

// keywordTags derives a cheap tag set from text's significant words, used as
// a stand-in for the analyzer's LLM-derived tags when running the relevance
// selector mid-chat, where a second model round-trip per query would be too
// costly.
func keywordTags(text string) []selector.Tag {
	words := significantWords(text)
	tags := make([]selector.Tag, 0, len(words))
	for w := range words {
		tags = append(tags, selector.Tag{Name: w, Category: "keyword", Confidence: 1.0})
	}
	return tags
}

// rankByTagRelevance groups fused retrieval results by source document and
// re-orders them by the relevance selector's tag-overlap score against the
// query's own keywords, per the selector's documented responsibility of
// ranking candidates ahead of final answer composition. Documents the
// selector scores at zero (no tag overlap) or can't confirm still exist on
// disk are dropped; if every document is dropped this way, the original
// RRF-fused order is kept rather than returning no context at all.
func rankByTagRelevance(sel *selector.Selector, query string, results []store.RetrievalResult) []store.RetrievalResult {
	if len(results) == 0 {
		return results
	}
	targetTags := keywordTags(query)
	if len(targetTags) == 0 {
		return results
	}

	chunksByPath := make(map[string][]store.RetrievalResult, len(results))
	order := make([]string, 0, len(results))
	contentByPath := make(map[string]*strings.Builder, len(results))
	for _, r := range results {
		if _, ok := chunksByPath[r.Path]; !ok {
			order = append(order, r.Path)
			contentByPath[r.Path] = &strings.Builder{}
		}
		chunksByPath[r.Path] = append(chunksByPath[r.Path], r)
		contentByPath[r.Path].WriteString(r.Content)
		contentByPath[r.Path].WriteString(" ")
	}

	candidates := make([]selector.Candidate, 0, len(order))
	for _, p := range order {
		candidates = append(candidates, selector.Candidate{
			Path: p,
			Tags: keywordTags(contentByPath[p].String()),
		})
	}

	ranked := sel.Select(targetTags, candidates, selector.Options{TopN: len(candidates), Weights: selector.DefaultWeights()})
	if len(ranked) == 0 {
		return results
	}

	rank := make(map[string]int, len(ranked))
	for i, r := range ranked {
		rank[r.Path] = i
	}
	keptPaths := make([]string, 0, len(rank))
	for _, p := range order {
		if _, ok := rank[p]; ok {
			keptPaths = append(keptPaths, p)
		}
	}
	sort.SliceStable(keptPaths, func(i, j int) bool { return rank[keptPaths[i]] < rank[keptPaths[j]] })

	out := make([]store.RetrievalResult, 0, len(results))
	for _, p := range keptPaths {
		out = append(out, chunksByPath[p]...)
	}
	return out
}
