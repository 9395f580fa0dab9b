package chunker

import "strings"

// Chunker partitions cleaned text into chunks. It carries no mutable state:
// given identical input (text, kind, config) it always produces identical
// output — no randomness, no wall-clock dependence.
type Chunker struct{}

// New returns a Chunker. There is one instance per composition root; it is
// safe for concurrent use since it holds no state.
func New() *Chunker { return &Chunker{} }

// Chunk partitions text (already extracted and cleaned) into chunks
// according to cfg.Strategy (default Adaptive), dispatching per-kind
// defaults for target size and overlap ratio. Empty input yields an empty,
// not nil-error, sequence.
func (c *Chunker) Chunk(text string, docKind string, cfg Config) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	r := resolve(docKind, cfg)

	var chunks []Chunk
	switch r.Strategy {
	case StrategyFixed:
		chunks = segmentFixed(text, r)
	case StrategySemantic:
		chunks = segmentSemantic(text, r)
	case StrategyHybrid:
		chunks = segmentHybrid(text, r)
	default: // StrategyAdaptive and unknown values fall back to Adaptive
		chunks = segmentAdaptive(text, r)
	}

	words := tokenizeWords(text)
	applyOverlap(text, words, chunks, r.OverlapRatio)
	assignOrdinals(chunks)
	return chunks
}

func assignOrdinals(chunks []Chunk) {
	for i := range chunks {
		chunks[i].Ordinal = i
	}
}

// semanticScoreAt scores how cleanly a chunk ends at byte offset end: 1.0 at
// a paragraph break or document end, 0.8 at a single newline, 0.6 otherwise.
func semanticScoreAt(text string, end int) float64 {
	if end >= len(text) {
		return 1.0
	}
	if end >= 2 && text[end-2] == '\n' && text[end-1] == '\n' {
		return 1.0
	}
	if end >= 1 && text[end-1] == '\n' {
		return 0.8
	}
	return 0.6
}

func segmentFixed(text string, r resolved) []Chunk {
	words := tokenizeWords(text)
	cuts := fixedCuts(words, len(text), r.MaxTokens)
	return buildChunks(text, words, cuts, ChunkFixed)
}

func segmentSemantic(text string, r resolved) []Chunk {
	words := tokenizeWords(text)
	boundaries := boundarySet(text, "semantic")
	cuts := segmentByBoundaries(text, words, boundaries, r.MaxTokens)
	return buildChunks(text, words, cuts, ChunkParagraph)
}

func segmentAdaptive(text string, r resolved) []Chunk {
	words := tokenizeWords(text)
	scope := adaptiveScope(r.Kind)
	defaultType := ChunkParagraph
	switch scope {
	case "code":
		defaultType = ChunkCode
	case "markdown":
		defaultType = ChunkSection
	}
	boundaries := boundarySet(text, scope)
	cuts := segmentByBoundaries(text, words, boundaries, r.MaxTokens)
	return buildChunks(text, words, cuts, defaultType)
}

// segmentHybrid runs Semantic first; any chunk exceeding 1.5x target is
// re-split with Adaptive and its pieces are marked ChunkSplit.
func segmentHybrid(text string, r resolved) []Chunk {
	base := segmentSemantic(text, r)
	threshold := int(float64(r.MaxTokens) * 1.5)

	var out []Chunk
	for _, ch := range base {
		if ch.TokenCount <= threshold {
			out = append(out, ch)
			continue
		}
		sub := text[ch.Start:ch.End]
		subWords := tokenizeWords(sub)
		scope := adaptiveScope(r.Kind)
		boundaries := boundarySet(sub, scope)
		cuts := segmentByBoundaries(sub, subWords, boundaries, r.MaxTokens)
		pieces := buildChunks(sub, subWords, cuts, ChunkSplit)
		for i := range pieces {
			pieces[i].Start += ch.Start
			pieces[i].End += ch.Start
			pieces[i].Kind = ChunkSplit
			pieces[i].SemanticScore = semanticScoreAt(text, pieces[i].End)
		}
		out = append(out, pieces...)
	}
	return out
}

// buildChunks materialises Chunks from a sorted set of cut offsets.
func buildChunks(text string, words []word, cuts []int, defaultType ChunkType) []Chunk {
	var chunks []Chunk
	start := 0
	for _, end := range cuts {
		if end <= start {
			continue
		}
		content := text[start:end]
		n := 0
		for _, w := range words {
			if w.start >= start && w.end <= end {
				n++
			}
		}
		chunks = append(chunks, Chunk{
			Start:         start,
			End:           end,
			TokenCount:    tokensFor(n),
			Kind:          classify(content, defaultType),
			SemanticScore: semanticScoreAt(text, end),
			Content:       content,
		})
		start = end
	}
	return chunks
}

func classify(content string, defaultType ChunkType) ChunkType {
	trimmed := strings.TrimSpace(content)
	if tableRow.MatchString(trimmed) {
		return ChunkTable
	}
	if sectionHeader.MatchString(trimmed) {
		return ChunkSection
	}
	return defaultType
}

// fixedCuts splits words into groups, ignoring semantic boundaries entirely.
// Each group closes at the first word whose estimated token count reaches
// maxTokens, so a group can pass maxTokens by the estimate's rounding.
func fixedCuts(words []word, textLen int, maxTokens int) []int {
	var cuts []int
	count := 0
	for _, w := range words {
		count++
		if tokensFor(count) >= maxTokens {
			cuts = append(cuts, w.end)
			count = 0
		}
	}
	if len(cuts) == 0 || cuts[len(cuts)-1] != textLen {
		cuts = append(cuts, textLen)
	}
	return cuts
}

// segmentByBoundaries walks words from the start of the text, and for every
// run whose estimated token count would reach maxTokens, cuts at the
// nearest boundary at or after that point — never mid-boundary. If no
// boundary remains at or after that point, it cuts at the last boundary
// inside the run before that point, or at the point itself if there is none.
func segmentByBoundaries(text string, words []word, boundaries []int, maxTokens int) []int {
	if len(words) == 0 {
		return []int{len(text)}
	}
	var cuts []int
	wi := 0
	bi := 0
	for wi < len(words) {
		count := 0
		target := len(text)
		j := wi
		for ; j < len(words); j++ {
			count++
			if tokensFor(count) >= maxTokens {
				target = words[j].end
				j++
				break
			}
		}
		if j >= len(words) {
			target = len(text)
		}

		for bi < len(boundaries) && boundaries[bi] <= words[wi].start {
			bi++
		}
		chosen := len(text)
		found := false
		for k := bi; k < len(boundaries); k++ {
			if boundaries[k] >= target {
				chosen = boundaries[k]
				bi = k
				found = true
				break
			}
		}
		if !found && target < len(text) {
			chosen = target
			for k := len(boundaries) - 1; k >= bi; k-- {
				if boundaries[k] < target {
					chosen = boundaries[k]
					break
				}
			}
		}
		cuts = append(cuts, chosen)

		for wi < len(words) && words[wi].start < chosen {
			wi++
		}
		if chosen >= len(text) {
			break
		}
	}
	return cuts
}

// applyOverlap prepends, to every chunk after the first, the trailing
// overlapRatio fraction of the previous chunk's tokens. The overlap region
// is counted in the new chunk's token count, never in the previous chunk's
// recorded end.
func applyOverlap(text string, words []word, chunks []Chunk, ratio float64) {
	for i := 1; i < len(chunks); i++ {
		prev := &chunks[i-1]
		overlapTokens := int(float64(prev.TokenCount) * ratio)
		if overlapTokens <= 0 {
			continue
		}
		overlapWords := wordsForTokenLimit(overlapTokens)
		if overlapWords <= 0 {
			continue
		}

		var prevWords []word
		for _, w := range words {
			if w.start >= prev.Start && w.end <= prev.End {
				prevWords = append(prevWords, w)
			}
		}
		if len(prevWords) == 0 {
			continue
		}
		if overlapWords > len(prevWords) {
			overlapWords = len(prevWords)
		}

		newStart := prevWords[len(prevWords)-overlapWords].start
		cur := &chunks[i]
		if newStart >= cur.Start {
			continue
		}
		cur.Start = newStart
		cur.Content = text[cur.Start:cur.End]
		n := 0
		for _, w := range words {
			if w.start >= cur.Start && w.end <= cur.End {
				n++
			}
		}
		cur.TokenCount = tokensFor(n)
		cur.OverlapPrev = overlapWords
		prev.OverlapNext = overlapWords
	}
}
