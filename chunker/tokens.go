package chunker

import (
	"math"
	"unicode"
)

// word is a whitespace-delimited token with its byte offsets in the
// original text, used to map token counts back to byte ranges.
type word struct {
	start, end int
}

func tokenizeWords(text string) []word {
	var words []word
	inWord := false
	wordStart := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				words = append(words, word{wordStart, i})
				inWord = false
			}
			continue
		}
		if !inWord {
			wordStart = i
			inWord = true
		}
	}
	if inWord {
		words = append(words, word{wordStart, len(text)})
	}
	return words
}

// tokensFor approximates token count from a word count: tokens ~ words*1.3,
// the same heuristic the teacher's chunker uses.
func tokensFor(words int) int {
	if words <= 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 1.3))
}

// wordsForTokenLimit inverts tokensFor: the largest word count whose
// estimated token count does not exceed limit.
func wordsForTokenLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	return int(float64(limit) / 1.3)
}
