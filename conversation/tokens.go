package conversation

import (
	"math"
	"strings"
)

// estimateTokens approximates token count from word count, the same
// heuristic chunker.tokensFor uses.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 1.3))
}
