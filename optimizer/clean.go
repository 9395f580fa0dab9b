package optimizer

import (
	"regexp"
	"strings"
)

var (
	reSpaceRuns     = regexp.MustCompile(` {2,}`)
	reNewlineRuns   = regexp.MustCompile(`\n{3,}`)
)

// normalizeWhitespace matches the original implementation's compression
// pass: collapse runs of spaces and excess blank lines, then trim.
func normalizeWhitespace(s string) string {
	s = reSpaceRuns.ReplaceAllString(s, " ")
	s = reNewlineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
