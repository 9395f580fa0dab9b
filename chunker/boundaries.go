package chunker

import "regexp"

// Boundary patterns, scanned in position order and never cut mid-boundary.
// Carried over from the original implementation's boundary_patterns table.
var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sectionHeader  = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)
	codeBlockEnd   = regexp.MustCompile("(?m)^```\\s*$")
	listItemStart  = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	tableRow       = regexp.MustCompile(`(?m)^\s*\|.*\|\s*$`)
	funcOrClass    = regexp.MustCompile(`(?m)^\s*(func |class |def |public |private |protected |static |export function |export class )`)
)

// boundarySet returns the sorted, deduplicated set of byte offsets at which
// it is safe to cut text for the given strategy scope. Offsets mark the
// start of a new chunk (i.e. cutting "before" the match), except for
// paragraph and code-block boundaries which mark the end of the preceding
// unit (cutting "after" the match).
func boundarySet(text string, scope string) []int {
	set := map[int]struct{}{}
	add := func(pos int) {
		if pos > 0 && pos < len(text) {
			set[pos] = struct{}{}
		}
	}

	switch scope {
	case "semantic":
		for _, m := range paragraphBreak.FindAllStringIndex(text, -1) {
			add(m[1])
		}
		for _, m := range sectionHeader.FindAllStringIndex(text, -1) {
			add(m[0])
		}
		for _, m := range codeBlockEnd.FindAllStringIndex(text, -1) {
			add(m[1])
		}
		for _, m := range listItemStart.FindAllStringIndex(text, -1) {
			add(m[0])
		}
		add(tableBlockEnd(text))
	case "code":
		for _, m := range funcOrClass.FindAllStringIndex(text, -1) {
			add(m[0])
		}
	case "markdown":
		for _, m := range sectionHeader.FindAllStringIndex(text, -1) {
			add(m[0])
		}
	case "prose":
		for _, m := range paragraphBreak.FindAllStringIndex(text, -1) {
			add(m[1])
		}
	}

	out := make([]int, 0, len(set))
	for pos := range set {
		out = append(out, pos)
	}
	sortInts(out)
	return out
}

// tableBlockEnd returns the byte offset immediately following the last table
// row in text, or 0 when there is none. Only that one offset becomes a
// boundary; earlier table blocks and the rows between them add none.
func tableBlockEnd(text string) int {
	matches := tableRow.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return 0
	}
	return matches[len(matches)-1][1]
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// adaptiveScope maps a document kind to the boundary scope Adaptive uses.
func adaptiveScope(kind string) string {
	switch kind {
	case "code":
		return "code"
	case "md":
		return "markdown"
	default:
		return "prose"
	}
}
