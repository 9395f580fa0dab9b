package extract

import (
	"context"
	"os"
	"regexp"
	"strings"
)

var (
	reMDHeader   = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	reMDLink     = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)
	reMDCodeFence = regexp.MustCompile("(?m)^```")
)

// MarkdownExtractor decodes a .md source and lifts headers and links into
// Metadata, keeping the body text (fences, headers, lists and all) as
// Cleaned so the chunker's boundary patterns still see Markdown structure.
type MarkdownExtractor struct{}

func (e *MarkdownExtractor) SupportedFormats() []string { return []string{"md", "markdown"} }

func (e *MarkdownExtractor) Extract(ctx context.Context, src Source) (*Content, error) {
	raw, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, err
	}
	decoded, _ := decodeText(raw)
	cleaned := normalizeWhitespace(decoded)

	var headers []string
	for _, m := range reMDHeader.FindAllStringSubmatch(cleaned, -1) {
		headers = append(headers, strings.TrimSpace(m[2]))
	}
	var links []string
	for _, m := range reMDLink.FindAllStringSubmatch(cleaned, -1) {
		links = append(links, m[1])
	}
	codeBlocks := len(reMDCodeFence.FindAllString(cleaned, -1)) / 2

	title := ""
	if len(headers) > 0 {
		title = headers[0]
	} else {
		title = firstLine(cleaned)
	}

	return &Content{
		Raw:     raw,
		Cleaned: cleaned,
		Quality: 1.0,
		Metadata: Metadata{
			Title:          title,
			Headers:        headers,
			Links:          links,
			CodeBlocks:     codeBlocks,
			ReadingTimeMin: readingTimeMinutes(cleaned),
		},
	}, nil
}
