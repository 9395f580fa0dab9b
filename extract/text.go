package extract

import (
	"context"
	"os"
	"strings"
)

// TextExtractor handles plain .txt sources: decode, normalize, done. Quality
// is always 1.0 — there is no structure to lose.
type TextExtractor struct{}

func (e *TextExtractor) SupportedFormats() []string { return []string{"txt", "text", "log"} }

func (e *TextExtractor) Extract(ctx context.Context, src Source) (*Content, error) {
	raw, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, err
	}
	decoded, _ := decodeText(raw)
	cleaned := normalizeWhitespace(decoded)

	return &Content{
		Raw:     raw,
		Cleaned: cleaned,
		Quality: 1.0,
		Metadata: Metadata{
			Title:          firstLine(cleaned),
			ReadingTimeMin: readingTimeMinutes(cleaned),
		},
	}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
