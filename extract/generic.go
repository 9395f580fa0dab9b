package extract

import (
	"context"
	"os"
)

// GenericExtractor is the registry's fallback for unrecognised formats: it
// treats the file as text and reports quality 0.7 per §4.1, since no
// format-specific structure can be assumed.
type GenericExtractor struct{}

func (e *GenericExtractor) SupportedFormats() []string { return nil }

func (e *GenericExtractor) Extract(ctx context.Context, src Source) (*Content, error) {
	raw, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, err
	}
	decoded, _ := decodeText(raw)
	cleaned := normalizeWhitespace(decoded)

	return &Content{
		Raw:     raw,
		Cleaned: cleaned,
		Quality: 0.7,
		Notes:   []string{"extracted with generic fallback: no format-specific parser registered"},
		Metadata: Metadata{
			Title:          firstLine(cleaned),
			ReadingTimeMin: readingTimeMinutes(cleaned),
		},
	}, nil
}
