package extract

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads a PDF page by page, reconstructs visual reading order,
// and folds heading detection into Metadata rather than a Section tree —
// the chunker's own boundary patterns take over from there.
type PDFExtractor struct{}

func (e *PDFExtractor) SupportedFormats() []string { return []string{"pdf"} }

func (e *PDFExtractor) Extract(ctx context.Context, src Source) (*Content, error) {
	f, reader, err := pdf.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	var pages []string
	var headers []string
	tableCount := 0

	for i := 1; i <= totalPages; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := extractPDFPageOrdered(page)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, text)

		for _, line := range strings.Split(text, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if isLikelyPDFHeading(trimmed) {
				headers = append(headers, trimmed)
			}
			if strings.Count(trimmed, "\t") > 3 || strings.Count(trimmed, "|") > 3 {
				tableCount++
			}
		}
	}

	if len(pages) == 0 {
		return &Content{
			Raw:     nil,
			Cleaned: "",
			Quality: 0.3,
			Notes:   []string{"unable to extract text from PDF"},
		}, nil
	}

	cleaned := normalizeWhitespace(strings.Join(pages, "\n\n"))
	title := ""
	if len(headers) > 0 {
		title = headers[0]
	} else {
		title = firstLine(cleaned)
	}

	return &Content{
		Cleaned: cleaned,
		Quality: 0.9,
		Metadata: Metadata{
			Title:          title,
			Headers:        dedupeStrings(headers),
			Tables:         tableCount,
			ReadingTimeMin: readingTimeMinutes(cleaned),
		},
	}, nil
}

// extractPDFPageOrdered groups Content() text elements into visual lines by
// Y proximity, then sorts lines top-to-bottom — the library's GetPlainText
// follows object order, which can put headings after the body they label.
func extractPDFPageOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0
	type visualLine struct {
		y   float64
		buf strings.Builder
	}
	var lines []*visualLine
	var cur *visualLine

	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	var parts []string
	for _, l := range lines {
		if text := strings.TrimSpace(l.buf.String()); text != "" {
			parts = append(parts, text)
		}
	}
	result := strings.Join(parts, "\n")
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}
	return result, nil
}

func isLikelyPDFHeading(line string) bool {
	if len(line) < 100 && line == strings.ToUpper(line) && len(line) > 2 {
		return true
	}
	if len(line) < 120 && len(line) > 0 && line[0] >= '0' && line[0] <= '9' {
		cut := len(line)
		if cut > 10 {
			cut = 10
		}
		if strings.Contains(line[:cut], ".") {
			return true
		}
	}
	return false
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
