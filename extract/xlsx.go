package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXExtractor renders each sheet of a spreadsheet as a Markdown-style
// pipe table, one table section per sheet, the same shape the teacher's
// parser used for structured tabular sources.
type XLSXExtractor struct{}

func (e *XLSXExtractor) SupportedFormats() []string { return []string{"xlsx"} }

func (e *XLSXExtractor) Extract(ctx context.Context, src Source) (*Content, error) {
	raw, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("reading XLSX: %w", err)
	}

	f, err := excelize.OpenFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var body strings.Builder
	var headers []string
	tableCount := 0

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		tableCount++
		headers = append(headers, sheet)
		body.WriteString("\n\n# " + sheet + "\n\n")
		for _, row := range rows {
			body.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
	}

	if tableCount == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}

	cleaned := normalizeWhitespace(body.String())
	return &Content{
		Raw:     raw,
		Cleaned: cleaned,
		Quality: 0.85,
		Metadata: Metadata{
			Title:          firstLine(cleaned),
			Headers:        headers,
			Tables:         tableCount,
			ReadingTimeMin: readingTimeMinutes(cleaned),
		},
	}, nil
}
