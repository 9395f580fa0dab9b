package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCXExtractor reads word/document.xml out of the OOXML zip container
// directly — no third-party DOCX library is needed since the format is
// just zip + XML, the same approach as the teacher's parser.
type DOCXExtractor struct{}

func (e *DOCXExtractor) SupportedFormats() []string { return []string{"docx"} }

type docxBody struct {
	XMLName xml.Name    `xml:"body"`
	Paras   []docxPara  `xml:"p"`
	Tables  []docxTable `xml:"tbl"`
}

type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxPara struct {
	XMLName xml.Name    `xml:"p"`
	PPr     *docxParaPr `xml:"pPr"`
	Runs    []docxRun   `xml:"r"`
}

type docxParaPr struct {
	PStyle *docxPStyle `xml:"pStyle"`
}

type docxPStyle struct {
	Val string `xml:"val,attr"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

func (e *DOCXExtractor) Extract(ctx context.Context, src Source) (*Content, error) {
	r, err := zip.OpenReader(src.Path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}

	var body strings.Builder
	var headers []string
	title := ""

	for _, para := range doc.Body.Paras {
		text := extractDocxParaText(para)
		if text == "" {
			continue
		}
		style := ""
		if para.PPr != nil && para.PPr.PStyle != nil {
			style = para.PPr.PStyle.Val
		}
		lower := strings.ToLower(style)
		if strings.HasPrefix(lower, "heading") || strings.HasPrefix(lower, "title") {
			headers = append(headers, text)
			if title == "" {
				title = text
			}
			body.WriteString("\n\n# " + text + "\n\n")
		} else {
			body.WriteString(text)
			body.WriteString("\n")
		}
	}

	tableCount := len(doc.Body.Tables)
	for _, tbl := range doc.Body.Tables {
		for _, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				var cellText strings.Builder
				for _, p := range cell.Paras {
					if cellText.Len() > 0 {
						cellText.WriteString(" ")
					}
					cellText.WriteString(extractDocxParaText(p))
				}
				cells = append(cells, cellText.String())
			}
			body.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
	}

	cleaned := normalizeWhitespace(body.String())
	if title == "" {
		title = firstLine(cleaned)
	}

	return &Content{
		Cleaned: cleaned,
		Quality: 0.9,
		Metadata: Metadata{
			Title:          title,
			Headers:        headers,
			Tables:         tableCount,
			ReadingTimeMin: readingTimeMinutes(cleaned),
		},
	}, nil
}

func extractDocxParaText(para docxPara) string {
	var b strings.Builder
	for _, run := range para.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return b.String()
}
