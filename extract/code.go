package extract

import (
	"context"
	"os"
	"strings"
)

// codeLanguages maps a file extension to the language label recorded in
// Metadata.Language, which the pipeline stores on the document record.
var codeLanguages = map[string]string{
	"go":   "go",
	"py":   "python",
	"js":   "javascript",
	"ts":   "typescript",
	"jsx":  "javascript",
	"tsx":  "typescript",
	"java": "java",
	"c":    "c",
	"h":    "c",
	"cpp":  "cpp",
	"hpp":  "cpp",
	"cc":   "cpp",
	"rs":   "rust",
	"rb":   "ruby",
	"php":  "php",
	"cs":   "csharp",
	"sh":   "shell",
	"sql":  "sql",
}

// CodeExtractor handles source files by extension: no structure is lifted
// beyond the language label, since the chunker itself is responsible for
// finding function/class boundaries.
type CodeExtractor struct{}

func (e *CodeExtractor) SupportedFormats() []string {
	formats := make([]string, 0, len(codeLanguages))
	for ext := range codeLanguages {
		formats = append(formats, ext)
	}
	return formats
}

func (e *CodeExtractor) Extract(ctx context.Context, src Source) (*Content, error) {
	raw, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, err
	}
	decoded, _ := decodeText(raw)
	// Code is cleaned much more conservatively: collapse CRLF and trailing
	// blank-line runs only, never touch interior spacing (indentation matters).
	cleaned := strings.TrimRight(reCRLF.ReplaceAllString(decoded, "\n"), "\n\t ") + "\n"

	lang := codeLanguages[src.Kind]
	if lang == "" {
		lang = "unknown"
	}

	return &Content{
		Raw:     raw,
		Cleaned: cleaned,
		Quality: 1.0,
		Metadata: Metadata{
			Language:       lang,
			ReadingTimeMin: readingTimeMinutes(cleaned),
		},
	}, nil
}
