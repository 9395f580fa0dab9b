// Package extract maps a document source (path + declared kind) to cleaned,
// quality-scored text ready for chunking.
package extract

import "context"

// Source identifies a document to extract: its path on disk and its
// declared kind (file suffix, lowercased, without the dot).
type Source struct {
	Path string
	Kind string
}

// Metadata holds best-effort structural facts about an extracted document.
// Missing fields are left empty — never guessed.
type Metadata struct {
	Title         string
	Headers       []string
	CodeBlocks     int
	Tables        int
	Links         []string
	Language      string
	ReadingTimeMin float64
}

// Content is the ExtractedContent of §3: raw bytes, cleaned text, best-effort
// metadata, and a quality score in [0,1]. quality == 0 implies Cleaned == "".
type Content struct {
	Raw      []byte
	Cleaned  string
	Metadata Metadata
	Quality  float64
	Notes    []string
}

// Extractor produces Content from one document format.
type Extractor interface {
	SupportedFormats() []string
	Extract(ctx context.Context, src Source) (*Content, error)
}
