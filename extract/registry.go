package extract

import (
	"context"
	"fmt"

	"github.com/ragcore/ragcore"
)

// Registry dispatches extraction by file suffix, mirroring the teacher's
// parser.Registry: a flat map plus Get/Register, so adding a kind never
// touches call sites.
type Registry struct {
	extractors map[string]Extractor
	fallback   Extractor
}

// NewRegistry registers the built-in extractors: plain text, Markdown,
// code (by extension), PDF, DOCX, and a generic-text fallback for anything
// unrecognised.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}

	txt := &TextExtractor{}
	md := &MarkdownExtractor{}
	code := &CodeExtractor{}
	pdf := &PDFExtractor{}
	docx := &DOCXExtractor{}
	xlsx := &XLSXExtractor{}
	legacy := &LegacyExtractor{}

	for _, e := range []Extractor{txt, md, code, pdf, docx, xlsx, legacy} {
		for _, f := range e.SupportedFormats() {
			r.extractors[f] = e
		}
	}
	r.fallback = &GenericExtractor{}
	return r
}

// Register adds or overrides the extractor for a format.
func (r *Registry) Register(format string, e Extractor) {
	r.extractors[format] = e
}

// Get returns the extractor registered for format, or the generic fallback
// if none is registered — the fallback itself always succeeds with
// quality 0.7, per §4.1.
func (r *Registry) Get(format string) Extractor {
	if e, ok := r.extractors[format]; ok {
		return e
	}
	return r.fallback
}

// Extract dispatches src to the registered extractor and wraps unsupported
// or missing-file conditions into the §7 taxonomy.
func (r *Registry) Extract(ctx context.Context, src Source) (*Content, error) {
	if _, err := statReadable(src.Path); err != nil {
		return nil, ragcore.NewError(ragcore.KindFileAccess, fmt.Sprintf("reading %s", src.Path), err)
	}
	e := r.Get(src.Kind)
	content, err := e.Extract(ctx, src)
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindDecodeFailed, fmt.Sprintf("extracting %s", src.Path), err)
	}
	return content, nil
}
