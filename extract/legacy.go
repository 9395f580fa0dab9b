package extract

import (
	"context"
	"fmt"

	"github.com/ragcore/ragcore"
)

// LegacyExtractor routes pre-OOXML binary formats (.doc, .xls, .ppt) to an
// external conversion step rather than parsing the OLE2 container directly —
// the same stance the teacher takes for these formats.
type LegacyExtractor struct{}

func (e *LegacyExtractor) SupportedFormats() []string { return []string{"doc", "xls", "ppt"} }

func (e *LegacyExtractor) Extract(ctx context.Context, src Source) (*Content, error) {
	return nil, ragcore.NewError(ragcore.KindUnsupportedKind, fmt.Sprintf("legacy format %q requires an external converter", src.Kind), nil)
}
