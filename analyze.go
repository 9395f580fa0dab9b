package ragcore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ragcore/ragcore/extract"
	"github.com/ragcore/ragcore/llm"
	"github.com/ragcore/ragcore/selector"
)

// AnalyzeResult is the outcome of AnalyzeDocument.
type AnalyzeResult struct {
	Tags        []selector.Tag
	Summary     string
	ElapsedTime time.Duration
}

// AnalyzeDocument extracts path's content and asks the generation provider
// for up to maxTags topical tags, plus an optional one-paragraph summary.
func (e *Engine) AnalyzeDocument(ctx context.Context, path string, maxTags int, generateSummary bool) (*AnalyzeResult, error) {
	start := time.Now()
	if maxTags <= 0 {
		maxTags = 8
	}

	kind := docKind(path)
	content, err := e.extractor.Extract(ctx, extract.Source{Path: path, Kind: kind})
	if err != nil {
		return nil, err
	}

	tags, err := e.extractTags(ctx, content.Cleaned, maxTags)
	if err != nil {
		return nil, err
	}

	result := &AnalyzeResult{Tags: tags}
	if generateSummary {
		summary, err := e.generator.Generate(ctx, summaryPrompt(content.Cleaned), llm.GenerationConfig{
			Model:       e.cfg.Chat.Model,
			Temperature: 0.2,
			MaxTokens:   400,
		})
		if err != nil {
			return nil, err
		}
		result.Summary = summary
	}
	result.ElapsedTime = time.Since(start)
	return result, nil
}

func (e *Engine) extractTags(ctx context.Context, text string, maxTags int) ([]selector.Tag, error) {
	reply, err := e.generator.Generate(ctx, tagPrompt(text, maxTags), llm.GenerationConfig{
		Model:       e.cfg.Chat.Model,
		Temperature: 0.1,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, NewError(KindTagExtraction, "generating tags", err)
	}
	return parseTags(reply, maxTags), nil
}

func tagPrompt(text string, maxTags int) string {
	excerpt := text
	if len(excerpt) > 4000 {
		excerpt = excerpt[:4000]
	}
	return fmt.Sprintf("List up to %d short topical tags for the document below, comma-separated, lowercase, no explanations.\n\n%s", maxTags, excerpt)
}

func summaryPrompt(text string) string {
	excerpt := text
	if len(excerpt) > 8000 {
		excerpt = excerpt[:8000]
	}
	return "Write a one-paragraph summary of the following document.\n\n" + excerpt
}

// parseTags splits a comma-separated tag reply into at most maxTags Tags,
// each with uniform confidence since the generation provider gives no
// per-tag score.
func parseTags(reply string, maxTags int) []selector.Tag {
	parts := strings.Split(reply, ",")
	tags := make([]selector.Tag, 0, len(parts))
	for _, p := range parts {
		name := strings.ToLower(strings.TrimSpace(p))
		if name == "" {
			continue
		}
		tags = append(tags, selector.Tag{Name: name, Confidence: 0.8})
		if len(tags) >= maxTags {
			break
		}
	}
	return tags
}
