package ragcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ragcore/ragcore/cache"
	"github.com/ragcore/ragcore/chunker"
	"github.com/ragcore/ragcore/extract"
	"github.com/ragcore/ragcore/llm"
	"github.com/ragcore/ragcore/store"
)

// ProcessOptions configures one batch Process call.
type ProcessOptions struct {
	// Strategy selects the chunking strategy; empty falls back to the
	// configured default (adaptive).
	Strategy chunker.Strategy
	// GenerateEmbeddings, when true, embeds and persists every chunk
	// produced; when false the batch only extracts, chunks, and optimizes.
	GenerateEmbeddings bool
	// MaxConcurrentBatches caps how many documents of the same kind run at
	// once; zero falls back to cfg.Cache.MaxConcurrentBatches.
	MaxConcurrentBatches int
}

// DocumentResult reports the outcome of processing one document.
type DocumentResult struct {
	Path              string
	Success           bool
	DocumentID        int64
	ChunkCount        int
	EmbeddingCount    int
	ExtractionQuality float64
	Error             error
	ElapsedTime       time.Duration
}

// BatchProcessingResult aggregates the outcome of a Process call across
// every input document.
type BatchProcessingResult struct {
	Successful               int
	Failed                   int
	TotalChunks              int
	TotalEmbeddings          int
	ElapsedTime              time.Duration
	AverageExtractionQuality float64
	Results                  []DocumentResult
}

// Process extracts, chunks, optimizes, and (optionally) embeds every path
// in paths. Documents are grouped by kind (file extension); within a kind,
// up to opts.MaxConcurrentBatches run concurrently, mirroring the
// teacher's buffered-channel fan-out for independent searches. A batch
// boundary is a barrier: Process returns only once every document, across
// every kind, has completed.
func (e *Engine) Process(ctx context.Context, paths []string, opts ProcessOptions) (*BatchProcessingResult, error) {
	start := time.Now()

	groups := groupByKind(paths)
	resultCh := make(chan DocumentResult, len(paths))
	var wg sync.WaitGroup

	for _, group := range groups {
		limit := opts.MaxConcurrentBatches
		if limit <= 0 {
			limit = e.cfg.Cache.MaxConcurrentBatches
		}
		if limit <= 0 {
			limit = 1
		}
		if limit > len(group) {
			limit = len(group)
		}
		sem := make(chan struct{}, limit)

		for _, path := range group {
			wg.Add(1)
			sem <- struct{}{}
			go func(path string) {
				defer wg.Done()
				defer func() { <-sem }()
				resultCh <- e.processDocument(ctx, path, opts)
			}(path)
		}
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	result := &BatchProcessingResult{}
	var qualitySum float64
	for r := range resultCh {
		result.Results = append(result.Results, r)
		if r.Success {
			result.Successful++
			result.TotalChunks += r.ChunkCount
			result.TotalEmbeddings += r.EmbeddingCount
			qualitySum += r.ExtractionQuality
		} else {
			result.Failed++
		}
	}
	if result.Successful > 0 {
		result.AverageExtractionQuality = qualitySum / float64(result.Successful)
	}
	result.ElapsedTime = time.Since(start)
	return result, nil
}

// groupByKind partitions paths by lowercased, dot-stripped file extension,
// preserving first-seen kind order for deterministic iteration.
func groupByKind(paths []string) [][]string {
	order := make([]string, 0)
	groups := make(map[string][]string)
	for _, p := range paths {
		kind := docKind(p)
		if _, ok := groups[kind]; !ok {
			order = append(order, kind)
		}
		groups[kind] = append(groups[kind], p)
	}
	out := make([][]string, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

func docKind(path string) string {
	ext := filepath.Ext(path)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// minQuality is the extraction-quality floor below which a document is
// failed outright rather than chunked from near-empty content.
const minQuality = 0.1

// processDocument runs one document through validate -> extract -> chunk ->
// optimize -> persist -> (optional) embed, per document.
func (e *Engine) processDocument(ctx context.Context, path string, opts ProcessOptions) DocumentResult {
	start := time.Now()
	res := DocumentResult{Path: path}

	kind := docKind(path)
	content, err := e.extractor.Extract(ctx, extract.Source{Path: path, Kind: kind})
	if err != nil {
		res.Error = err
		res.ElapsedTime = time.Since(start)
		return res
	}
	res.ExtractionQuality = content.Quality

	if content.Quality < minQuality {
		res.Error = NewError(KindDecodeFailed, "extraction quality below floor", nil)
		res.ElapsedTime = time.Since(start)
		return res
	}

	chunkCfg := chunker.Config{Strategy: opts.Strategy}
	chunks := e.chunks.Chunk(content.Cleaned, kind, chunkCfg)

	optimized, _ := e.optimizer.Optimize(ctx, chunks)

	hash := contentHash(content.Raw)
	docID, err := e.docs.UpsertDocument(ctx, store.Document{
		Path:        path,
		Filename:    filepath.Base(path),
		Format:      kind,
		ContentHash: hash,
		ParseMethod: "extract",
		Status:      "processed",
		Language:    content.Metadata.Language,
	})
	if err != nil {
		res.Error = err
		res.ElapsedTime = time.Since(start)
		return res
	}
	res.DocumentID = docID

	storeChunks := make([]store.Chunk, 0, len(optimized))
	for _, c := range optimized {
		storeChunks = append(storeChunks, store.Chunk{
			DocumentID:    docID,
			Content:       c.Content,
			ChunkType:     string(c.Kind),
			PositionInDoc: c.Ordinal,
			TokenCount:    c.TokenCount,
			ContentHash:   contentHash([]byte(c.Content)),
		})
	}
	chunkIDs, err := e.docs.InsertChunks(ctx, storeChunks)
	if err != nil {
		res.Error = err
		res.ElapsedTime = time.Since(start)
		return res
	}
	res.ChunkCount = len(chunkIDs)

	if opts.GenerateEmbeddings {
		n, err := e.embedChunks(ctx, docID, chunkIDs, optimized)
		if err != nil {
			res.Error = err
			res.ElapsedTime = time.Since(start)
			return res
		}
		res.EmbeddingCount = n
	}

	res.Success = true
	res.ElapsedTime = time.Since(start)
	return res
}

// embedChunks resolves each chunk's embedding through the Tier1/Tier2
// cache, falling back to the resilient embedding provider on a miss, and
// writes the result back to both the cache and the vector store.
func (e *Engine) embedChunks(ctx context.Context, docID int64, chunkIDs []int64, chunks []chunker.Chunk) (int, error) {
	modelID := e.cfg.Embedding.Model
	count := 0
	for i, c := range chunks {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		key := cache.DeriveKey(modelID, c.Content)
		vector, ok := e.embedCache.Get(key)
		if !ok {
			var err error
			vector, err = e.embedder.Embed(ctx, c.Content, modelID, llm.TaskDocument)
			if err != nil {
				return count, err
			}
			if err := e.embedCache.Put(key, modelID, vector, docKeyOf(docID), c.Ordinal, c.TokenCount); err != nil {
				return count, err
			}
		}
		if err := e.docs.InsertEmbedding(ctx, chunkIDs[i], vector); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func docKeyOf(docID int64) string {
	return strconv.FormatInt(docID, 10)
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
