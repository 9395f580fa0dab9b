package optimizer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ragcore/ragcore/chunker"
)

// Optimizer applies a cost/quality strategy to chunk batches, caching
// optimized chunks by (kind, content-hash, token-count) so repeated content
// across documents skips re-optimization.
type Optimizer struct {
	cfg   Config
	cache *lru.Cache[string, chunker.Chunk]

	mu      sync.Mutex
	history []Metrics
	hits    []float64
}

// New constructs an Optimizer. A zero Config.ChunkCacheSize falls back to
// DefaultConfig's size.
func New(cfg Config) *Optimizer {
	size := cfg.ChunkCacheSize
	if size <= 0 {
		size = DefaultConfig().ChunkCacheSize
	}
	cache, _ := lru.New[string, chunker.Chunk](size)
	return &Optimizer{cfg: cfg, cache: cache}
}

// Optimize runs the configured strategy over chunks and returns the
// optimized set plus run metrics. Order is always restored to match the
// input, regardless of how concurrently chunks were processed internally.
func (o *Optimizer) Optimize(ctx context.Context, chunks []chunker.Chunk) ([]chunker.Chunk, Metrics) {
	start := time.Now()
	initialAlloc := currentMemoryMB()

	var optimized []chunker.Chunk
	switch o.cfg.Strategy {
	case StrategySpeed:
		optimized = o.optimizeForSpeed(ctx, chunks)
	case StrategyMemory:
		optimized = o.optimizeForMemory(ctx, chunks)
	default:
		optimized = o.optimizeBalanced(ctx, chunks)
	}

	metrics := o.computeMetrics(chunks, optimized, float64(time.Since(start).Milliseconds()), currentMemoryMB()-initialAlloc)

	o.mu.Lock()
	o.history = append(o.history, metrics)
	if len(o.history) > 100 {
		o.history = o.history[len(o.history)-100:]
	}
	o.mu.Unlock()

	return optimized, metrics
}

func (o *Optimizer) optimizeForSpeed(ctx context.Context, chunks []chunker.Chunk) []chunker.Chunk {
	limit := o.cfg.MaxConcurrentChunks
	if limit <= 0 {
		limit = DefaultConfig().MaxConcurrentChunks
	}
	sem := make(chan struct{}, limit)
	out := make([]chunker.Chunk, len(chunks))

	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c chunker.Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = o.optimizeSingle(c, "speed")
		}(i, c)
	}
	wg.Wait()
	return out
}

func (o *Optimizer) optimizeForMemory(ctx context.Context, chunks []chunker.Chunk) []chunker.Chunk {
	out := make([]chunker.Chunk, 0, len(chunks))
	for _, c := range chunks {
		var oc chunker.Chunk
		if o.memoryPressureHigh() {
			oc = o.optimizeSingle(c, "memory")
			if o.cfg.EnableCompression {
				oc = compressChunk(oc)
			}
		} else {
			oc = o.optimizeSingle(c, "balanced")
		}
		out = append(out, oc)
		if o.memoryPressureHigh() {
			o.cache.Purge()
		}
	}
	return out
}

func (o *Optimizer) optimizeBalanced(ctx context.Context, chunks []chunker.Chunk) []chunker.Chunk {
	batchSize := o.calculateOptimalBatchSize(chunks)
	out := make([]chunker.Chunk, 0, len(chunks))

	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]
		var batchOut []chunker.Chunk
		if o.memoryPressureHigh() {
			batchOut = o.optimizeForMemory(ctx, batch)
		} else {
			batchOut = o.optimizeForSpeed(ctx, batch)
		}
		out = append(out, batchOut...)
	}
	return out
}

func (o *Optimizer) optimizeSingle(c chunker.Chunk, priority string) chunker.Chunk {
	key := cacheKey(c)
	if cached, ok := o.cache.Get(key); ok {
		o.recordHit(1.0)
		return cached
	}
	o.recordHit(0.0)

	var optimized chunker.Chunk
	switch priority {
	case "speed":
		optimized = tagMetadata(c, map[string]string{
			"optimization_strategy": "speed",
			"processing_priority":   "high",
			"cache_eligible":        "true",
		})
	case "memory":
		optimized = c
		optimized.Metadata = map[string]string{
			"optimization_strategy": "memory",
			"compressed":            fmt.Sprintf("%v", o.cfg.EnableCompression),
		}
	default:
		optimized = tagMetadata(c, map[string]string{
			"optimization_strategy": "balanced",
			"processing_priority":   "normal",
			"cache_eligible":        "true",
		})
		if len(optimized.Content) > 10000 {
			optimized = trimWhitespace(optimized)
		}
	}

	o.cache.Add(key, optimized)
	return optimized
}

func (o *Optimizer) calculateOptimalBatchSize(chunks []chunker.Chunk) int {
	if len(chunks) == 0 {
		return 1
	}
	var totalLen int
	for _, c := range chunks {
		totalLen += len(c.Content)
	}
	avgChunkSize := float64(totalLen) / float64(len(chunks))
	estimatedMemPerChunk := avgChunkSize * 2

	maxMB := o.cfg.MaxMemoryUsageMB
	if maxMB <= 0 {
		maxMB = DefaultConfig().MaxMemoryUsageMB
	}
	availableBytes := float64(maxMB) * 1024 * 1024
	maxChunks := 1
	if estimatedMemPerChunk > 0 {
		maxChunks = int(availableBytes / estimatedMemPerChunk)
		if maxChunks < 1 {
			maxChunks = 1
		}
	}

	limit := o.cfg.MaxConcurrentChunks
	if limit <= 0 {
		limit = DefaultConfig().MaxConcurrentChunks
	}
	if maxChunks > limit {
		return limit
	}
	return maxChunks
}

func (o *Optimizer) memoryPressureHigh() bool {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Sys == 0 {
		return false
	}
	threshold := o.cfg.MemoryPressureThreshold
	if threshold <= 0 {
		threshold = DefaultConfig().MemoryPressureThreshold
	}
	ratio := float64(m.HeapInuse) / float64(m.Sys)
	return ratio > threshold
}

func currentMemoryMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / 1024 / 1024
}

func (o *Optimizer) recordHit(v float64) {
	o.mu.Lock()
	o.hits = append(o.hits, v)
	if len(o.hits) > 1000 {
		o.hits = o.hits[len(o.hits)-1000:]
	}
	o.mu.Unlock()
}

func (o *Optimizer) computeMetrics(original, optimized []chunker.Chunk, processingMs, memDeltaMB float64) Metrics {
	m := Metrics{
		TotalChunks:      len(optimized),
		ProcessingTimeMs: processingMs,
		MemoryDeltaMB:    memDeltaMB,
		ComputedAt:       time.Now(),
	}

	o.mu.Lock()
	if len(o.hits) > 0 {
		var sum float64
		for _, h := range o.hits {
			sum += h
		}
		m.CacheHitRatio = sum / float64(len(o.hits))
	}
	o.mu.Unlock()

	if len(optimized) > 0 {
		var sum float64
		for _, c := range optimized {
			sum += c.SemanticScore
		}
		m.AverageSemanticScore = sum / float64(len(optimized))

		if len(optimized) > 1 {
			var tokenSum float64
			for _, c := range optimized {
				tokenSum += float64(c.TokenCount)
			}
			mean := tokenSum / float64(len(optimized))
			var variance float64
			for _, c := range optimized {
				d := float64(c.TokenCount) - mean
				variance += d * d
			}
			variance /= float64(len(optimized))
			if mean > 0 {
				m.ChunkSizeVariance = variance / mean
			}
		}
	}

	m.Suggestions = o.suggestions(m)
	return m
}

func (o *Optimizer) suggestions(m Metrics) []string {
	var out []string
	targetMs := float64(o.cfg.TargetResponseTimeMs)
	if targetMs == 0 {
		targetMs = float64(DefaultConfig().TargetResponseTimeMs)
	}
	if m.ProcessingTimeMs > targetMs {
		out = append(out, "consider reducing chunk size or enabling more aggressive caching")
	}
	maxMB := float64(o.cfg.MaxMemoryUsageMB)
	if maxMB == 0 {
		maxMB = float64(DefaultConfig().MaxMemoryUsageMB)
	}
	if m.MemoryDeltaMB > maxMB {
		out = append(out, "enable compression or reduce concurrent chunk processing")
	}
	scoreThreshold := o.cfg.SemanticScoreThreshold
	if scoreThreshold == 0 {
		scoreThreshold = DefaultConfig().SemanticScoreThreshold
	}
	if m.AverageSemanticScore < scoreThreshold && m.AverageSemanticScore > 0 {
		out = append(out, "consider a semantic chunking strategy for better boundary preservation")
	}
	varianceThreshold := o.cfg.ChunkSizeVarianceThreshold
	if varianceThreshold == 0 {
		varianceThreshold = DefaultConfig().ChunkSizeVarianceThreshold
	}
	if m.ChunkSizeVariance > varianceThreshold {
		out = append(out, "high chunk size variance detected, consider adaptive chunking")
	}
	if m.CacheHitRatio < 0.3 {
		out = append(out, "low cache hit ratio, consider increasing cache size")
	}
	return out
}

// PerformanceSummary averages the last 10 runs, mirroring the original's
// get_performance_summary.
func (o *Optimizer) PerformanceSummary() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.history) == 0 {
		return map[string]any{"status": "no_data"}
	}
	recent := o.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	var procSum, memSum, hitSum, scoreSum float64
	for _, m := range recent {
		procSum += m.ProcessingTimeMs
		memSum += m.MemoryDeltaMB
		hitSum += m.CacheHitRatio
		scoreSum += m.AverageSemanticScore
	}
	n := float64(len(recent))
	return map[string]any{
		"total_optimizations":       len(o.history),
		"average_processing_time_ms": procSum / n,
		"average_memory_usage_mb":   memSum / n,
		"average_cache_hit_ratio":   hitSum / n,
		"average_semantic_score":    scoreSum / n,
		"current_cache_size":        o.cache.Len(),
	}
}

func cacheKey(c chunker.Chunk) string {
	sum := md5.Sum([]byte(c.Content))
	return fmt.Sprintf("%s_%s_%d", c.Kind, hex.EncodeToString(sum[:]), c.TokenCount)
}

func tagMetadata(c chunker.Chunk, tags map[string]string) chunker.Chunk {
	out := c
	out.Metadata = make(map[string]string, len(c.Metadata)+len(tags))
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	for k, v := range tags {
		out.Metadata[k] = v
	}
	return out
}

func compressChunk(c chunker.Chunk) chunker.Chunk {
	out := c
	original := len(c.Content)
	out.Content = normalizeWhitespace(c.Content)
	out.Metadata = cloneMeta(c.Metadata)
	out.Metadata["compressed"] = "true"
	if original > 0 {
		out.Metadata["compression_ratio"] = fmt.Sprintf("%.4f", float64(len(out.Content))/float64(original))
	}
	return out
}

func trimWhitespace(c chunker.Chunk) chunker.Chunk {
	out := c
	out.Content = normalizeWhitespace(c.Content)
	out.Metadata = cloneMeta(c.Metadata)
	out.Metadata["whitespace_trimmed"] = "true"
	return out
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
