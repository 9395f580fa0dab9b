package ragcore

import (
	"context"

	"github.com/ragcore/ragcore/resilience"
)

// CacheWarm pre-loads Tier 1 from Tier 2: for each resolvable path in paths
// it loads up to half of Tier 1's capacity of that document's entries, in
// the document index's key order; paths that do not resolve are skipped.
// When paths is empty it falls back to the global popularity warm-up. It
// reports the total number of entries loaded.
func (e *Engine) CacheWarm(ctx context.Context, paths []string) (int, error) {
	if len(paths) == 0 {
		return e.embedCache.WarmUp()
	}
	total := 0
	for _, p := range paths {
		doc, err := e.docs.GetDocumentByPath(ctx, p)
		if err != nil {
			continue
		}
		n, err := e.embedCache.WarmUpDocument(docKeyOf(doc.ID))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// CacheStats reports the cache's current Tier 1 occupancy and the
// adaptive batcher's current optimal batch size.
type CacheStats struct {
	Tier1Entries int
	BatchSize    int
}

// CacheStats returns a snapshot of the embedding cache's state.
func (e *Engine) CacheStats() CacheStats {
	return CacheStats{
		Tier1Entries: e.embedCache.Tier1Len(),
		BatchSize:    e.batcher.OptimalSize(),
	}
}

// CircuitBreakerStates returns a snapshot of every circuit breaker the
// Engine has created (embedding, generation, and any others registered on
// demand).
func (e *Engine) CircuitBreakerStates() []resilience.Snapshot {
	return e.breakers.Snapshots()
}

// ResetCircuitBreakers forces every circuit breaker back to closed.
func (e *Engine) ResetCircuitBreakers() {
	e.breakers.ResetAll()
}
