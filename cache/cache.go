package cache

import (
	"time"
)

// Cache is the hybrid tiered embedding cache: Tier 1 in memory, Tier 2
// durable on disk. A nil Tier2 runs memory-only, which is enough for
// short-lived processes and tests.
type Cache struct {
	cfg   Config
	t1    tier1
	t2    *Store
}

// New constructs a Cache. store may be nil to disable Tier 2.
func New(cfg Config, store *Store) *Cache {
	if cfg.Tier1Capacity <= 0 {
		cfg = DefaultConfig()
	}
	return &Cache{cfg: cfg, t1: newTier1(cfg), t2: store}
}

// Get resolves a single key: Tier 1, falling back to Tier 2 with promotion
// on hit.
func (c *Cache) Get(key string) ([]float32, bool) {
	if e, ok := c.t1.get(key); ok {
		return e.Vector, true
	}
	if c.t2 == nil {
		return nil, false
	}
	e, found, err := c.t2.Get(key)
	if err != nil || !found {
		return nil, false
	}
	c.t1.put(e)
	return e.Vector, true
}

// Put writes an entry write-through to both tiers.
func (c *Cache) Put(key, modelID string, vector []float32, docID string, chunkOrdinal, tokenCount int) error {
	now := time.Now()
	e := Entry{
		Key:          key,
		Vector:       vector,
		ModelID:      modelID,
		TokenCount:   tokenCount,
		DocID:        docID,
		ChunkOrdinal: chunkOrdinal,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  1,
	}
	c.t1.put(e)
	if c.t2 != nil {
		return c.t2.Put(e)
	}
	return nil
}

// BatchGet resolves every item against the cache, returning hits and the
// items that still need a provider call.
func (c *Cache) BatchGet(items []Item) BatchResult {
	result := BatchResult{Hits: make(map[string][]float32, len(items))}
	for _, it := range items {
		if v, ok := c.Get(it.Key); ok {
			result.Hits[it.Key] = v
			continue
		}
		result.Misses = append(result.Misses, it)
	}
	return result
}

// BatchPut writes a set of resolved vectors back into the cache, keyed by
// the same key each Item carried into BatchGet's miss list.
func (c *Cache) BatchPut(items []Item, vectors map[string][]float32) error {
	for _, it := range items {
		v, ok := vectors[it.Key]
		if !ok {
			continue
		}
		if err := c.Put(it.Key, it.ModelID, v, it.DocID, it.ChunkOrdinal, it.TokenCount); err != nil {
			return err
		}
	}
	return nil
}

// WarmUp loads the most-accessed Tier 2 entries into Tier 1, up to
// capacity/3, per §4.4.
func (c *Cache) WarmUp() (int, error) {
	if c.t2 == nil {
		return 0, nil
	}
	limit := c.cfg.Tier1Capacity / 3
	if limit <= 0 {
		return 0, nil
	}
	entries, err := c.t2.MostAccessed(c.cfg.PopularThreshold, limit)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		c.t1.put(e)
	}
	return len(entries), nil
}

// WarmUpDocument loads up to capacity/2 entries for a specific document
// into Tier 1, for document-scoped warm-up.
func (c *Cache) WarmUpDocument(docID string) (int, error) {
	if c.t2 == nil {
		return 0, nil
	}
	limit := c.cfg.Tier1Capacity / 2
	if limit <= 0 {
		return 0, nil
	}
	entries, err := c.t2.ByDocument(docID, limit)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		c.t1.put(e)
	}
	return len(entries), nil
}

// Tier1Len reports the current Tier 1 occupancy, mainly for tests/metrics.
func (c *Cache) Tier1Len() int { return c.t1.len() }
