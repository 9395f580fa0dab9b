package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// tier1 is the in-memory eviction strategy contract: LRU, TTL, and Hybrid
// all implement it, grounded on the original source's CacheStrategy base
// class (get/put/remove), now backed by golang-lru/v2's Cache and its
// expirable variant instead of the original's hand-rolled OrderedDict.
type tier1 interface {
	get(key string) (Entry, bool)
	put(e Entry)
	remove(key string)
	len() int
}

// lruTier is a pure least-recently-used strategy: no entry ever expires on
// its own, only on eviction when the cache is full.
type lruTier struct {
	c *lru.Cache[string, Entry]
}

func newLRUTier(capacity int) *lruTier {
	if capacity <= 0 {
		capacity = DefaultConfig().Tier1Capacity
	}
	c, _ := lru.New[string, Entry](capacity)
	return &lruTier{c: c}
}

func (t *lruTier) get(key string) (Entry, bool) {
	e, ok := t.c.Get(key)
	if !ok {
		return Entry{}, false
	}
	e.LastAccessed = time.Now()
	e.AccessCount++
	t.c.Add(key, e)
	return e, true
}

func (t *lruTier) put(e Entry) { t.c.Add(e.Key, e) }

func (t *lruTier) remove(key string) { t.c.Remove(key) }

func (t *lruTier) len() int { return t.c.Len() }

// ttlTier expires entries a fixed duration after they were last written or
// read: get re-adds a live entry, which restarts its TTL and moves it to the
// front, so once over capacity golang-lru/v2's expirable.LRU evicts the
// least recently accessed live entry.
type ttlTier struct {
	c *expirable.LRU[string, Entry]
}

func newTTLTier(capacity int, ttl time.Duration) *ttlTier {
	if capacity <= 0 {
		capacity = DefaultConfig().Tier1Capacity
	}
	if ttl <= 0 {
		ttl = DefaultConfig().DefaultTTL
	}
	return &ttlTier{c: expirable.NewLRU[string, Entry](capacity, nil, ttl)}
}

func (t *ttlTier) get(key string) (Entry, bool) {
	e, ok := t.c.Get(key)
	if !ok {
		return Entry{}, false
	}
	e.LastAccessed = time.Now()
	e.AccessCount++
	t.c.Add(key, e)
	return e, true
}

func (t *ttlTier) put(e Entry) { t.c.Add(e.Key, e) }

func (t *ttlTier) remove(key string) { t.c.Remove(key) }

func (t *ttlTier) len() int { return t.c.Len() }

// hybridTier layers LRU recency over TTL expiry — expirable.LRU already
// evicts the least-recently-used entry on overflow and prunes expired
// entries lazily on access, which is exactly the original's
// expired-first-then-LRU eviction order.
type hybridTier struct {
	c *expirable.LRU[string, Entry]
}

func newHybridTier(capacity int, ttl time.Duration) *hybridTier {
	if capacity <= 0 {
		capacity = DefaultConfig().Tier1Capacity
	}
	if ttl <= 0 {
		ttl = DefaultConfig().DefaultTTL
	}
	return &hybridTier{c: expirable.NewLRU[string, Entry](capacity, nil, ttl)}
}

func (t *hybridTier) get(key string) (Entry, bool) {
	e, ok := t.c.Get(key)
	if !ok {
		return Entry{}, false
	}
	e.LastAccessed = time.Now()
	e.AccessCount++
	t.c.Add(key, e)
	return e, true
}

func (t *hybridTier) put(e Entry) { t.c.Add(e.Key, e) }

func (t *hybridTier) remove(key string) { t.c.Remove(key) }

func (t *hybridTier) len() int { return t.c.Len() }

func newTier1(cfg Config) tier1 {
	switch cfg.Strategy {
	case StrategyLRU:
		return newLRUTier(cfg.Tier1Capacity)
	case StrategyTTL:
		return newTTLTier(cfg.Tier1Capacity, cfg.DefaultTTL)
	default:
		return newHybridTier(cfg.Tier1Capacity, cfg.DefaultTTL)
	}
}
