package authz

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	result  AuthorizationResult
	expires time.Time
}

// DecisionCache is a bounded, TTL-evicting cache of AuthorizationResult
// keyed by request Fingerprint (spec.md §4.6, C10). A hit is returned with
// Cached set to true and is otherwise identical to what a fresh evaluation
// would have produced at insertion time.
type DecisionCache struct {
	ttl time.Duration
	lru *lru.Cache[Fingerprint, cacheEntry]

	hits   atomic.Uint64
	misses atomic.Uint64

	mu sync.Mutex // guards Clear racing with Get/Put on the underlying lru.Cache
}

// NewDecisionCache builds a cache holding at most maxSize entries, each
// valid for ttl after insertion.
func NewDecisionCache(maxSize int, ttl time.Duration) (*DecisionCache, error) {
	c, err := lru.New[Fingerprint, cacheEntry](maxSize)
	if err != nil {
		return nil, err
	}
	return &DecisionCache{ttl: ttl, lru: c}, nil
}

// Get returns the cached result for fp, if present and not expired.
func (c *DecisionCache) Get(fp Fingerprint) (AuthorizationResult, bool) {
	c.mu.Lock()
	entry, ok := c.lru.Get(fp)
	c.mu.Unlock()

	if !ok || time.Now().After(entry.expires) {
		c.misses.Add(1)
		if ok {
			c.mu.Lock()
			c.lru.Remove(fp)
			c.mu.Unlock()
		}
		return AuthorizationResult{}, false
	}
	c.hits.Add(1)
	result := entry.result
	result.Cached = true
	return result, true
}

// Put inserts result under fp, evicting the least recently used entry if
// the cache is at capacity.
func (c *DecisionCache) Put(fp Fingerprint, result AuthorizationResult) {
	c.mu.Lock()
	c.lru.Add(fp, cacheEntry{result: result, expires: time.Now().Add(c.ttl)})
	c.mu.Unlock()
}

// Clear drops every cached entry, used by the reload coordinator after a
// rule or policy swap.
func (c *DecisionCache) Clear() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// Stats is the size/hit-rate snapshot returned by Engine::cache_stats.
type Stats struct {
	Size    int
	HitRate float64
}

// Stats reports the cache's current size and lifetime hit rate.
func (c *DecisionCache) Stats() Stats {
	c.mu.Lock()
	size := c.lru.Len()
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses
	if total == 0 {
		return Stats{Size: size, HitRate: 0}
	}
	return Stats{Size: size, HitRate: float64(hits) / float64(total)}
}
