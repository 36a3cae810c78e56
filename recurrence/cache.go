package recurrence

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"
)

// cacheEntry is one memoized expansion result.
type cacheEntry struct {
	result     Expansion
	expiresAt  time.Time
	accessedAt time.Time
}

// CacheConfig holds configuration for the expansion cache.
type CacheConfig struct {
	TTL             time.Duration // how long entries stay valid
	MaxEntries      int           // maximum number of entries before eviction
	CleanupInterval time.Duration // how often to run cleanup
}

// DefaultCacheConfig provides sensible defaults for expansion caching.
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// Cache memoizes expansion results keyed by the full expansion input. Since
// expansion is deterministic, a hit is always safe to serve.
type Cache struct {
	entries     map[string]*cacheEntry
	mu          sync.RWMutex
	ttl         time.Duration
	maxEntries  int
	stopCleanup chan struct{}
}

// NewCache creates a cache and starts its cleanup loop.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}
	c := &Cache{
		entries:     make(map[string]*cacheEntry),
		ttl:         cfg.TTL,
		maxEntries:  cfg.MaxEntries,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop(cfg.CleanupInterval)
	return c
}

func cacheKey(anchor time.Time, rule Rule, loc *time.Location, hz Horizon, opts Options) string {
	h := sha256.New()
	h.Write([]byte(anchor.Format(time.RFC3339Nano)))
	h.Write([]byte(rule.String()))
	h.Write([]byte(loc.String()))
	h.Write([]byte(hz.Start.Format(time.RFC3339Nano)))
	h.Write([]byte(hz.End.Format(time.RFC3339Nano)))
	if opts.ApplyExclusions {
		h.Write([]byte{1})
	}
	h.Write([]byte(opts.ExclusionTolerance.String()))
	h.Write([]byte{'x'})
	for _, t := range opts.ExDates {
		h.Write([]byte(t.Format(time.RFC3339Nano)))
	}
	h.Write([]byte{'r'})
	for _, t := range opts.RDates {
		h.Write([]byte(t.Format(time.RFC3339Nano)))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get retrieves a cached expansion if present and not expired.
func (c *Cache) Get(anchor time.Time, rule Rule, loc *time.Location, hz Horizon, opts Options) (Expansion, bool) {
	key := cacheKey(anchor, rule, loc, hz, opts)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Expansion{}, false
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return Expansion{}, false
	}

	c.mu.Lock()
	entry.accessedAt = now
	c.mu.Unlock()
	return entry.result, true
}

// Set stores an expansion result.
func (c *Cache) Set(anchor time.Time, rule Rule, loc *time.Location, hz Horizon, opts Options, result Expansion) {
	key := cacheKey(anchor, rule, loc, hz, opts)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{
		result:     result,
		expiresAt:  now.Add(c.ttl),
		accessedAt: now,
	}
	if len(c.entries) > c.maxEntries {
		c.evict()
	}
}

// evict removes expired entries, then least-recently-accessed entries until
// under the limit. Callers must hold c.mu.
func (c *Cache) evict() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type keyAccess struct {
		key        string
		accessedAt time.Time
	}
	byAge := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		byAge = append(byAge, keyAccess{key, entry.accessedAt})
	}
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].accessedAt.Before(byAge[j].accessedAt) })

	excess := len(c.entries) - c.maxEntries
	for i := 0; i < excess; i++ {
		delete(c.entries, byAge[i].key)
	}
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evict()
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache.
func (c *Cache) Close() {
	close(c.stopCleanup)
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Len reports the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
