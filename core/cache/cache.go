package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hyper-light/recall/core/domain"
)

// Config bounds the cache.
type Config struct {
	// MaxEntries is the LRU capacity.
	MaxEntries int

	// TTL is the per-entry time to live. Whichever of TTL or the LRU
	// bound triggers first wins.
	TTL time.Duration
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{MaxEntries: 4096, TTL: time.Hour}
}

// QueryCache is a bounded, TTL'd cache of ranked results. Concurrent Get
// and Put are safe: the expirable LRU serializes access internally, so a
// Get never observes a partially written entry.
type QueryCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, Entry]

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a QueryCache with the given bounds. Zero fields fall back to
// defaults.
func New(cfg Config) *QueryCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &QueryCache{
		lru: expirable.NewLRU[string, Entry](cfg.MaxEntries, nil, cfg.TTL),
	}
}

// Get returns the cached ranking for key, if present and unexpired.
func (c *QueryCache) Get(key Key) (domain.RankedResults, bool) {
	c.mu.Lock()
	entry, ok := c.lru.Get(key.String())
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return domain.RankedResults{}, false
	}
	c.hits.Add(1)

	results := entry.Results
	results.FromCache = true
	return results, true
}

// Put stores a ranking under key.
func (c *QueryCache) Put(key Key, results domain.RankedResults) {
	// Cached copies never carry per-call fields.
	results.FromCache = false
	results.InteractionID = ""

	c.mu.Lock()
	c.lru.Add(key.String(), Entry{Results: results, StoredAt: time.Now()})
	c.mu.Unlock()
}

// Invalidate removes every entry whose tag matches the glob pattern, e.g.
// "persona:alice|*" for all of one persona's entries or "*|v:v1|*" for a
// retired embedding model. Returns the number of entries removed.
func (c *QueryCache) Invalidate(pattern string) (int, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid cache invalidation pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, tag := range c.lru.Keys() {
		if g.Match(tag) {
			if c.lru.Remove(tag) {
				removed++
			}
		}
	}
	return removed, nil
}

// InvalidatePersona removes every entry for one persona.
func (c *QueryCache) InvalidatePersona(persona string) int {
	removed, _ := c.Invalidate("persona:" + persona + "|*")
	return removed
}

// Purge drops all entries.
func (c *QueryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats holds cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Stats returns hit/miss counters and the live entry count.
func (c *QueryCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}
