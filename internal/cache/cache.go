// Package cache provides a two-tier (in-memory LRU + persistent store)
// cache for dispatch results.
package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/arqlabs/cascade/internal/dispatch"
)

// Entry is a cached dispatch result with expiry metadata.
type Entry struct {
	Output    string    `json:"output"`
	Provider  string    `json:"provider"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry has passed its expiration time.
func (e *Entry) Expired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Store is the persistence interface for cached results. Implementations
// may use SQLite or other backends; a nil Store gives a memory-only cache.
type Store interface {
	GetCache(key string) (*Entry, error)
	SetCache(key string, entry *Entry) error
	DeleteExpiredCache() error
}

// Cache is a two-tier result cache. Lookups check the in-memory LRU
// first, then the persistent store, promoting hits back to memory.
type Cache struct {
	memory  *lru.Cache[string, *Entry]
	store   Store
	ttl     time.Duration
	enabled bool
}

// New creates a Cache.
//
//   - store is the persistent backend (may be nil for memory-only).
//   - ttlSeconds is the time-to-live for entries in seconds.
//   - maxMemoryEntries caps the in-memory LRU.
//   - enabled controls whether the cache is active at all.
func New(store Store, ttlSeconds int, maxMemoryEntries int, enabled bool) (*Cache, error) {
	if maxMemoryEntries <= 0 {
		maxMemoryEntries = 1000
	}

	memCache, err := lru.New[string, *Entry](maxMemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}

	return &Cache{
		memory:  memCache,
		store:   store,
		ttl:     time.Duration(ttlSeconds) * time.Second,
		enabled: enabled,
	}, nil
}

// Enabled reports whether the cache is active.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Get returns the cached entry for a task, or nil on a miss. Degraded
// results are never stored, so any hit came from a real provider.
func (c *Cache) Get(task *dispatch.Task) *Entry {
	if !c.enabled || !Cacheable(task) {
		return nil
	}

	key := Key(task)

	// Tier 1: in-memory LRU.
	if entry, ok := c.memory.Get(key); ok {
		if !entry.Expired() {
			return entry
		}
		c.memory.Remove(key)
	}

	// Tier 2: persistent store.
	if c.store != nil {
		entry, err := c.store.GetCache(key)
		if err == nil && entry != nil && !entry.Expired() {
			c.memory.Add(key, entry)
			return entry
		}
	}

	return nil
}

// Put stores a dispatch result for a task. Degraded and cancelled
// results are ignored: canned fallback output must never shadow a real
// provider answer on later requests.
func (c *Cache) Put(task *dispatch.Task, result *dispatch.Result) {
	if !c.enabled || result == nil || !Cacheable(task) {
		return
	}
	if result.Degraded || result.Cancelled {
		return
	}

	now := time.Now()
	entry := &Entry{
		Output:    result.Output,
		Provider:  result.Provider,
		Category:  string(task.Category),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	key := Key(task)
	c.memory.Add(key, entry)

	if c.store != nil {
		if err := c.store.SetCache(key, entry); err != nil {
			log.Warn().Err(err).Msg("cache: persisting entry failed")
		}
	}
}

// StartPurger starts a background goroutine that periodically removes
// expired entries from both tiers. It runs every 5 minutes until the
// context is cancelled. The returned channel is closed when the
// goroutine exits, letting callers drain it before closing the store.
func (c *Cache) StartPurger(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error().Interface("panic", r).Msg("cache purger: recovered from panic")
						}
					}()
					c.purge()
				}()
			}
		}
	}()
	return done
}

// purge removes expired entries from the persistent store and the LRU.
func (c *Cache) purge() {
	if c.store != nil {
		_ = c.store.DeleteExpiredCache()
	}

	for _, key := range c.memory.Keys() {
		if entry, ok := c.memory.Peek(key); ok && entry.Expired() {
			c.memory.Remove(key)
		}
	}
}
