package store

import (
	"time"

	cachepkg "github.com/arqlabs/cascade/internal/cache"
)

// CacheAdapter adapts Store to the cache.Store interface, translating
// between the cache package's Entry type and the SQL row shape.
type CacheAdapter struct {
	store *Store
}

// NewCacheAdapter creates a new CacheAdapter wrapping the given Store.
func NewCacheAdapter(s *Store) *CacheAdapter {
	return &CacheAdapter{store: s}
}

// Compile-time assertion that CacheAdapter implements cache.Store.
var _ cachepkg.Store = (*CacheAdapter)(nil)

// GetCache retrieves a cache entry by key. Hit counts are bumped on the
// way out; a failed bump never fails the read.
func (a *CacheAdapter) GetCache(key string) (*cachepkg.Entry, error) {
	sc, err := a.store.GetCache(key)
	if err != nil {
		return nil, err
	}
	_ = a.store.IncrementHitCount(key)

	createdAt, _ := time.Parse(time.RFC3339, sc.CreatedAt)
	expiresAt, _ := time.Parse(time.RFC3339, sc.ExpiresAt)
	return &cachepkg.Entry{
		Output:    sc.Output,
		Provider:  sc.Provider,
		Category:  sc.Category,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// SetCache stores a cache entry.
func (a *CacheAdapter) SetCache(key string, entry *cachepkg.Entry) error {
	return a.store.SetCache(&CacheEntry{
		Key:       key,
		Category:  entry.Category,
		Provider:  entry.Provider,
		Output:    entry.Output,
		CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		ExpiresAt: entry.ExpiresAt.Format(time.RFC3339),
		HitCount:  0,
	})
}

// DeleteExpiredCache removes all expired cache entries from the store.
func (a *CacheAdapter) DeleteExpiredCache() error {
	_, err := a.store.DeleteExpired()
	return err
}
