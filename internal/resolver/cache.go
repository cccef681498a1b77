package resolver

import (
	"context"
	"sync"
	"time"
)

// Entry is the cached resolution for a short key. The authoritative expiry
// travels with the destination so a stale cache can never serve an expired
// link.
type Entry struct {
	OriginalURL string     `json:"original_url"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Cache is a shared-read, invalidate-on-write cache keyed by short key.
// Entries older than the freshness window must stop being returned.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	entry   Entry
	staleAt time.Time
}

// MemoryCache is an in-process Cache for tests and single-node deployments
// without Redis. Safe for concurrent use.
type MemoryCache struct {
	freshness time.Duration

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates a MemoryCache with the given freshness window.
func NewMemoryCache(freshness time.Duration) *MemoryCache {
	return &MemoryCache{
		freshness: freshness,
		entries:   make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return Entry{}, false, nil
	}
	if time.Now().After(e.staleAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return Entry{}, false, nil
	}
	return e.entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry Entry) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{entry: entry, staleAt: time.Now().Add(c.freshness)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}
