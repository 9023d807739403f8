package tenantsql

import (
	"sync"
	"time"
)

// cacheKey identifies one rewrite. The statement text is matched exactly;
// statements differing only in whitespace are separate entries.
type cacheKey struct {
	SQL    string
	Tenant Tenant
}

// cacheEntry stores the result of a rewrite, rejections included.
type cacheEntry struct {
	sql       string
	err       error
	expiresAt time.Time // zero means no expiry
}

// Cache stores rewrite results.
// It is safe for concurrent use from multiple goroutines.
//
// A rewrite depends only on the statement, the tenant and the Rewriter's
// options, so a Cache must not be shared between Rewriters configured
// differently.
type Cache interface {
	// Get retrieves a cached rewrite.
	// Returns (sql, err, found). If found is false, the entry doesn't exist or is expired.
	Get(sql string, tenant Tenant) (out string, err error, ok bool)

	// Set stores a rewrite result in the cache.
	Set(sql string, tenant Tenant, out string, err error)
}

// CacheImpl is the default in-memory cache implementation with optional TTL.
// It uses a sync.RWMutex for goroutine safety.
//
// The cache grows unbounded within its TTL window. Applications that accept
// free-form SQL from many callers should set a TTL or clear it periodically.
type CacheImpl struct {
	mu    sync.RWMutex
	items map[cacheKey]cacheEntry
	ttl   time.Duration // 0 means no expiry
}

// CacheOption configures a Cache.
type CacheOption func(*CacheImpl)

// WithTTL sets the time-to-live for cache entries.
// A TTL of 0 (default) means entries never expire within the cache's lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CacheImpl) {
		c.ttl = ttl
	}
}

// NewCache creates a new rewrite cache.
func NewCache(opts ...CacheOption) *CacheImpl {
	c := &CacheImpl{
		items: make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a cached rewrite.
func (c *CacheImpl) Get(sql string, tenant Tenant) (string, error, bool) {
	key := cacheKey{SQL: sql, Tenant: tenant}

	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return "", nil, false
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return "", nil, false
	}

	return entry.sql, entry.err, true
}

// Set stores a rewrite result in the cache.
func (c *CacheImpl) Set(sql string, tenant Tenant, out string, err error) {
	entry := cacheEntry{
		sql: out,
		err: err,
	}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	c.items[cacheKey{SQL: sql, Tenant: tenant}] = entry
	c.mu.Unlock()
}

// Size returns the number of entries in the cache.
func (c *CacheImpl) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all entries from the cache.
func (c *CacheImpl) Clear() {
	c.mu.Lock()
	c.items = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

// Ensure CacheImpl implements Cache.
var _ Cache = (*CacheImpl)(nil)
