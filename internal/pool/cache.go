package pool

import "sync"

// Cache holds at most one pool per session identity so sequential folders
// of one analysis reuse connections instead of redialing. It is an
// explicit object owned by whoever runs analyses (the API server or a CLI
// invocation) and has exactly one invalidation path; there is no ambient
// global pool state.
type Cache struct {
	mu    sync.Mutex
	pools map[string]*Pool
}

// NewCache creates an empty pool cache.
func NewCache() *Cache {
	return &Cache{pools: make(map[string]*Pool)}
}

// Get returns the cached pool for key, if any.
func (c *Cache) Get(key string) (*Pool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[key]
	return p, ok
}

// Put caches a pool under key, closing any pool it displaces.
func (c *Cache) Put(key string, p *Pool) {
	c.mu.Lock()
	old := c.pools[key]
	c.pools[key] = p
	c.mu.Unlock()

	if old != nil && old != p {
		old.Close()
	}
}

// Invalidate closes and forgets the pool for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	p := c.pools[key]
	delete(c.pools, key)
	c.mu.Unlock()

	if p != nil {
		p.Close()
	}
}

// InvalidateAll closes and forgets every cached pool.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	pools := c.pools
	c.pools = make(map[string]*Pool)
	c.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}

// Len returns the number of cached pools.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pools)
}

// Snapshot returns per-key stats for every cached pool, for the admin
// routes.
func (c *Cache) Snapshot() map[string]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Stats, len(c.pools))
	for k, p := range c.pools {
		out[k] = p.Stats()
	}
	return out
}
