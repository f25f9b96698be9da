package flow

import "sync"

// ArrayCache is an ordered in-memory cache of flows keyed by name.
// Order is the storage listing order and is preserved across updates
// and renames; only removals compact it.
type ArrayCache struct {
	mu    sync.RWMutex
	items []*Flow
	index map[string]int
}

// NewArrayCache returns an empty cache.
func NewArrayCache() *ArrayCache {
	return &ArrayCache{index: map[string]int{}}
}

// Initialize replaces the whole cache content.
func (c *ArrayCache) Initialize(flows []*Flow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make([]*Flow, len(flows))
	copy(c.items, flows)
	c.reindex()
}

// Values returns a copy of the cached flows in order.
func (c *ArrayCache) Values() []*Flow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Flow, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of cached flows.
func (c *ArrayCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns the flow by key, or nil.
func (c *ArrayCache) Get(key string) *Flow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i, ok := c.index[key]; ok {
		return c.items[i]
	}
	return nil
}

// Update replaces the flow stored under key in place, or appends it
// when the key is new.
func (c *ArrayCache) Update(key string, f *Flow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.index[key]; ok {
		c.items[i] = f
		return
	}
	c.items = append(c.items, f)
	c.index[f.Name] = len(c.items) - 1
}

// Rename re-keys a flow without reordering it.
func (c *ArrayCache) Rename(key, newKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[key]
	if !ok {
		return
	}
	f := *c.items[i]
	f.Name = newKey
	f.Location = newKey
	c.items[i] = &f
	delete(c.index, key)
	c.index[newKey] = i
}

// Remove drops the flow stored under key.
func (c *ArrayCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[key]
	if !ok {
		return
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.reindex()
}

func (c *ArrayCache) reindex() {
	c.index = make(map[string]int, len(c.items))
	for i, f := range c.items {
		c.index[f.Name] = i
	}
}
