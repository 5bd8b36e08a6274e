package llm

import "sync"

// CapabilityCache memoizes per-model capabilities for an adapter's lifetime.
// Safe for concurrent use; the compute function must be pure.
type CapabilityCache struct {
	mu sync.RWMutex
	m  map[string]ModelCapabilities
}

// NewCapabilityCache creates an empty cache.
func NewCapabilityCache() *CapabilityCache {
	return &CapabilityCache{m: make(map[string]ModelCapabilities)}
}

// GetOrCompute returns the cached capabilities for model, computing and
// storing them on first access.
func (c *CapabilityCache) GetOrCompute(model string, compute func(string) ModelCapabilities) ModelCapabilities {
	c.mu.RLock()
	caps, ok := c.m[model]
	c.mu.RUnlock()
	if ok {
		return caps
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if caps, ok := c.m[model]; ok {
		return caps
	}
	caps = compute(model)
	c.m[model] = caps
	return caps
}
