package discovery

import (
	"sort"
	"sync"
)

// Cache maps service names to their current node list. Entries are
// replaced wholesale on every update, so readers never observe a partially
// applied health round. Only the Reconciler and its watch sessions write.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]Node
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string][]Node)}
}

// Get returns a copy of the nodes cached for service.
func (c *Cache) Get(service string) ([]Node, bool) {
	c.mu.RLock()
	nodes, ok := c.entries[service]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneNodes(nodes), true
}

// Has reports whether service has an entry.
func (c *Cache) Has(service string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[service]
	return ok
}

// Set replaces the entry for service.
func (c *Cache) Set(service string, nodes []Node) {
	cp := cloneNodes(nodes)
	c.mu.Lock()
	c.entries[service] = cp
	c.mu.Unlock()
}

// Delete removes the entry for service and reports whether one existed.
func (c *Cache) Delete(service string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[service]
	delete(c.entries, service)
	return ok
}

// Names returns the cached service names in sorted order.
func (c *Cache) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of every entry.
func (c *Cache) Snapshot() map[string][]Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]Node, len(c.entries))
	for name, nodes := range c.entries {
		out[name] = cloneNodes(nodes)
	}
	return out
}

// Len returns the number of cached services.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cloneNodes copies nodes including their tag slices, so nothing handed
// out aliases cache memory.
func cloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	copy(out, nodes)
	for i := range out {
		if out[i].Tags != nil {
			out[i].Tags = append([]string(nil), out[i].Tags...)
		}
	}
	return out
}

// UpdateHandler receives the new node list of a service after each update.
type UpdateHandler func(service string, nodes []Node)

// Handlers holds at most one UpdateHandler per service name.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[string]UpdateHandler
}

// NewHandlers creates an empty handler table.
func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[string]UpdateHandler)}
}

// On sets the handler for service, replacing any previous one. A nil fn
// removes it.
func (h *Handlers) On(service string, fn UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.handlers, service)
		return
	}
	h.handlers[service] = fn
}

// Notify invokes the handler registered for service, if any.
func (h *Handlers) Notify(service string, nodes []Node) {
	h.mu.RLock()
	fn := h.handlers[service]
	h.mu.RUnlock()
	if fn != nil {
		fn(service, cloneNodes(nodes))
	}
}
