package dispatch

import "sync"

// EthernetKey is the well-known DispatchContext key under which the
// dispatcher stores the pre-parsed Ethernet header of a PACKET_IN, when
// parsing succeeds.
const EthernetKey = "ethernet"

// DispatchContext is the per-dispatch scratch space threaded through every
// listener invoked for one message. Instances are pooled: a caller that
// passes nil to Dispatcher.Dispatch gets one from the free list and never
// sees it again after the call returns.
type DispatchContext struct {
	mu     sync.Mutex
	values map[string]any
}

func (c *DispatchContext) reset() {
	c.mu.Lock()
	for k := range c.values {
		delete(c.values, k)
	}
	c.mu.Unlock()
}

// Set attaches a value under key, visible to every listener invoked after
// this call for the same dispatch.
func (c *DispatchContext) Set(key string, v any) {
	c.mu.Lock()
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = v
	c.mu.Unlock()
}

// Get retrieves a value previously attached with Set.
func (c *DispatchContext) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}
