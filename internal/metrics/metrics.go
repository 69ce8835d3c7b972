// Package metrics provides an explicit call-counter collector passed by
// reference to the components that need it. There are no package-level
// mutable counters anywhere in the engine.
package metrics

import (
	"sort"
	"sync"
)

// Collector counts named events. Safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{counters: make(map[string]int64)}
}

// Inc increments a named counter by one
func (c *Collector) Inc(name string) {
	c.Add(name, 1)
}

// Add increments a named counter by n
func (c *Collector) Add(name string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += n
}

// Get returns the current value of a counter (zero if never incremented)
func (c *Collector) Get(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// Snapshot returns a copy of all counters
func (c *Collector) Snapshot() map[string]int64 {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}

// Names returns the sorted counter names
func (c *Collector) Names() []string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.counters))
	for k := range c.counters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
