package compliance

import (
	"slices"
	"sync"
)

// Counters holds cumulative violation counts per item for the life of the
// process. Counts only ever increase.
type Counters struct {
	mu     sync.RWMutex
	counts map[ItemClass]int64
}

// NewCounters creates zeroed counters for items.
func NewCounters(items []ItemClass) *Counters {
	c := &Counters{counts: make(map[ItemClass]int64, len(items))}
	for _, it := range items {
		c.counts[it] = 0
	}
	return c
}

// Apply increments every missing item for OPENED and CHANGED events.
// CLOSED events never count, and neither do items missing only because
// they have not been sampled yet.
func (c *Counters) Apply(ev ViolationEvent) {
	if ev.Kind != EventOpened && ev.Kind != EventChanged {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range ev.MissingItems {
		if slices.Contains(ev.Unsampled, it) {
			continue
		}
		c.counts[it]++
	}
}

// Snapshot returns a copy keyed by item name.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[string(k)] = v
	}
	return out
}
