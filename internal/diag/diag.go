// Package diag collects non-fatal diagnostics produced while dispatching a
// pipeline: a slot that several equally specific deliveries matched, for
// which the most recently registered one was chosen. Warnings accumulate
// here and surface through Pipeline.Warnings() instead of being printed.
package diag

import "sync"

// Warning is one recorded non-fatal event.
type Warning struct {
	Slot       string
	Candidates int
	Chosen     string
}

// Collector accumulates warnings safely across concurrent dispatch calls.
type Collector struct {
	mu       sync.Mutex
	warnings []Warning
}

// New creates an empty Collector.
func New() *Collector {
	return &Collector{}
}

// Add records a warning.
func (c *Collector) Add(w Warning) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, w)
}

// All returns a snapshot of the recorded warnings.
func (c *Collector) All() []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Warning, len(c.warnings))
	copy(out, c.warnings)
	return out
}
