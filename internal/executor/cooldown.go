package executor

import (
	"sync"
	"time"
)

// cooldownTracker enforces spec §4.6's post-failure cooldown: after an
// action execution fails for a node, that node is ineligible for further
// executions for CooldownDuration. This is a single-trip simplification of
// the pack's multi-state circuit breaker (CLOSED/OPEN/HALF_OPEN with a
// failure-threshold trip) — the spec calls for an unconditional cooldown on
// the very first failure, not a tolerance budget, so there is no CLOSED
// failure counter and no HALF_OPEN probe phase; one failure opens the gate
// and it closes again on its own after the timeout elapses.
type cooldownTracker struct {
	mu       sync.Mutex
	duration time.Duration
	until    map[string]time.Time
	now      func() time.Time
}

func newCooldownTracker(duration time.Duration) *cooldownTracker {
	return &cooldownTracker{
		duration: duration,
		until:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether nodeID is clear to receive a new execution.
func (c *cooldownTracker) Allow(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, tripped := c.until[nodeID]
	if !tripped {
		return true
	}
	if !c.now().Before(until) {
		delete(c.until, nodeID)
		return true
	}
	return false
}

// Trip opens the cooldown gate for nodeID following a failed execution.
func (c *cooldownTracker) Trip(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[nodeID] = c.now().Add(c.duration)
}

// Clear closes the cooldown gate early, used when a node's decision
// succeeds and the prior failure no longer applies.
func (c *cooldownTracker) Clear(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.until, nodeID)
}

// Count reports how many nodes currently have an open cooldown gate.
func (c *cooldownTracker) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, until := range c.until {
		if c.now().Before(until) {
			n++
		}
	}
	return n
}

// Remaining reports how long until nodeID clears cooldown, or zero if it
// is already clear.
func (c *cooldownTracker) Remaining(nodeID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, tripped := c.until[nodeID]
	if !tripped {
		return 0
	}
	remaining := until.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
