// Package telemetry samples the local node's resource utilization on a
// fixed tick via direct OS reads, records the reports that arrive for
// remote nodes over the same transport External Connectors use (spec
// §4.4), and keeps a bounded per-node sliding window for the predictor's
// feature vector, decaying/recovering node availability on failure.
package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/infra/metrics"
)

// Config configures the telemetry collector.
type Config struct {
	SampleInterval time.Duration // default 60s; drives the local node's ticker only
	WindowSize     int           // bounded sliding window per node (default 600)
}

// DefaultConfig returns production telemetry defaults.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 60 * time.Second,
		WindowSize:     600,
	}
}

// Collector samples the local node's resource state on a ticker, accepts
// pushed samples for every other registered node, and maintains a bounded
// sliding window per node for downstream feature extraction.
type Collector struct {
	cfg       Config
	store     domain.Store
	publisher domain.EventPublisher
	localNodeID string

	mu      sync.RWMutex
	windows map[string][]domain.ResourceState

	prevJiffies *cpuJiffies
}

// New creates a Collector. localNodeID identifies the node this process
// runs on, the only one it samples by reading the OS directly; every other
// node registered in store accumulates samples only as they're pushed in
// via RecordRemote (wired from the orchestrator's resource_state_update
// messages), never by this ticker.
func New(cfg Config, store domain.Store, publisher domain.EventPublisher, localNodeID string) *Collector {
	return &Collector{
		cfg:         cfg,
		store:       store,
		publisher:   publisher,
		localNodeID: localNodeID,
		windows:     make(map[string][]domain.ResourceState),
	}
}

// Run samples the local node on a ticker until ctx is canceled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tickLocal(ctx)
		}
	}
}

func (c *Collector) tickLocal(ctx context.Context) {
	cpuPct, memPct, nextJiffies, err := sampleLocal(c.prevJiffies)
	c.prevJiffies = nextJiffies
	if err != nil {
		log.Printf("telemetry: sampling failed for %s: %v", c.localNodeID, err)
		c.markFailure(c.localNodeID)
		return
	}
	diskPct, err := readDiskPercent()
	if err != nil {
		log.Printf("telemetry: disk sampling failed for %s: %v", c.localNodeID, err)
	}

	c.record(ctx, domain.ResourceState{
		NodeID:        c.localNodeID,
		Timestamp:     time.Now().Unix(),
		CPUPercent:    cpuPct,
		MemoryPercent: memPct,
		DiskPercent:   diskPct,
	})
}

// RecordRemote accepts one resource sample for a non-local node, the path
// a remote-lan/cloud node's telemetry takes since this process has no
// local OS handle on it: the orchestrator connection forwards periodic
// resource_state_update reports, and the daemon bridges them here so a
// registered remote node's predictor/policy/executor path isn't
// permanently starved for history.
func (c *Collector) RecordRemote(ctx context.Context, nodeID string, cpuPct, memPct, diskPct float64) {
	c.record(ctx, domain.ResourceState{
		NodeID:        nodeID,
		Timestamp:     time.Now().Unix(),
		CPUPercent:    cpuPct,
		MemoryPercent: memPct,
		DiskPercent:   diskPct,
	})
}

// record appends state to its node's window, persists it, adjusts
// availability, and publishes the performance-metrics event — the shared
// tail end of both the local ticker and a pushed remote sample.
func (c *Collector) record(ctx context.Context, state domain.ResourceState) {
	c.appendWindow(state)
	if err := c.store.AppendResourceState(state); err != nil {
		log.Printf("telemetry: persist state for %s: %v", state.NodeID, err)
	}
	c.markSuccess(state.NodeID)

	metrics.NodeLoadScore.WithLabelValues(state.NodeID).Set(state.LoadScore())

	_ = c.publisher.Publish(ctx, domain.Event{
		Type:      domain.EventPerformanceMetrics,
		Timestamp: time.Now(),
		Source:    "telemetry",
		Priority:  3,
		Payload: map[string]any{
			"node_id":    state.NodeID,
			"cpu_pct":    state.CPUPercent,
			"memory_pct": state.MemoryPercent,
			"disk_pct":   state.DiskPercent,
			"load_score": state.LoadScore(),
		},
	})
}

func (c *Collector) appendWindow(state domain.ResourceState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := append(c.windows[state.NodeID], state)
	if len(w) > c.cfg.WindowSize {
		w = w[len(w)-c.cfg.WindowSize:]
	}
	c.windows[state.NodeID] = w
}

// Window returns the current sliding window for a node, oldest first.
func (c *Collector) Window(nodeID string) []domain.ResourceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w := c.windows[nodeID]
	out := make([]domain.ResourceState, len(w))
	copy(out, w)
	return out
}

// markFailure decays a node's availability score after a failed sample.
func (c *Collector) markFailure(nodeID string) {
	c.adjustAvailability(nodeID, func(n *domain.Node) { n.DecayAvailability() })
}

// markSuccess recovers a node's availability score after a successful
// sample.
func (c *Collector) markSuccess(nodeID string) {
	c.adjustAvailability(nodeID, func(n *domain.Node) { n.RecoverAvailability() })
}

func (c *Collector) adjustAvailability(nodeID string, apply func(*domain.Node)) {
	n, err := c.store.GetNode(nodeID)
	if err != nil {
		return
	}
	apply(n)
	if err := c.store.UpsertNode(*n); err != nil {
		log.Printf("telemetry: persist availability for %s: %v", nodeID, err)
	}
	metrics.NodeAvailability.WithLabelValues(nodeID).Set(n.AvailabilityScore)
}
