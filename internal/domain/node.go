// Package domain holds the core's entity types and the sentinel errors and
// interfaces that bind subsystems together. Types here carry no
// infrastructure dependency — persistence, transport, and math all live in
// their own packages and depend on domain, never the other way around.
package domain

import (
	"runtime"
	"time"
)

// NodeType classifies where a managed compute node lives.
type NodeType string

const (
	NodeLocal      NodeType = "local"
	NodeRemoteLAN  NodeType = "remote-lan"
	NodeCloud      NodeType = "cloud"
)

// NodeStatus tracks a node's operational state.
type NodeStatus string

const (
	NodeActive      NodeStatus = "active"
	NodeIdle        NodeStatus = "idle"
	NodeMaintenance NodeStatus = "maintenance"
	NodeOffline     NodeStatus = "offline"
)

// Capabilities describes what a node can offer.
type Capabilities struct {
	CPUCores   int   `json:"cpu_cores"`
	MemoryBytes int64 `json:"memory_bytes"`
	HasGPU     bool  `json:"has_gpu"`
}

// DetectLocal fills in Capabilities for the node the process is running
// on. There is no hardware-inventory library anywhere in the retrieval
// pack, so this stays on runtime.NumCPU(); memory and GPU detection are
// left to the caller to override from a platform-specific probe (the
// telemetry sampler already reads /proc/meminfo on Linux for the same
// purpose, but duplicating that here would pull an infra dependency into
// domain).
func (c Capabilities) DetectLocal() Capabilities {
	c.CPUCores = runtime.NumCPU()
	return c
}

// Node is a managed compute endpoint.
type Node struct {
	ID                string       `json:"node_id"`
	Type              NodeType     `json:"type"`
	Address           string       `json:"address"`
	Capabilities      Capabilities `json:"capabilities"`
	CostPerHour       float64      `json:"cost_per_hour"`
	Status            NodeStatus   `json:"status"`
	AvailabilityScore float64      `json:"availability_score"`
	RegisteredAt      time.Time    `json:"registered_at"`
}

// DecayAvailability applies a consecutive-telemetry-failure penalty,
// floored at 0.
func (n *Node) DecayAvailability() {
	n.AvailabilityScore *= 0.95
	if n.AvailabilityScore < 0 {
		n.AvailabilityScore = 0
	}
}

// RecoverAvailability applies a successful-telemetry bonus, capped at 1.
func (n *Node) RecoverAvailability() {
	n.AvailabilityScore += 0.05
	if n.AvailabilityScore > 1 {
		n.AvailabilityScore = 1
	}
}
