package domain

// ResourceState is a single telemetry sample for a node. Samples are
// append-only — nothing in this package ever mutates one after creation.
type ResourceState struct {
	NodeID           string  `json:"node_id"`
	Timestamp        int64   `json:"timestamp"` // monotonic seconds
	CPUPercent       float64 `json:"cpu_pct"`
	MemoryPercent    float64 `json:"memory_pct"`
	DiskPercent      float64 `json:"disk_pct"`
	NetworkBytes     int64   `json:"network_bytes"` // cumulative
	GPUPercent       float64 `json:"gpu_pct,omitempty"`
	HasGPU           bool    `json:"-"`
	ActiveProcesses  int     `json:"active_processes"`
}

// LoadScore is the derived weighted-sum load indicator from spec §3:
// 0.4·cpu + 0.3·mem + 0.1·disk + 0.2·min(100, processes/10).
func (r ResourceState) LoadScore() float64 {
	procTerm := float64(r.ActiveProcesses) / 10
	if procTerm > 100 {
		procTerm = 100
	}
	return 0.4*r.CPUPercent + 0.3*r.MemoryPercent + 0.1*r.DiskPercent + 0.2*procTerm
}
