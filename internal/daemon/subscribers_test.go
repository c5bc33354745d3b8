package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/infra/connector"
)

func TestDaemon_IngestBehavior_PersistsEvidence(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.DB.Close()

	if err := d.IngestBehavior(domain.EvidenceFileAccess, "fs_watcher", map[string]any{"path": "/tmp/foo"}); err != nil {
		t.Fatalf("IngestBehavior: %v", err)
	}
	n, err := d.DB.PurgeEvidenceOlderThan(time.Now().Add(time.Hour).Unix())
	if err != nil || n != 1 {
		t.Fatalf("persisted evidence rows = %d, err = %v, want 1", n, err)
	}
}

func TestDaemon_HandleBehaviorEvent_DropsIncompletePayload(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.DB.Close()

	// Missing evidence_type/source must not panic and must not ingest.
	d.handleBehaviorEvent(context.Background(), domain.Event{Payload: map[string]any{}})
}

func TestDaemon_HandleResourceStateUpdate_RecordsRemoteNode(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.DB.Close()

	node := domain.Node{ID: "cloud-1", Type: domain.NodeCloud, Status: domain.NodeActive, AvailabilityScore: 1.0, RegisteredAt: time.Now()}
	if err := d.DB.UpsertNode(node); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	d.handleResourceStateUpdate(context.Background(), domain.Event{
		Payload: map[string]any{"node_id": "cloud-1", "cpu_pct": 55.0, "memory_pct": 40.0, "disk_pct": 10.0},
	})

	window := d.Telemetry.Window("cloud-1")
	if len(window) != 1 {
		t.Fatalf("len(window) = %d, want 1", len(window))
	}
	if window[0].CPUPercent != 55.0 {
		t.Errorf("CPUPercent = %v, want 55.0", window[0].CPUPercent)
	}
}

func TestDaemon_HandleOrchestratorCommand_HealthCheck(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.DB.Close()

	d.Orchestrator = connector.NewOrchestratorSession(nil, d.Router, "test-proxy", connector.DefaultBackoffConfig())

	d.handleOrchestratorCommand(domain.Event{Payload: map[string]any{"command_type": "health_check"}})
	if d.Orchestrator.Connected() {
		t.Fatal("session should not report connected without a dial")
	}
}

func TestDaemon_HandleOrchestratorCommand_UnknownTypeDoesNotPanic(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.DB.Close()

	d.Orchestrator = connector.NewOrchestratorSession(nil, d.Router, "test-proxy", connector.DefaultBackoffConfig())
	d.handleOrchestratorCommand(domain.Event{Payload: map[string]any{"command_type": "not_a_real_command"}})
}
