package daemon

import (
	"testing"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Core.StateDir = t.TempDir()
	cfg.Core.ProxyID = "test-proxy"
	cfg.API.Port = 0 // unused directly; Serve is not exercised by these tests
	return cfg
}

func TestNewWithConfig_WiresEverySubsystem(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.DB.Close()

	if d.DB == nil || d.Router == nil || d.Graph == nil || d.Telemetry == nil ||
		d.Predictor == nil || d.Policy == nil || d.Executor == nil || d.Server == nil {
		t.Fatal("NewWithConfig left a subsystem nil")
	}

	node, err := d.DB.GetNode("local")
	if err != nil {
		t.Fatalf("GetNode(local): %v", err)
	}
	if node.ID != "local" {
		t.Errorf("local node ID = %q, want \"local\"", node.ID)
	}
}

func TestNewWithConfig_GeneratesProxyIDWhenEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.Core.ProxyID = ""

	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.DB.Close()

	if d.Config.Core.ProxyID == "" {
		t.Error("ProxyID was not generated")
	}
}

func TestNewWithConfig_NoConnectorsWiredWhenAddressesEmpty(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.DB.Close()

	if d.Orchestrator != nil || d.IntentFeed != nil || d.BehaviorFeed != nil || d.MarketFeed != nil {
		t.Error("connector wired despite empty address")
	}
}

func TestDaemon_Summary(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.DB.Close()

	summary := d.Summary()
	if summary.ProxyID != "test-proxy" {
		t.Errorf("ProxyID = %q, want \"test-proxy\"", summary.ProxyID)
	}
	if summary.PredictorTrained {
		t.Error("a fresh predictor should not report trained")
	}
	if summary.QTableSize != 0 {
		t.Errorf("QTableSize = %d, want 0 for a fresh policy", summary.QTableSize)
	}
}
