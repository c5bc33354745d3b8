package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Port != 8745 {
		t.Errorf("API.Port = %d, want 8745", cfg.API.Port)
	}
	if cfg.Router.MaxQueueDepth != 10000 {
		t.Errorf("Router.MaxQueueDepth = %d, want 10000", cfg.Router.MaxQueueDepth)
	}
	if cfg.Policy.Buckets != 20 {
		t.Errorf("Policy.Buckets = %d, want 20", cfg.Policy.Buckets)
	}
	if cfg.Policy.ReplayCapacity != 10000 || cfg.Policy.ReplayBatch != 32 {
		t.Errorf("Policy replay = %d/%d, want 10000/32", cfg.Policy.ReplayCapacity, cfg.Policy.ReplayBatch)
	}
	if cfg.Connectors.Orchestrator.Address != "" {
		t.Error("default Orchestrator.Address should be empty (opt-in)")
	}
}

func TestLoadConfig_FallsBackToDefaultsWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CORE_CONFIG_PATH", filepath.Join(dir, "missing.toml"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("API.Port = %d, want default %d", cfg.API.Port, DefaultConfig().API.Port)
	}
}

func TestSaveConfigThenLoadConfig_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CORE_STATE_DIR", dir)

	cfg := DefaultConfig()
	cfg.Core.ProxyID = "proxy-123"
	cfg.API.Port = 9999

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	t.Setenv("CORE_CONFIG_PATH", filepath.Join(dir, "config.toml"))
	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Core.ProxyID != "proxy-123" {
		t.Errorf("ProxyID = %q, want \"proxy-123\"", loaded.Core.ProxyID)
	}
	if loaded.API.Port != 9999 {
		t.Errorf("API.Port = %d, want 9999", loaded.API.Port)
	}
}

func TestStateDir_RespectsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CORE_STATE_DIR", dir)
	if got := stateDir(); got != dir {
		t.Errorf("stateDir() = %q, want %q", got, dir)
	}
}

func TestParseDuration_FallsBackOnMalformedValue(t *testing.T) {
	if got := parseDuration("not-a-duration", 3*time.Second); got != 3*time.Second {
		t.Errorf("parseDuration(malformed) = %v, want 3s fallback", got)
	}
	if got := parseDuration("250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("parseDuration(\"250ms\") = %v, want 250ms", got)
	}
	if got := parseDuration("", time.Second); got != time.Second {
		t.Errorf("parseDuration(\"\") = %v, want 1s fallback", got)
	}
}

func TestMain_doesNotLeakStateDirEnv(t *testing.T) {
	// Sanity check that tests don't bleed CORE_STATE_DIR into the real
	// default when unset.
	os.Unsetenv("CORE_STATE_DIR")
	home, _ := os.UserHomeDir()
	want := filepath.Join(home, ".coreproxy")
	if got := stateDir(); got != want {
		t.Errorf("stateDir() = %q, want %q", got, want)
	}
}
