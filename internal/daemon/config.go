// Package daemon wires every subsystem package into one running core
// process: configuration, startup, graceful shutdown.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration, loaded from TOML and overridable
// by environment variables and CLI flags, the same layering the teacher's
// internal/daemon/config.go uses.
type Config struct {
	Core       CoreConfig       `toml:"core"`
	API        APIConfig        `toml:"api"`
	Logging    LoggingConfig    `toml:"logging"`
	Router     RouterConfig     `toml:"router"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	PIG        PIGConfig        `toml:"pig"`
	Predictor  PredictorConfig  `toml:"predictor"`
	Policy     PolicyConfig     `toml:"policy"`
	Executor   ExecutorConfig   `toml:"executor"`
	Connectors ConnectorsConfig `toml:"connectors"`
}

// CoreConfig identifies this proxy and sets process-wide timing.
type CoreConfig struct {
	ProxyID          string `toml:"proxy_id"`
	StateDir         string `toml:"state_dir"`
	ShutdownDeadline string `toml:"shutdown_deadline"` // e.g. "5s"
}

// APIConfig controls the local operator HTTP surface.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// RouterConfig mirrors router.Config with TOML-friendly duration strings.
type RouterConfig struct {
	MaxQueueDepth        int    `toml:"max_queue_depth"`
	OverflowEmitInterval string `toml:"overflow_emit_interval"`
	ShutdownDrainTimeout string `toml:"shutdown_drain_timeout"`
	SubscriberBufferSize int    `toml:"subscriber_buffer_size"`
}

// TelemetryConfig mirrors telemetry.Config.
type TelemetryConfig struct {
	SampleInterval string `toml:"sample_interval"`
	WindowSize     int    `toml:"window_size"`
}

// PIGConfig mirrors pig.Config.
type PIGConfig struct {
	LearningRate   float64 `toml:"learning_rate"`
	MaxNodes       int     `toml:"max_nodes"`
	PruneFraction  float64 `toml:"prune_fraction"`
	TemporalWindow int     `toml:"temporal_window"`
	HalfLife       string  `toml:"half_life"`
}

// PredictorConfig mirrors predictor.Config.
type PredictorConfig struct {
	RetrainInterval    string `toml:"retrain_interval"`
	MinTrainingSamples int    `toml:"min_training_samples"`
	DefaultHorizon     string `toml:"default_horizon"`
}

// PolicyConfig mirrors policy.Config.
type PolicyConfig struct {
	Buckets        int     `toml:"buckets"`
	InitialEpsilon float64 `toml:"initial_epsilon"`
	MinEpsilon     float64 `toml:"min_epsilon"`
	EpsilonDecay   float64 `toml:"epsilon_decay"`
	LearningRate   float64 `toml:"learning_rate"`
	DiscountFactor float64 `toml:"discount_factor"`
	ReplayCapacity int     `toml:"replay_capacity"`
	ReplayBatch    int     `toml:"replay_batch"`
}

// ExecutorConfig mirrors executor.Config.
type ExecutorConfig struct {
	ExecutionBudget  string `toml:"execution_budget"`
	CooldownDuration string `toml:"cooldown_duration"`
}

// ConnectorsConfig addresses each optional external endpoint. An empty
// Address disables that connector entirely — all four are opt-in.
type ConnectorsConfig struct {
	Orchestrator ConnectorEndpoint `toml:"orchestrator"`
	IntentFeed   ConnectorEndpoint `toml:"intent_feed"`
	BehaviorFeed ConnectorEndpoint `toml:"behavior_feed"`
	MarketFeed   ConnectorEndpoint `toml:"market_feed"`
}

// ConnectorEndpoint is one external connector's TCP address and backoff
// schedule.
type ConnectorEndpoint struct {
	Address    string `toml:"address"`
	BackoffMin string `toml:"backoff_min"`
	BackoffMax string `toml:"backoff_max"`
}

// DefaultConfig returns production defaults for every subsystem.
func DefaultConfig() Config {
	return Config{
		Core: CoreConfig{
			StateDir:         stateDir(),
			ShutdownDeadline: "5s",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8745,
		},
		Logging: LoggingConfig{Level: "info"},
		Router: RouterConfig{
			MaxQueueDepth:        10000,
			OverflowEmitInterval: "1s",
			ShutdownDrainTimeout: "5s",
			SubscriberBufferSize: 64,
		},
		Telemetry: TelemetryConfig{
			SampleInterval: "60s",
			WindowSize:     600,
		},
		PIG: PIGConfig{
			LearningRate:   0.15,
			MaxNodes:       1000,
			PruneFraction:  0.1,
			TemporalWindow: 5,
			HalfLife:       "1h",
		},
		Predictor: PredictorConfig{
			RetrainInterval:    "2h",
			MinTrainingSamples: 50,
			DefaultHorizon:     "30m",
		},
		Policy: PolicyConfig{
			Buckets:        20,
			InitialEpsilon: 1.0,
			MinEpsilon:     0.01,
			EpsilonDecay:   0.995,
			LearningRate:   0.01,
			DiscountFactor: 0.95,
			ReplayCapacity: 10000,
			ReplayBatch:    32,
		},
		Executor: ExecutorConfig{
			ExecutionBudget:  "60s",
			CooldownDuration: "30s",
		},
		Connectors: ConnectorsConfig{},
	}
}

// LoadConfig reads $CORE_CONFIG_PATH, or <state-dir>/config.toml, falling
// back to defaults if neither exists.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CORE_CONFIG_PATH")
	if path == "" {
		path = filepath.Join(stateDir(), "config.toml")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to <state-dir>/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(stateDir(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// stateDir returns $CORE_STATE_DIR, or ~/.coreproxy.
func stateDir() string {
	if env := os.Getenv("CORE_STATE_DIR"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".coreproxy")
}
