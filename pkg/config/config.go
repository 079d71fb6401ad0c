// Package config loads Muninn's top-level configuration.
//
// Configuration can be loaded from:
//   - Environment variables (recommended for Docker/K8s)
//   - YAML configuration file
//   - Programmatic defaults
//
// Environment Variables:
//
//	MUNINN_DATA_DIR              - Badger data directory ("" = in-memory store)
//	MUNINN_SNAPSHOT_PATH         - Association snapshot file path
//	MUNINN_LOG_LEVEL             - Log level: debug, info, warn, error (default: info)
//	MUNINN_DECAY_LAW             - Decay law: exponential, powerlaw, step (default: powerlaw)
//	MUNINN_COOCCURRENCE_WINDOW   - Co-occurrence window, Go duration (default: 2s)
//	MUNINN_LEARNING_RATE         - Hebbian learning rate (default: 0.1)
//	MUNINN_PRUNE_THRESHOLD       - Weak-edge prune threshold (default: 0.05)
//	MUNINN_MAINTENANCE_INTERVAL  - Maintenance cycle interval (default: 1m)
//	MUNINN_TIER_LOOP_ENABLED     - Run the background tier loop (default: false)
//	MUNINN_MEMORY_TARGET_BYTES   - Pressure-mode memory budget (default: 268435456)
//
// Example Docker Usage:
//
//	docker run -e MUNINN_DATA_DIR=/data \
//	           -e MUNINN_DECAY_LAW=exponential \
//	           -v ./data:/data \
//	           muninn
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/muninn/pkg/decay"
	"github.com/orneryd/muninn/pkg/memory"
)

// Config is the top-level runtime configuration.
//
// Example:
//
//	// Load from environment (Docker/K8s friendly)
//	cfg := config.LoadFromEnv()
//
//	// Or load from YAML file
//	cfg, err := config.LoadFile("./muninn.yaml")
//
//	// Or use defaults
//	cfg := config.Default()
type Config struct {
	// DataDir is the Badger pattern-store directory. Empty selects the
	// in-memory store.
	DataDir string `yaml:"data_dir"`

	// SnapshotPath is where Save/Load persist the association graph.
	SnapshotPath string `yaml:"snapshot_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// DecayLaw selects the pattern forgetting curve: exponential,
	// powerlaw, or step.
	DecayLaw string `yaml:"decay_law"`

	// CoOccurrenceWindow is the sliding co-occurrence window.
	CoOccurrenceWindow time.Duration `yaml:"cooccurrence_window"`

	// LearningRate is the Hebbian learning rate.
	LearningRate float64 `yaml:"learning_rate"`

	// PruneThreshold removes edges weaker than this during maintenance.
	PruneThreshold float64 `yaml:"prune_threshold"`

	// MaintenanceInterval paces the host's maintenance loop.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	// TierLoopEnabled runs the background tier transition loop.
	TierLoopEnabled bool `yaml:"tier_loop_enabled"`

	// MemoryTargetBytes is the pressure-mode memory budget.
	MemoryTargetBytes uint64 `yaml:"memory_target_bytes"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		DataDir:             "",
		SnapshotPath:        "muninn.snapshot",
		LogLevel:            "info",
		DecayLaw:            "powerlaw",
		CoOccurrenceWindow:  2 * time.Second,
		LearningRate:        0.1,
		PruneThreshold:      0.05,
		MaintenanceInterval: time.Minute,
		TierLoopEnabled:     false,
		MemoryTargetBytes:   256 << 20,
	}
}

// LoadFromEnv loads configuration from MUNINN_* environment variables on
// top of the defaults. Unset variables keep their defaults; malformed
// values are ignored rather than fatal.
func LoadFromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("MUNINN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MUNINN_SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}
	if v := os.Getenv("MUNINN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("MUNINN_DECAY_LAW"); v != "" {
		cfg.DecayLaw = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("MUNINN_COOCCURRENCE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CoOccurrenceWindow = d
		}
	}
	if v := os.Getenv("MUNINN_LEARNING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LearningRate = f
		}
	}
	if v := os.Getenv("MUNINN_PRUNE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PruneThreshold = f
		}
	}
	if v := os.Getenv("MUNINN_MAINTENANCE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaintenanceInterval = d
		}
	}
	if v := os.Getenv("MUNINN_TIER_LOOP_ENABLED"); v != "" {
		cfg.TierLoopEnabled = parseBool(v, false)
	}
	if v := os.Getenv("MUNINN_MEMORY_TARGET_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MemoryTargetBytes = n
		}
	}
	return cfg
}

// parseBool parses a boolean from string with a default value.
func parseBool(s string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultVal
	}
}

// LoadFile loads configuration from a YAML file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFileOrEnv loads from the YAML file when it exists, otherwise from
// the environment.
func LoadFileOrEnv(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return LoadFromEnv(), nil
		}
		return nil, err
	}
	return LoadFile(path)
}

// Validate rejects values the substrate cannot run with.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if _, err := c.decayLaw(); err != nil {
		return err
	}
	if c.CoOccurrenceWindow <= 0 {
		return fmt.Errorf("config: cooccurrence window must be > 0, got %s", c.CoOccurrenceWindow)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("config: learning rate must be in (0, 1], got %g", c.LearningRate)
	}
	if c.PruneThreshold < 0 || c.PruneThreshold >= 1 {
		return fmt.Errorf("config: prune threshold must be in [0, 1), got %g", c.PruneThreshold)
	}
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("config: maintenance interval must be > 0, got %s", c.MaintenanceInterval)
	}
	if c.MemoryTargetBytes == 0 {
		return fmt.Errorf("config: memory target bytes must be > 0")
	}
	return nil
}

// decayLaw maps the configured name to a decay.Law.
func (c *Config) decayLaw() (decay.Law, error) {
	switch c.DecayLaw {
	case "exponential":
		return decay.Exponential, nil
	case "powerlaw", "power_law":
		return decay.PowerLaw, nil
	case "step":
		return decay.Step, nil
	default:
		return decay.Exponential, fmt.Errorf("config: unknown decay law %q", c.DecayLaw)
	}
}

// MemoryConfig expands the top-level settings into the full subsystem
// configuration, starting from memory.DefaultConfig.
func (c *Config) MemoryConfig() (memory.Config, error) {
	if err := c.Validate(); err != nil {
		return memory.Config{}, err
	}
	law, err := c.decayLaw()
	if err != nil {
		return memory.Config{}, err
	}

	mc := memory.DefaultConfig()
	mc.DecayLaw = law
	mc.Learning.CoOccurrenceWindow = c.CoOccurrenceWindow
	if mc.Learning.EventRetention < c.CoOccurrenceWindow {
		mc.Learning.EventRetention = c.CoOccurrenceWindow
	}
	mc.Learning.Reinforcement.LearningRate = c.LearningRate
	mc.Learning.Reinforcement.PruneThreshold = c.PruneThreshold
	mc.Association.WeakThreshold = c.PruneThreshold
	mc.Threshold.TargetBytes = c.MemoryTargetBytes
	return mc, nil
}
