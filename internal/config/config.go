// Package config provides YAML-based configuration loading for neuroswarm.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"neuroswarm/internal/logging"
	"neuroswarm/internal/platform"
	"neuroswarm/internal/security"
	"neuroswarm/internal/storage"
)

const (
	DefaultStorePath = ".swarm/agents.db"
)

// Config is the top-level configuration, usually loaded from swarm.yaml.
type Config struct {
	Manager  ManagerConfig  `yaml:"manager"`
	Store    StoreConfig    `yaml:"store"`
	Security SecurityConfig `yaml:"security"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ManagerConfig holds the lifecycle manager limits and feature switches.
// Feature switches are pointers so an absent key keeps its default of true.
type ManagerConfig struct {
	MaxAgents                    int           `yaml:"max_agents"`
	MemoryLimitPerAgent          int64         `yaml:"memory_limit_per_agent"`
	InferenceTimeout             time.Duration `yaml:"inference_timeout"`
	CrossLearningEnabled         *bool         `yaml:"cross_learning_enabled"`
	PersistenceEnabled           *bool         `yaml:"persistence_enabled"`
	PerformanceMonitoringEnabled *bool         `yaml:"performance_monitoring_enabled"`
	ArchiveOnTerminate           *bool         `yaml:"archive_on_terminate"`
	MonitorInterval              time.Duration `yaml:"monitor_interval"`
	CheckpointSchedule           string        `yaml:"checkpoint_schedule"`
	MetricBuffer                 int           `yaml:"metric_buffer"`
}

// StoreConfig selects and tunes the durable store backend.
type StoreConfig struct {
	Kind                   string        `yaml:"kind"`
	Path                   string        `yaml:"path"`
	BusyTimeout            time.Duration `yaml:"busy_timeout"`
	SlowOperationThreshold time.Duration `yaml:"slow_operation_threshold"`
}

type SecurityConfig struct {
	MaxInputSize    int `yaml:"max_input_size"`
	MaxStringLength int `yaml:"max_string_length"`
}

type EngineConfig struct {
	Seed int64 `yaml:"seed"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func boolPtr(v bool) *bool {
	return &v
}

func (c *Config) applyDefaults() {
	def := platform.DefaultConfig()
	m := &c.Manager
	if m.MaxAgents == 0 {
		m.MaxAgents = def.MaxAgents
	}
	if m.MemoryLimitPerAgent == 0 {
		m.MemoryLimitPerAgent = def.MemoryLimitPerAgent
	}
	if m.InferenceTimeout == 0 {
		m.InferenceTimeout = def.InferenceTimeout
	}
	if m.CrossLearningEnabled == nil {
		m.CrossLearningEnabled = boolPtr(true)
	}
	if m.PersistenceEnabled == nil {
		m.PersistenceEnabled = boolPtr(true)
	}
	if m.PerformanceMonitoringEnabled == nil {
		m.PerformanceMonitoringEnabled = boolPtr(true)
	}
	if m.ArchiveOnTerminate == nil {
		m.ArchiveOnTerminate = boolPtr(true)
	}
	if m.MonitorInterval == 0 {
		m.MonitorInterval = def.MonitorInterval
	}
	if m.MetricBuffer == 0 {
		m.MetricBuffer = def.MetricBuffer
	}

	if c.Store.Kind == "" {
		c.Store.Kind = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Store.BusyTimeout == 0 {
		c.Store.BusyTimeout = storage.DefaultBusyTimeout
	}
	if c.Store.SlowOperationThreshold == 0 {
		c.Store.SlowOperationThreshold = storage.DefaultSlowThreshold
	}

	if c.Security.MaxInputSize == 0 {
		c.Security.MaxInputSize = security.DefaultMaxInputSize
	}
	if c.Security.MaxStringLength == 0 {
		c.Security.MaxStringLength = security.DefaultMaxStringLength
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	var errs []string
	if c.Manager.MaxAgents < 0 {
		errs = append(errs, "manager.max_agents must be > 0")
	}
	if c.Manager.MemoryLimitPerAgent < 0 {
		errs = append(errs, "manager.memory_limit_per_agent must be > 0")
	}
	if c.Manager.InferenceTimeout < 0 {
		errs = append(errs, "manager.inference_timeout must be > 0")
	}
	if c.Manager.MonitorInterval < 0 {
		errs = append(errs, "manager.monitor_interval must be > 0")
	}
	if c.Manager.MetricBuffer < 0 {
		errs = append(errs, "manager.metric_buffer must be >= 0")
	}
	if c.Manager.CheckpointSchedule != "" {
		if err := platform.ValidateSchedule(c.Manager.CheckpointSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("manager.checkpoint_schedule: %v", err))
		}
	}
	switch c.Store.Kind {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.kind must be memory or sqlite, got %q", c.Store.Kind))
	}
	if c.Store.BusyTimeout < 0 || c.Store.SlowOperationThreshold < 0 {
		errs = append(errs, "store timeouts must be >= 0")
	}
	if c.Security.MaxInputSize < 0 || c.Security.MaxStringLength < 0 {
		errs = append(errs, "security limits must be >= 0")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level: %v", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ManagerConfig projects the manager section onto the platform package.
func (c *Config) ManagerConfig() platform.Config {
	def := platform.DefaultConfig()
	return platform.Config{
		MaxAgents:                    c.Manager.MaxAgents,
		MemoryLimitPerAgent:          c.Manager.MemoryLimitPerAgent,
		InferenceTimeout:             c.Manager.InferenceTimeout,
		CrossLearningEnabled:         deref(c.Manager.CrossLearningEnabled, true),
		PersistenceEnabled:           deref(c.Manager.PersistenceEnabled, true),
		PerformanceMonitoringEnabled: deref(c.Manager.PerformanceMonitoringEnabled, true),
		ArchiveOnTerminate:           deref(c.Manager.ArchiveOnTerminate, true),
		MonitorInterval:              c.Manager.MonitorInterval,
		CheckpointSchedule:           c.Manager.CheckpointSchedule,
		MetricBuffer:                 c.Manager.MetricBuffer,
		SpawnLatencyTarget:           def.SpawnLatencyTarget,
		InferenceLatencyTarget:       def.InferenceLatencyTarget,
	}
}

func (c *Config) StoreOptions() storage.Options {
	return storage.Options{
		Path:          c.Store.Path,
		BusyTimeout:   c.Store.BusyTimeout,
		SlowThreshold: c.Store.SlowOperationThreshold,
		Security: security.Config{
			MaxInputSize:    c.Security.MaxInputSize,
			MaxStringLength: c.Security.MaxStringLength,
		},
	}
}

func (c *Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = c.Logging.Format
	return cfg
}

func deref(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
