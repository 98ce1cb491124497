package platform

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// KnowledgeInfluence is the fraction of a source agent's parameters blended
// into each target during knowledge sharing.
const KnowledgeInfluence = 0.1

const (
	DefaultMaxAgents           = 25
	DefaultMemoryLimitPerAgent = 50 << 20
	DefaultInferenceTimeout    = 100 * time.Millisecond
	DefaultMonitorInterval     = time.Second
	DefaultMetricBuffer        = 256
	DefaultTrainingEpochs      = 100
	DefaultLatencyTarget       = 100 * time.Millisecond
)

// Config carries the manager's limits and feature switches.
type Config struct {
	MaxAgents           int
	MemoryLimitPerAgent int64
	InferenceTimeout    time.Duration

	CrossLearningEnabled         bool
	PersistenceEnabled           bool
	PerformanceMonitoringEnabled bool
	// ArchiveOnTerminate keeps terminated agents in the store with status
	// terminated; when false their rows are deleted with every child row.
	ArchiveOnTerminate bool

	MonitorInterval time.Duration
	// CheckpointSchedule is a cron expression or descriptor such as
	// "@every 5m". Empty disables scheduled checkpoints.
	CheckpointSchedule string
	MetricBuffer       int

	SpawnLatencyTarget     time.Duration
	InferenceLatencyTarget time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAgents:                    DefaultMaxAgents,
		MemoryLimitPerAgent:          DefaultMemoryLimitPerAgent,
		InferenceTimeout:             DefaultInferenceTimeout,
		CrossLearningEnabled:         true,
		PersistenceEnabled:           true,
		PerformanceMonitoringEnabled: true,
		ArchiveOnTerminate:           true,
		MonitorInterval:              DefaultMonitorInterval,
		MetricBuffer:                 DefaultMetricBuffer,
		SpawnLatencyTarget:           DefaultLatencyTarget,
		InferenceLatencyTarget:       DefaultLatencyTarget,
	}
}

// normalizeConfig fills zero limits with defaults. Feature switches are
// taken as given.
func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = def.MaxAgents
	}
	if cfg.MemoryLimitPerAgent <= 0 {
		cfg.MemoryLimitPerAgent = def.MemoryLimitPerAgent
	}
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = def.InferenceTimeout
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if cfg.MetricBuffer <= 0 {
		cfg.MetricBuffer = def.MetricBuffer
	}
	if cfg.SpawnLatencyTarget <= 0 {
		cfg.SpawnLatencyTarget = def.SpawnLatencyTarget
	}
	if cfg.InferenceLatencyTarget <= 0 {
		cfg.InferenceLatencyTarget = def.InferenceLatencyTarget
	}
	return cfg
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether schedule is a usable checkpoint schedule.
func ValidateSchedule(schedule string) error {
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}
