package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroswarm/internal/logging"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	m := cfg.ManagerConfig()
	assert.Equal(t, 25, m.MaxAgents)
	assert.Equal(t, int64(50<<20), m.MemoryLimitPerAgent)
	assert.Equal(t, 100*time.Millisecond, m.InferenceTimeout)
	assert.True(t, m.CrossLearningEnabled)
	assert.True(t, m.PersistenceEnabled)
	assert.True(t, m.PerformanceMonitoringEnabled)
	assert.True(t, m.ArchiveOnTerminate)
	assert.Equal(t, time.Second, m.MonitorInterval)

	assert.Equal(t, "sqlite", cfg.Store.Kind)
	assert.Equal(t, DefaultStorePath, cfg.Store.Path)
	assert.Equal(t, 50*time.Millisecond, cfg.StoreOptions().SlowThreshold)
	assert.Equal(t, logging.LevelInfo, cfg.LoggingConfig().Level)
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`
manager:
  max_agents: 2
  memory_limit_per_agent: 1048576
  inference_timeout: 5ms
  cross_learning_enabled: false
  persistence_enabled: false
  monitor_interval: 250ms
  checkpoint_schedule: "@every 10m"
store:
  kind: memory
  busy_timeout: 2s
security:
  max_string_length: 128
logging:
  level: debug
  format: json
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	m := cfg.ManagerConfig()
	assert.Equal(t, 2, m.MaxAgents)
	assert.Equal(t, int64(1<<20), m.MemoryLimitPerAgent)
	assert.Equal(t, 5*time.Millisecond, m.InferenceTimeout)
	assert.False(t, m.CrossLearningEnabled)
	assert.False(t, m.PersistenceEnabled)
	assert.True(t, m.PerformanceMonitoringEnabled)
	assert.Equal(t, 250*time.Millisecond, m.MonitorInterval)
	assert.Equal(t, "@every 10m", m.CheckpointSchedule)

	opts := cfg.StoreOptions()
	assert.Equal(t, 2*time.Second, opts.BusyTimeout)
	assert.Equal(t, 128, opts.Security.MaxStringLength)
	assert.Equal(t, "memory", cfg.Store.Kind)
	assert.Equal(t, "json", cfg.LoggingConfig().Format)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "negative agents", yaml: "manager:\n  max_agents: -1\n"},
		{name: "bad store", yaml: "store:\n  kind: postgres\n"},
		{name: "bad schedule", yaml: "manager:\n  checkpoint_schedule: \"every tuesday\"\n"},
		{name: "bad level", yaml: "logging:\n  level: loud\n"},
		{name: "bad format", yaml: "logging:\n  format: xml\n"},
		{name: "malformed", yaml: "manager: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: /tmp/x.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Store.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())
	assert.Equal(t, "sqlite", cfg.Store.Kind)
}
