package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{"debug": LevelDebug, "": LevelInfo, "INFO": LevelInfo, "warning": LevelWarn, "error": LevelError}
	for raw, want := range tests {
		got, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewJSONLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(Config{Level: LevelWarn, Format: "json", Output: &buf}), "store")

	logger.Info("hidden")
	logger.Warn("slow operation", "op", "save_agent")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "slow operation", entry["msg"])
	assert.Equal(t, "store", entry["component"])
	assert.Equal(t, "save_agent", entry["op"])
}

func TestComponentWithNilBase(t *testing.T) {
	logger := Component(nil, "x")
	require.NotNil(t, logger)
	logger.Error("dropped")
}
