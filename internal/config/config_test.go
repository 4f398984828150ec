package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDispatcher_Defaults(t *testing.T) {
	t.Setenv("DISPATCHER_NAME", "node1")
	t.Setenv("CONTROLLER_URL", "")
	t.Setenv("CONTROLLER_INTERVAL", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("BATCH_SIZE", "")

	cfg, err := LoadDispatcher()
	require.NoError(t, err)
	assert.Equal(t, "node1", cfg.Node)
	assert.Equal(t, time.Minute, cfg.Controller.Interval)
	assert.Equal(t, int64(5_000_000), cfg.Pipeline.ChunkBytes())
	assert.Equal(t, 100, cfg.Pipeline.BatchSize)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONTROLLER_URL")
}

func TestLoadDispatcher_FromEnv(t *testing.T) {
	t.Setenv("DISPATCHER_NAME", "edge-7")
	t.Setenv("CONTROLLER_URL", "http://controller:8080")
	t.Setenv("CONTROLLER_INTERVAL", "15000")
	t.Setenv("CHUNK_SIZE", "64")
	t.Setenv("BATCH_SIZE", "25")

	cfg, err := LoadDispatcher()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Controller.Interval)
	assert.Equal(t, int64(64_000), cfg.Pipeline.ChunkBytes())
	assert.Equal(t, 25, cfg.Pipeline.BatchSize)
	assert.NoError(t, cfg.Validate())
}

func TestDispatcherValidate_InvalidURL(t *testing.T) {
	cfg := &DispatcherConfig{
		Node:       "n",
		Controller: ControllerClientConfig{URL: "not a url", Interval: time.Second},
		Pipeline:   PipelineConfig{ChunkSize: 1, BatchSize: 1},
	}
	assert.Error(t, cfg.Validate())
}

func TestLoadController(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STATE_PATH", "bolt:///tmp/state.db")
	t.Setenv("SUMMARY_RATE", "")

	cfg, err := LoadController()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "bolt:///tmp/state.db", cfg.State.Path)
	assert.Equal(t, 15, cfg.SummaryRate)
	assert.NoError(t, cfg.Validate())

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestGetEnvAsMillis(t *testing.T) {
	t.Setenv("X_INTERVAL", "2500")
	assert.Equal(t, 2500*time.Millisecond, getEnvAsMillis("X_INTERVAL", time.Second))
	t.Setenv("X_INTERVAL", "3s")
	assert.Equal(t, 3*time.Second, getEnvAsMillis("X_INTERVAL", time.Second))
	t.Setenv("X_INTERVAL", "junk")
	assert.Equal(t, time.Second, getEnvAsMillis("X_INTERVAL", time.Second))
}
