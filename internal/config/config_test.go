package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, 32, cfg.HubShards)
	assert.Equal(t, 64, cfg.HubSessionQueue)
	assert.Equal(t, 30*time.Second, cfg.WSPingInterval)
	assert.Equal(t, int64(20*1024*1024), cfg.MaxUploadBytes)
	assert.False(t, cfg.UsesMemoryStore())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HUDDLE_DATABASE_URL", "memory")
	t.Setenv("HUDDLE_HUB_SESSION_QUEUE", "8")
	t.Setenv("HUDDLE_WS_ORIGIN_PATTERNS", "app.example.com,localhost:5173")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.UsesMemoryStore())
	assert.Equal(t, 8, cfg.HubSessionQueue)
	assert.Equal(t, []string{"app.example.com", "localhost:5173"}, cfg.WSOriginPatterns)
}

func TestLoadRejectsNonPositiveShards(t *testing.T) {
	t.Setenv("HUDDLE_HUB_SHARDS", "0")

	_, err := Load()
	require.Error(t, err)
}
