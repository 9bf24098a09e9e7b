package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10*time.Second, cfg.ExtractionTimeout)
	assert.Equal(t, "default", cfg.DefaultSession)
	assert.Equal(t, "file", cfg.SessionBackend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().TextModel, cfg.TextModel)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyframe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image_backend: hybrid\ncost_ceiling: 0.5\nsave_dir: /tmp/from-file\n"), 0644))
	t.Setenv("STORYFRAME_SAVE_DIR", "/tmp/from-env")
	t.Setenv("STORYFRAME_DECISION_TIMEOUT", "45s")
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "hybrid", cfg.ImageBackend)
	assert.Equal(t, 0.5, cfg.CostCeiling)
	assert.Equal(t, "/tmp/from-env", cfg.SaveDir)
	assert.Equal(t, 45*time.Second, cfg.DecisionTimeout)
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestValidateRejectsBadBackends(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionBackend = "redis"
	assert.Error(t, cfg.Validate())

	cfg.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate())

	cfg.ImageBackend = "video"
	assert.Error(t, cfg.Validate())
}

func TestRequireAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.RequireAPIKey())
}
