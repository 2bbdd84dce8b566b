package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.VisionModel)
	assert.Equal(t, 16, cfg.Pipeline.LiveBuffer)
	assert.Equal(t, 2, cfg.Pipeline.SnapshotRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.SnapshotRetryDelay)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.ExportInterval)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("http:\n  port: \"9090\"\ngemini:\n  api_key: from-file\npipeline:\n  live_buffer: 4\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("THIRDEYE_GEMINI_API_KEY", "from-env")
	t.Setenv("THIRDEYE_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 4, cfg.Pipeline.LiveBuffer)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{DB: DBConfig{DSN: "postgres://x"}, Pipeline: PipelineConfig{SnapshotRetries: 1}}
	assert.Error(t, cfg.Validate())

	cfg.Gemini.APIKey = "key"
	assert.NoError(t, cfg.Validate())

	cfg.Telemetry.Enabled = true
	assert.Error(t, cfg.Validate())
	cfg.Telemetry.OTLPEndpoint = "collector:4317"
	assert.NoError(t, cfg.Validate())

	cfg.Pipeline.SnapshotRetries = 0
	assert.Error(t, cfg.Validate())
}
