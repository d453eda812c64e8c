package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 12.0, cfg.Analysis.FPS)
	assert.Equal(t, 12.0, cfg.Analysis.MinThreshold)
	assert.Equal(t, 0.3, cfg.Analysis.PhotoThreshold)
	assert.Equal(t, 2, cfg.Analysis.LeadInFrames)
	assert.Equal(t, 4, cfg.Analysis.HashWorkers)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"mp4", "mov", "avi"}, cfg.Server.AllowedExtensions)
	assert.Equal(t, 10*time.Minute, cfg.FFmpeg.Timeout)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  port: "9000"
  results_dir: /srv/results
analysis:
  fps: 24
  min_threshold: 8
redis:
  hash_ttl: 1h
`)
	t.Setenv("MIN_THRESHOLD", "15")
	t.Setenv("ALLOWED_EXTENSIONS", "MP4, .mkv")
	t.Setenv("FFMPEG_TIMEOUT_SECS", "30")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "/srv/results", cfg.Server.ResultsDir)
	assert.Equal(t, "uploads", cfg.Server.UploadDir)
	assert.Equal(t, 24.0, cfg.Analysis.FPS)
	assert.Equal(t, 15.0, cfg.Analysis.MinThreshold)
	assert.Equal(t, 0.3, cfg.Analysis.PhotoThreshold)
	assert.Equal(t, []string{"mp4", "mkv"}, cfg.Server.AllowedExtensions)
	assert.Equal(t, time.Hour, cfg.Redis.HashTTL)
	assert.Equal(t, 30*time.Second, cfg.FFmpeg.Timeout)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	opts := cfg.Analysis.Options()
	assert.Equal(t, 24.0, opts.FPS)
	assert.Equal(t, 2, opts.LeadInFrames)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "zero fps", body: "analysis:\n  fps: 0\n"},
		{name: "negative photo threshold", body: "analysis:\n  photo_threshold: -1\n"},
		{name: "no workers", body: "analysis:\n  hash_workers: 0\n"},
		{name: "empty results dir", body: "server:\n  results_dir: \"\"\n"},
		{name: "malformed yaml", body: "analysis: [1, 2"},
		{name: "bad env number", body: "", env: map[string]string{"ANALYSIS_FPS": "fast"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestContext(t *testing.T) {
	assert.Equal(t, "8080", FromContext(context.Background()).Server.Port)

	cfg := defaultConfig()
	cfg.Server.Port = "1234"
	assert.Equal(t, "1234", FromContext(WithConfig(context.Background(), cfg)).Server.Port)
}
