package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 900, cfg.Pipeline.PollIntervalSecs)
	assert.Equal(t, 100, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 500, cfg.Retry.BackoffMs)
	assert.Equal(t, 600, cfg.TTL.BatchSecs)
	assert.Equal(t, 10, cfg.RateLimit.Requests)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://hn.algolia.com/api/v1", cfg.Sources.HackerNews.BaseURL)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MENTIONS_PIPELINE_CHUNK_SIZE", "25")
	t.Setenv("MENTIONS_STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Pipeline.ChunkSize)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := []byte("pipeline:\n  chunk_size: 42\nsources:\n  news:\n    api_key: test-key\n")
	require.NoError(t, writeFile(dir+"/config.yaml", yaml))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Pipeline.ChunkSize)
	assert.Equal(t, "test-key", cfg.Sources.News.APIKey)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}

func TestInitLogger_Console(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	assert.NoError(t, err)
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
