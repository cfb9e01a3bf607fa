package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/pkg/types"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvDBPath, EnvLogLevel, EnvConfig, embedder.EnvProvider} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEmpty(t, cfg.Context.DBPath)
	assert.Equal(t, 100, cfg.Context.MaxFiles)
	assert.Equal(t, 10000, cfg.Context.MaxEmbeddings)
	assert.Equal(t, 512, cfg.Context.ChunkSize)
	assert.Equal(t, 0, cfg.Context.MinChunkOverlap)
	assert.Equal(t, 32, cfg.Context.WithDefaults().MinChunkOverlap)
	assert.False(t, cfg.Context.WatchFiles)
	assert.Equal(t, types.DuplicateReplace, cfg.Context.DuplicatePolicy)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Context, cfg.Context)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Context.MaxFiles)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "codecontext.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
context:
  db_path: /tmp/x
  max_files: 2
  max_embeddings: 100
  watch_files: true
  duplicate_policy: reject
embedder:
  provider: local
  dimension: 256
index:
  workers: 4
  exclude: ["**/testdata/**"]
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x", cfg.Context.DBPath)
	assert.Equal(t, 2, cfg.Context.MaxFiles)
	assert.Equal(t, 100, cfg.Context.MaxEmbeddings)
	assert.True(t, cfg.Context.WatchFiles)
	assert.Equal(t, 512, cfg.Context.ChunkSize, "unset keys keep their defaults")
	assert.Equal(t, types.DuplicateReject, cfg.Context.DuplicatePolicy)
	assert.Equal(t, "local", cfg.Embedder.Provider)
	assert.Equal(t, 256, cfg.Embedder.Dimension)
	assert.Equal(t, 4, cfg.Index.Workers)
	assert.Equal(t, []string{"**/testdata/**"}, cfg.Index.IndexerConfig().Exclude)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "codecontext.yaml")
	require.NoError(t, os.WriteFile(path, []byte("context:\n  db_path: /from/file\n"), 0o644))

	t.Setenv(EnvConfig, path)
	t.Setenv(EnvDBPath, "/from/env")
	t.Setenv(embedder.EnvProvider, "OpenAI")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Context.DBPath)
	assert.Equal(t, "openai", cfg.Embedder.Provider)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("context: [unclosed"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"max files", func(c *Config) { c.Context.MaxFiles = 0 }},
		{"db path", func(c *Config) { c.Context.DBPath = "" }},
		{"workers", func(c *Config) { c.Index.Workers = -1 }},
		{"file size", func(c *Config) { c.Index.MaxFileSize = -1 }},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), types.ErrConfiguration)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	cfg.Context.DBPath = "/data/ctx"
	cfg.Context.MaxFiles = 7
	cfg.Embedder.Provider = "jina"

	path := filepath.Join(t.TempDir(), "nested", "codecontext.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Context, loaded.Context)
	assert.Equal(t, "jina", loaded.Embedder.Provider)
}
