package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/config"
	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/internal/indexer"
	"github.com/dshills/codecontext/pkg/types"
)

// setupCLI points the global config at a temp database and a local embedder
func setupCLI(t *testing.T) {
	t.Helper()
	logger = zap.NewNop()
	cfg = config.DefaultConfig()
	cfg.Context.DBPath = filepath.Join(t.TempDir(), "ctx")
	cfg.Context.ChunkSize = 4
	cfg.Context.MinChunkOverlap = 1
	cfg.Embedder = embedder.Config{Provider: embedder.ProviderLocal, Dimension: 32}
	t.Cleanup(func() {
		cfg = nil
		indexInclude, indexExclude = nil, nil
		indexWorkers, indexSkipExisting = 0, false
		queryLimit = 5
	})
}

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	return cmd, out
}

func TestIndexQueryStats(t *testing.T) {
	setupCLI(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("import os\n\ndef load():\n    return os.environ\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.py"), []byte("class Store:\n    pass\n"), 0o644))

	cmd, out := newTestCmd()
	require.NoError(t, runIndex(cmd, []string{root}))

	var stats indexer.Statistics
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 0, stats.FilesFailed)

	cmd, out = newTestCmd()
	queryLimit = 1
	require.NoError(t, runQuery(cmd, []string{"load environment"}))

	var qc types.QueryContext
	require.NoError(t, json.Unmarshal(out.Bytes(), &qc))
	assert.Len(t, qc.Chunks, 1)
	assert.NotEmpty(t, qc.SourceFile)

	cmd, out = newTestCmd()
	require.NoError(t, runStats(cmd, nil))
	assert.Contains(t, out.String(), "Rows: 2")
	assert.Contains(t, out.String(), "Index: ")
}

func TestStats_EmptyDatabase(t *testing.T) {
	setupCLI(t)

	cmd, out := newTestCmd()
	require.NoError(t, runStats(cmd, nil))
	assert.Contains(t, out.String(), "Rows: 0")
	assert.Contains(t, out.String(), "Index: not built")
}

func TestEmbed(t *testing.T) {
	setupCLI(t)

	cmd, out := newTestCmd()
	require.NoError(t, runEmbed(cmd, []string{"hello"}))

	var vector []float32
	require.NoError(t, json.Unmarshal(out.Bytes(), &vector))
	assert.Len(t, vector, 32)
}

func TestQuery_InvalidLimit(t *testing.T) {
	setupCLI(t)

	queryLimit = 0
	cmd, _ := newTestCmd()
	assert.ErrorIs(t, runQuery(cmd, []string{"x"}), types.ErrInvalidInput)
}

func TestRootFlagsOverrideConfig(t *testing.T) {
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvDBPath, "")
	t.Setenv(config.EnvLogLevel, "")
	t.Setenv(embedder.EnvProvider, "")

	dir := filepath.Join(t.TempDir(), "db")
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"--db-path", dir, "--provider", "local", "--log-level", "warn", "version"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		dbPath, provider, logLevel = "", "", ""
		cfg = nil
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, dir, cfg.Context.DBPath)
	assert.Equal(t, "local", cfg.Embedder.Provider)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Contains(t, out.String(), "Build Mode:")
}
