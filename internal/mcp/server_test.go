package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codecontext/internal/config"
	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/internal/lifecycle"
)

const rustSource = `use std::collections::HashMap;

pub struct Cache {
    items: HashMap<String, String>,
}

impl Cache {
    pub fn get(&self, key: &str) -> Option<&String> {
        self.items.get(key)
    }
}
`

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Context.DBPath = filepath.Join(t.TempDir(), "ctx")
	cfg.Context.MaxFiles = 4
	cfg.Context.ChunkSize = 4
	cfg.Context.MinChunkOverlap = 1
	cfg.Index.Workers = 2

	coord := lifecycle.New(lifecycle.NewEngineFactory(embedder.Config{
		Provider:  embedder.ProviderLocal,
		Dimension: 64,
	}, nil), nil)

	s, err := NewServer(cfg, coord, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })
	return s
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// call invokes h and decodes its JSON text result
func call(t *testing.T, h handler, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	text := callText(t, h, args)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &out), text)
	return out
}

func callText(t *testing.T, h handler, args map[string]interface{}) string {
	t.Helper()
	result, err := h(context.Background(), callRequest(args))
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

// callErr invokes h and returns the MCP error code
func callErr(t *testing.T, h handler, args map[string]interface{}) int {
	t.Helper()
	_, err := h(context.Background(), callRequest(args))
	require.Error(t, err)
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected *MCPError, got %v", err)
	return mcpErr.Code
}

func TestNewServer(t *testing.T) {
	t.Run("requires coordinator", func(t *testing.T) {
		_, err := NewServer(nil, nil, nil)
		assert.Error(t, err)
	})

	t.Run("server has all required components", func(t *testing.T) {
		s := newTestServer(t)
		assert.NotNil(t, s.mcp, "MCP server should be initialized")
		assert.NotNil(t, s.coord, "Coordinator should be set")
		assert.NotNil(t, s.indexer, "Indexer should be initialized")
		assert.Equal(t, lifecycle.StateUninitialized, s.coord.State())
	})
}

func TestTools_NotInitialized(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		h    handler
		args map[string]interface{}
	}{
		{"add_to_context", s.handleAddToContext, map[string]interface{}{"path": "a.rs", "content": "fn a() {}"}},
		{"is_file_in_context", s.handleIsFileInContext, map[string]interface{}{"path": "a.rs"}},
		{"get_context", s.handleGetContext, map[string]interface{}{"query": "cache"}},
		{"search_similar_code", s.handleSearchSimilarCode, map[string]interface{}{"query": "cache"}},
		{"get_file_context", s.handleGetFileContext, map[string]interface{}{"path": "a.rs"}},
		{"get_context_stats", s.handleGetContextStats, map[string]interface{}{}},
		{"generate_embeddings", s.handleGenerateEmbeddings, map[string]interface{}{"text": "cache"}},
		{"index_directory", s.handleIndexDirectory, map[string]interface{}{"path": t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ErrorCodeNotInitialized, callErr(t, tt.h, tt.args))
		})
	}
}

func TestInitAndReset(t *testing.T) {
	s := newTestServer(t)

	out := call(t, s.handleInitContextManager, map[string]interface{}{
		"max_files":        float64(3),
		"duplicate_policy": "reject",
	})
	assert.Equal(t, true, out["initialized"])
	assert.Equal(t, false, out["already_initialized"])
	cfg := out["config"].(map[string]interface{})
	assert.Equal(t, float64(3), cfg["max_files"])
	assert.Equal(t, "reject", cfg["duplicate_policy"])
	assert.Equal(t, float64(4), cfg["chunk_size"], "unset options come from the server config")

	out = call(t, s.handleInitContextManager, map[string]interface{}{"max_files": float64(9)})
	assert.Equal(t, true, out["already_initialized"])
	assert.Equal(t, float64(3), out["config"].(map[string]interface{})["max_files"], "second init is a no-op")

	out = call(t, s.handleResetContextManager, nil)
	assert.Equal(t, true, out["reset"])
	assert.Equal(t, "uninitialized", out["state"])

	// Reset is safe when already uninitialized
	call(t, s.handleResetContextManager, nil)
}

func TestInit_InvalidConfig(t *testing.T) {
	s := newTestServer(t)

	code := callErr(t, s.handleInitContextManager, map[string]interface{}{"max_files": float64(0)})
	assert.Equal(t, ErrorCodeInvalidParams, code)
	assert.Equal(t, lifecycle.StateUninitialized, s.coord.State())

	code = callErr(t, s.handleInitContextManager, map[string]interface{}{"duplicate_policy": "merge"})
	assert.Equal(t, ErrorCodeInvalidParams, code)
}

func TestInit_SmallChunkSize(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Context.MinChunkOverlap = 32

	out := call(t, s.handleInitContextManager, map[string]interface{}{"chunk_size": float64(1)})
	cfg := out["config"].(map[string]interface{})
	assert.Equal(t, float64(1), cfg["chunk_size"])
	assert.Equal(t, float64(0), cfg["min_chunk_overlap"])

	call(t, s.handleResetContextManager, nil)
	code := callErr(t, s.handleInitContextManager, map[string]interface{}{
		"chunk_size":        float64(16),
		"min_chunk_overlap": float64(16),
	})
	assert.Equal(t, ErrorCodeInvalidParams, code, "an explicit overlap is still validated")
}

func TestAddAndQuery(t *testing.T) {
	s := newTestServer(t)
	call(t, s.handleInitContextManager, nil)

	out := call(t, s.handleAddToContext, map[string]interface{}{"path": "src/cache.rs", "content": rustSource})
	assert.Equal(t, true, out["added"])
	file := out["file"].(map[string]interface{})
	assert.Equal(t, "src/cache.rs", file["path"])
	assert.Equal(t, float64(3), file["chunk_count"])
	assert.NotEmpty(t, file["id"])

	out = call(t, s.handleIsFileInContext, map[string]interface{}{"path": "src/cache.rs"})
	assert.Equal(t, true, out["in_context"])
	out = call(t, s.handleIsFileInContext, map[string]interface{}{"path": "src/other.rs"})
	assert.Equal(t, false, out["in_context"])

	out = call(t, s.handleGetContext, map[string]interface{}{"query": "cache get key"})
	assert.Equal(t, true, out["has_results"])
	assert.Len(t, out["chunks"], 3)
	assert.Equal(t, "src/cache.rs", out["source_file"])
	score := out["relevance_score"].(float64)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
	meta := out["metadata"].(map[string]interface{})
	assert.Equal(t, float64(3), meta["total_chunks_searched"])

	out = call(t, s.handleSearchSimilarCode, map[string]interface{}{"query": "HashMap", "limit": float64(2)})
	assert.Len(t, out["chunks"], 2)

	out = call(t, s.handleGetFileContext, map[string]interface{}{"path": "src/cache.rs"})
	assert.Equal(t, "src/cache.rs", out["path"])
	assert.NotEmpty(t, out["symbols"])
	assert.Equal(t, []interface{}{"std::collections::HashMap"}, out["imports"])

	out = call(t, s.handleGetContextStats, nil)
	assert.Equal(t, "ready", out["state"])
	assert.Equal(t, false, out["indexing"])
	stats := out["stats"].(map[string]interface{})
	assert.Equal(t, float64(3), stats["totalFiles"])
	assert.Equal(t, float64(1), stats["activeFiles"])
	assert.Greater(t, stats["totalSize"].(float64), float64(0))
	assert.LessOrEqual(t, stats["totalSize"].(float64), float64(len(rustSource)))
}

func TestAddToContext_ReadsFromDisk(t *testing.T) {
	s := newTestServer(t)
	call(t, s.handleInitContextManager, nil)

	path := filepath.Join(t.TempDir(), "lib.rs")
	require.NoError(t, os.WriteFile(path, []byte(rustSource), 0o644))

	out := call(t, s.handleAddToContext, map[string]interface{}{"path": path})
	assert.Equal(t, path, out["file"].(map[string]interface{})["path"])

	missing := filepath.Join(t.TempDir(), "absent.rs")
	assert.Equal(t, ErrorCodeInvalidParams, callErr(t, s.handleAddToContext, map[string]interface{}{"path": missing}))
}

func TestAddToContext_Errors(t *testing.T) {
	s := newTestServer(t)
	call(t, s.handleInitContextManager, map[string]interface{}{"duplicate_policy": "reject"})

	assert.Equal(t, ErrorCodeInvalidParams, callErr(t, s.handleAddToContext, map[string]interface{}{}))
	assert.Equal(t, ErrorCodeInvalidParams, callErr(t, s.handleAddToContext, map[string]interface{}{
		"path":    "bad.rs",
		"content": string([]byte{0xff, 0xfe}),
	}))

	call(t, s.handleAddToContext, map[string]interface{}{"path": "a.rs", "content": rustSource})
	assert.Equal(t, ErrorCodeInvalidParams, callErr(t, s.handleAddToContext, map[string]interface{}{
		"path":    "a.rs",
		"content": rustSource,
	}), "reject policy refuses a second add")
}

func TestSearchSimilarCode_Validation(t *testing.T) {
	s := newTestServer(t)
	call(t, s.handleInitContextManager, nil)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing query", map[string]interface{}{}},
		{"empty query", map[string]interface{}{"query": ""}},
		{"zero limit", map[string]interface{}{"query": "x", "limit": float64(0)}},
		{"limit too large", map[string]interface{}{"query": "x", "limit": float64(101)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ErrorCodeInvalidParams, callErr(t, s.handleSearchSimilarCode, tt.args))
		})
	}

	t.Run("non-object arguments", func(t *testing.T) {
		_, err := s.handleSearchSimilarCode(context.Background(), callRequest(nil))
		assert.Error(t, err)
	})
}

func TestGenerateEmbeddings(t *testing.T) {
	s := newTestServer(t)
	call(t, s.handleInitContextManager, nil)

	out := call(t, s.handleGenerateEmbeddings, map[string]interface{}{"text": "parse the config"})
	assert.Equal(t, float64(64), out["dimension"])
	assert.Len(t, out["embedding"], 64)

	assert.Equal(t, ErrorCodeInvalidParams, callErr(t, s.handleGenerateEmbeddings, map[string]interface{}{"text": ""}))
}

func TestReadContextFile(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("héllo\n"), 0o644))
	assert.Equal(t, "héllo\n", callText(t, s.handleReadContextFile, map[string]interface{}{"path": path}))

	binary := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(binary, []byte{0xc3, 0x28}, 0o644))

	tests := []struct {
		name string
		path string
	}{
		{"invalid utf-8", binary},
		{"directory", dir},
		{"missing", filepath.Join(dir, "nope.txt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ErrorCodeInvalidParams, callErr(t, s.handleReadContextFile, map[string]interface{}{"path": tt.path}))
		})
	}
}

func TestIndexDirectory(t *testing.T) {
	s := newTestServer(t)
	call(t, s.handleInitContextManager, nil)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "cache.rs"), []byte(rustSource), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.rs"), []byte("fn main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# demo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "dep.rs"), []byte("fn dep() {}\n"), 0o644))

	out := call(t, s.handleIndexDirectory, map[string]interface{}{
		"path":    root,
		"include": []interface{}{"**/*.rs"},
	})
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, float64(2), out["files_indexed"])
	assert.Equal(t, float64(0), out["files_failed"])

	found := call(t, s.handleIsFileInContext, map[string]interface{}{"path": filepath.Join(root, "src", "main.rs")})
	assert.Equal(t, true, found["in_context"])
	found = call(t, s.handleIsFileInContext, map[string]interface{}{"path": filepath.Join(root, "vendor", "dep.rs")})
	assert.Equal(t, false, found["in_context"])

	t.Run("invalid path", func(t *testing.T) {
		for _, path := range []string{"relative/dir", filepath.Join(root, "missing"), filepath.Join(root, "README.md")} {
			assert.Equal(t, ErrorCodeInvalidParams, callErr(t, s.handleIndexDirectory, map[string]interface{}{"path": path}))
		}
	})

	t.Run("invalid pattern", func(t *testing.T) {
		code := callErr(t, s.handleIndexDirectory, map[string]interface{}{
			"path":    root,
			"include": []interface{}{"src/[unclosed"},
		})
		assert.Equal(t, ErrorCodeInvalidParams, code)
	})
}

func TestToolError(t *testing.T) {
	assert.Equal(t, ErrorCodeInternalError, toolError("boom", errors.New("boom")).(*MCPError).Code)
	assert.Contains(t, toolError("boom", errors.New("boom")).Error(), "MCP error -32603")
}

func TestGetStringSlice(t *testing.T) {
	got, ok := getStringSlice(map[string]interface{}{"k": []interface{}{"a", 1, "b"}}, "k")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)

	got, ok = getStringSlice(map[string]interface{}{"k": []string{"x"}}, "k")
	assert.True(t, ok)
	assert.Equal(t, []string{"x"}, got)

	_, ok = getStringSlice(map[string]interface{}{}, "k")
	assert.False(t, ok)
}
