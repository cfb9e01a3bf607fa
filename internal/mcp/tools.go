package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/engine"
	"github.com/dshills/codecontext/internal/indexer"
	"github.com/dshills/codecontext/internal/lifecycle"
	"github.com/dshills/codecontext/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeNotInitialized     = -32001 // init_context_manager has not been called
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmbeddingFailure   = -32003 // Embedding provider failed or returned bad vectors
	ErrorCodeStoreError         = -32004 // Vector store could not be opened, read or written
)

// handleInitContextManager handles the init_context_manager tool invocation
func (s *Server) handleInitContextManager(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	cfg := s.cfg.Context
	cfg.DBPath = getStringDefault(args, "db_path", cfg.DBPath)
	cfg.MaxFiles = getIntDefault(args, "max_files", cfg.MaxFiles)
	cfg.MaxEmbeddings = getIntDefault(args, "max_embeddings", cfg.MaxEmbeddings)
	cfg.WatchFiles = getBoolDefault(args, "watch_files", cfg.WatchFiles)
	cfg.ChunkSize = getIntDefault(args, "chunk_size", cfg.ChunkSize)
	if _, ok := args["min_chunk_overlap"]; !ok && cfg.MinChunkOverlap >= cfg.ChunkSize {
		// A configured overlap must not block a smaller chunk_size the caller asked for
		cfg.MinChunkOverlap = 0
	}
	cfg.MinChunkOverlap = getIntDefault(args, "min_chunk_overlap", cfg.MinChunkOverlap)
	cfg.DuplicatePolicy = types.DuplicatePolicy(getStringDefault(args, "duplicate_policy", string(cfg.DuplicatePolicy)))

	already := s.coord.State() == lifecycle.StateReady
	if err := s.coord.Initialize(ctx, cfg); err != nil {
		return nil, toolError("failed to initialize context manager", err)
	}

	response := map[string]interface{}{
		"initialized":         true,
		"already_initialized": already,
	}
	if err := s.coord.With(func(eng *engine.Engine) error {
		response["config"] = eng.Config()
		return nil
	}); err != nil {
		return nil, toolError("context manager unavailable", err)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleResetContextManager handles the reset_context_manager tool invocation
func (s *Server) handleResetContextManager(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.coord.Reset(); err != nil {
		// The engine is gone either way; a failed close is only worth a log line.
		s.logger.Warn("context manager closed with errors", zap.Error(err))
	}

	response := map[string]interface{}{
		"reset": true,
		"state": s.coord.State().String(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAddToContext handles the add_to_context tool invocation
func (s *Server) handleAddToContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}

	content, ok := args["content"].(string)
	if !ok {
		text, err := readTextFile(path)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "failed to read file", map[string]interface{}{
				"param":  "path",
				"reason": err.Error(),
			})
		}
		content = text
	}

	var meta *types.FileMetadata
	err = s.coord.With(func(eng *engine.Engine) error {
		var err error
		meta, err = eng.AddFile(ctx, path, content)
		return err
	})
	if err != nil {
		return nil, toolError("failed to add file", err)
	}

	response := map[string]interface{}{
		"added": true,
		"file":  meta,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIsFileInContext handles the is_file_in_context tool invocation
func (s *Server) handleIsFileInContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}

	var found bool
	err = s.coord.With(func(eng *engine.Engine) error {
		var err error
		found, err = eng.HasFile(ctx, path)
		return err
	})
	if err != nil {
		return nil, toolError("failed to look up file", err)
	}

	response := map[string]interface{}{
		"path":       path,
		"in_context": found,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetContext handles the get_context tool invocation
func (s *Server) handleGetContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}

	var qc *types.QueryContext
	err = s.coord.With(func(eng *engine.Engine) error {
		var err error
		qc, err = eng.GetContext(ctx, query)
		return err
	})
	if err != nil {
		return nil, toolError("query failed", err)
	}

	return mcp.NewToolResultText(formatJSON(queryResponse(query, qc))), nil
}

// handleSearchSimilarCode handles the search_similar_code tool invocation
func (s *Server) handleSearchSimilarCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}

	limit := getIntDefault(args, "limit", engine.DefaultContextLimit)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	var qc *types.QueryContext
	err = s.coord.With(func(eng *engine.Engine) error {
		var err error
		qc, err = eng.SearchContext(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, toolError("search failed", err)
	}

	return mcp.NewToolResultText(formatJSON(queryResponse(query, qc))), nil
}

// handleGetFileContext handles the get_file_context tool invocation
func (s *Server) handleGetFileContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}

	var (
		qc     *types.QueryContext
		cached *types.FileContext
		found  bool
	)
	err = s.coord.With(func(eng *engine.Engine) error {
		var err error
		qc, err = eng.GetFileContext(ctx, path)
		if err != nil {
			return err
		}
		cached, found = eng.CachedFile(path)
		return nil
	})
	if err != nil {
		return nil, toolError("file context query failed", err)
	}

	response := queryResponse(path, qc)
	response["path"] = path
	if found {
		response["symbols"] = cached.Symbols
		response["imports"] = cached.Imports
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetContextStats handles the get_context_stats tool invocation
func (s *Server) handleGetContextStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response := map[string]interface{}{
		"state":    s.coord.State().String(),
		"indexing": s.indexer.Running(),
	}

	err := s.coord.With(func(eng *engine.Engine) error {
		stats, err := eng.GetStats(ctx)
		if err != nil {
			return err
		}
		response["stats"] = stats

		info, err := eng.IndexInfo(ctx)
		if err != nil {
			return err
		}
		if info != nil {
			response["index"] = map[string]interface{}{
				"name":         info.Name,
				"kind":         info.Kind,
				"metric":       info.Metric,
				"partitions":   info.Partitions,
				"trained_rows": info.TrainedRows,
				"built_at":     info.BuiltAt.Format("2006-01-02T15:04:05Z07:00"),
			}
		}
		return nil
	})
	if err != nil {
		return nil, toolError("failed to compute stats", err)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGenerateEmbeddings handles the generate_embeddings tool invocation
func (s *Server) handleGenerateEmbeddings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	text, err := requireString(args, "text")
	if err != nil {
		return nil, err
	}

	var vector []float32
	err = s.coord.With(func(eng *engine.Engine) error {
		var err error
		vector, err = eng.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, toolError("embedding failed", err)
	}

	response := map[string]interface{}{
		"dimension": len(vector),
		"embedding": vector,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleReadContextFile handles the read_context_file tool invocation
func (s *Server) handleReadContextFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}

	content, err := readTextFile(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "failed to read file", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	return mcp.NewToolResultText(content), nil
}

// handleIndexDirectory handles the index_directory tool invocation
func (s *Server) handleIndexDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	// Fail fast rather than walking the tree only to reject every file.
	h, err := s.coord.Acquire()
	if err != nil {
		return nil, toolError("context manager unavailable", err)
	}
	_ = h.Release()

	config := s.cfg.Index.IndexerConfig()
	config.Workers = getIntDefault(args, "workers", config.Workers)
	config.SkipExisting = getBoolDefault(args, "skip_existing", false)
	if include, ok := getStringSlice(args, "include"); ok {
		config.Include = include
	}
	if exclude, ok := getStringSlice(args, "exclude"); ok {
		config.Exclude = exclude
	}

	stats, err := s.indexer.IndexDirectory(ctx, path, config)
	if err != nil {
		return nil, toolError("indexing failed", err)
	}

	response := map[string]interface{}{
		"indexed":           true,
		"files_indexed":     stats.FilesIndexed,
		"files_skipped":     stats.FilesSkipped,
		"files_failed":      stats.FilesFailed,
		"symbols_extracted": stats.SymbolsExtracted,
		"chunks_created":    stats.ChunksCreated,
		"duration_ms":       stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// queryResponse renders a QueryContext
func queryResponse(query string, qc *types.QueryContext) map[string]interface{} {
	return map[string]interface{}{
		"query":           query,
		"has_results":     qc.HasResults(),
		"chunks":          qc.Chunks,
		"relevance_score": qc.RelevanceScore,
		"source_file":     qc.SourceFile,
		"metadata":        qc.Metadata,
	}
}

// toolError maps an engine error kind to its MCP error code
func toolError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrNotInitialized):
		code = ErrorCodeNotInitialized
	case errors.Is(err, indexer.ErrIndexingInProgress):
		code = ErrorCodeIndexingInProgress
	case errors.Is(err, types.ErrEmbeddingFailure), errors.Is(err, types.ErrIntegrityMismatch):
		code = ErrorCodeEmbeddingFailure
	case errors.Is(err, types.ErrStoreConnection), errors.Is(err, types.ErrStoreIO):
		code = ErrorCodeStoreError
	case errors.Is(err, types.ErrInvalidInput),
		errors.Is(err, types.ErrConfiguration),
		errors.Is(err, types.ErrDuplicateFile):
		code = ErrorCodeInvalidParams
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// readTextFile reads a regular file and rejects content that is not UTF-8
func readTextFile(path string) (string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", ErrPathNotFound
	}
	if err != nil {
		return "", ErrPathNotReadable
	}
	if info.IsDir() {
		return "", ErrIsDirectory
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", ErrPathNotReadable
	}
	if !utf8.Valid(data) {
		return "", ErrNotUTF8
	}
	return string(data), nil
}

// requireString extracts a required, non-empty string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter. JSON decoding yields
// []interface{}; direct callers may pass []string.
func getStringSlice(args map[string]interface{}, key string) ([]string, bool) {
	switch val := args[key].(type) {
	case []string:
		return val, true
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
	ErrIsDirectory     = errors.New("path is a directory")
	ErrNotUTF8         = errors.New("file is not valid UTF-8")
)
