package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/config"
	"github.com/dshills/codecontext/internal/engine"
	"github.com/dshills/codecontext/internal/indexer"
	"github.com/dshills/codecontext/internal/lifecycle"
	"github.com/dshills/codecontext/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "codecontext"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	coord   *lifecycle.Coordinator
	indexer *indexer.Indexer
	cfg     *config.Config
	logger  *zap.Logger
}

// NewServer creates a new MCP server instance. cfg supplies the defaults for
// init_context_manager and index_directory; the engine itself is only built
// when a client calls init_context_manager.
func NewServer(cfg *config.Config, coord *lifecycle.Coordinator, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if coord == nil {
		return nil, fmt.Errorf("%w: coordinator is required", types.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:     mcpServer,
		coord:   coord,
		indexer: indexer.New(&sessionIngester{coord: coord}, logger),
		cfg:     cfg,
		logger:  logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown. The live
// engine, if any, is released on return.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		if err := s.coord.Close(); err != nil {
			s.logger.Warn("failed to close context manager", zap.Error(err))
		}
	}()
	s.logger.Info("serving MCP on stdio", zap.String("server", ServerName), zap.String("version", ServerVersion))
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	// Lifecycle
	s.mcp.AddTool(initContextManagerTool(), s.handleInitContextManager)
	s.mcp.AddTool(resetContextManagerTool(), s.handleResetContextManager)

	// Ingestion
	s.mcp.AddTool(addToContextTool(), s.handleAddToContext)
	s.mcp.AddTool(isFileInContextTool(), s.handleIsFileInContext)
	s.mcp.AddTool(indexDirectoryTool(), s.handleIndexDirectory)
	s.mcp.AddTool(readContextFileTool(), s.handleReadContextFile)

	// Queries
	s.mcp.AddTool(getContextTool(), s.handleGetContext)
	s.mcp.AddTool(searchSimilarCodeTool(), s.handleSearchSimilarCode)
	s.mcp.AddTool(getFileContextTool(), s.handleGetFileContext)
	s.mcp.AddTool(getContextStatsTool(), s.handleGetContextStats)
	s.mcp.AddTool(generateEmbeddingsTool(), s.handleGenerateEmbeddings)

	return nil
}

// sessionIngester feeds the indexer into whichever engine is live when each
// file is ingested.
type sessionIngester struct {
	coord *lifecycle.Coordinator
}

func (si *sessionIngester) AddFile(ctx context.Context, path, content string) (*types.FileMetadata, error) {
	var meta *types.FileMetadata
	err := si.coord.With(func(eng *engine.Engine) error {
		var err error
		meta, err = eng.AddFile(ctx, path, content)
		return err
	})
	return meta, err
}

func (si *sessionIngester) HasFile(ctx context.Context, path string) (bool, error) {
	var ok bool
	err := si.coord.With(func(eng *engine.Engine) error {
		var err error
		ok, err = eng.HasFile(ctx, path)
		return err
	})
	return ok, err
}
