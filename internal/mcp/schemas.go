package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// initContextManagerTool returns the tool definition for init_context_manager
func initContextManagerTool() mcp.Tool {
	return mcp.Tool{
		Name:        "init_context_manager",
		Description: "Initialize the code context engine. Unset options fall back to the server configuration. A second call while initialized is a no-op.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"db_path": map[string]interface{}{
					"type":        "string",
					"description": "Directory holding the vector database",
				},
				"max_files": map[string]interface{}{
					"type":        "integer",
					"description": "Capacity of the parsed file cache",
					"minimum":     1,
				},
				"max_embeddings": map[string]interface{}{
					"type":        "integer",
					"description": "Capacity of the embedding cache",
					"minimum":     0,
				},
				"watch_files": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-ingest files when they change on disk",
				},
				"chunk_size": map[string]interface{}{
					"type":        "integer",
					"description": "Lines per chunk",
					"minimum":     1,
				},
				"min_chunk_overlap": map[string]interface{}{
					"type":        "integer",
					"description": "Minimum overlap between chunks; must be below chunk_size",
					"minimum":     0,
				},
				"duplicate_policy": map[string]interface{}{
					"type":        "string",
					"description": "What add_to_context does with a path that is already indexed",
					"enum":        []string{"replace", "reject"},
				},
			},
		},
	}
}

// resetContextManagerTool returns the tool definition for reset_context_manager
func resetContextManagerTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reset_context_manager",
		Description: "Tear down the context engine. Stored vectors stay on disk.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// addToContextTool returns the tool definition for add_to_context
func addToContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "add_to_context",
		Description: "Chunk, embed and store one file. Content is read from disk when omitted.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path used as the identity of the stored chunks",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "UTF-8 file content",
				},
			},
			Required: []string{"path"},
		},
	}
}

// isFileInContextTool returns the tool definition for is_file_in_context
func isFileInContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "is_file_in_context",
		Description: "Report whether a path has stored chunks",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path as given to add_to_context",
				},
			},
			Required: []string{"path"},
		},
	}
}

// getContextTool returns the tool definition for get_context
func getContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_context",
		Description: "Return the code chunks most relevant to a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question or code fragment",
				},
			},
			Required: []string{"query"},
		},
	}
}

// searchSimilarCodeTool returns the tool definition for search_similar_code
func searchSimilarCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_similar_code",
		Description: "Nearest-neighbor search over stored chunks, most similar first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or code)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     5,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getFileContextTool returns the tool definition for get_file_context
func getFileContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_file_context",
		Description: "Return chunks related to a file, using its path as the query, plus its cached symbols",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path",
				},
			},
			Required: []string{"path"},
		},
	}
}

// getContextStatsTool returns the tool definition for get_context_stats
func getContextStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_context_stats",
		Description: "Row count, cached file count and stored content size of the context",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// generateEmbeddingsTool returns the tool definition for generate_embeddings
func generateEmbeddingsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "generate_embeddings",
		Description: "Embed text with the configured provider and return the raw vector",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Text to embed",
				},
			},
			Required: []string{"text"},
		},
	}
}

// readContextFileTool returns the tool definition for read_context_file
func readContextFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "read_context_file",
		Description: "Read a UTF-8 text file from disk",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Path of the file to read",
				},
			},
			Required: []string{"path"},
		},
	}
}

// indexDirectoryTool returns the tool definition for index_directory
func indexDirectoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_directory",
		Description: "Ingest every text file under a directory into the context",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the directory to index",
				},
				"include": map[string]interface{}{
					"type":        "array",
					"description": "Glob patterns relative to path (e.g. '**/*.go'); default is every file",
					"items":       map[string]interface{}{"type": "string"},
				},
				"exclude": map[string]interface{}{
					"type":        "array",
					"description": "Glob patterns to skip; default skips vendor, node_modules, .git and target",
					"items":       map[string]interface{}{"type": "string"},
				},
				"workers": map[string]interface{}{
					"type":        "integer",
					"description": "Number of files ingested concurrently",
					"minimum":     1,
				},
				"skip_existing": map[string]interface{}{
					"type":        "boolean",
					"description": "Skip files that already have stored chunks",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}
