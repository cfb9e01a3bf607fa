// Package mcp implements the Model Context Protocol (MCP) server for codecontext.
//
// The server exposes the context engine to AI coding assistants as tools:
//   - init_context_manager / reset_context_manager: build or tear down the engine
//   - add_to_context: chunk, embed and store one file
//   - index_directory: ingest every text file under a directory
//   - is_file_in_context: check whether a path has stored chunks
//   - get_context / search_similar_code / get_file_context: similarity queries
//   - get_context_stats: row, cache and size counts
//   - generate_embeddings: raw query embedding
//   - read_context_file: read a UTF-8 file from disk
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is typically started via the serve command:
//
//	codecontext serve
//
// # Lifecycle
//
// Every tool except init_context_manager, reset_context_manager and
// read_context_file needs a live engine; before initialization they fail with
// code -32001. Each call holds a reference to the engine for its duration, so
// a concurrent reset never closes the engine under a running query.
//
//	Request:
//	{
//	  "name": "init_context_manager",
//	  "arguments": {"db_path": "/home/me/.codecontext", "max_files": 100}
//	}
//
// # Tool: search_similar_code
//
//	Request:
//	{
//	  "name": "search_similar_code",
//	  "arguments": {"query": "parse the config file", "limit": 5}
//	}
//
//	Response:
//	{
//	  "query": "parse the config file",
//	  "has_results": true,
//	  "relevance_score": 0.83,
//	  "source_file": "internal/config/config.go",
//	  "chunks": [
//	    {
//	      "content": "func Load(path string) (*Config, error) {...",
//	      "start_line": 84,
//	      "end_line": 96,
//	      "file_path": "internal/config/config.go",
//	      "symbol_kind": "Function"
//	    }
//	  ],
//	  "metadata": {"timestamp": "...", "execution_time_ms": 4, "total_chunks_searched": 5}
//	}
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "codecontext": {
//	      "command": "/usr/local/bin/codecontext",
//	      "args": ["serve"],
//	      "env": {
//	        "JINA_API_KEY": "your-api-key"
//	      }
//	    }
//	  }
//	}
//
// # Error Handling
//
// Handlers return *MCPError; engine error kinds map to codes:
//   - -32602: Invalid params (missing arguments, bad UTF-8, bad config, duplicate file)
//   - -32603: Internal error
//   - -32001: Context manager not initialized
//   - -32002: Indexing in progress
//   - -32003: Embedding failure or integrity mismatch
//   - -32004: Vector store error
//
// Logs go to stderr; stdout is reserved for the protocol.
package mcp
