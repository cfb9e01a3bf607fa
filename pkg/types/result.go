package types

import "time"

// QueryMetadata describes how a query was answered
type QueryMetadata struct {
	Timestamp           time.Time `json:"timestamp"`
	ExecutionTimeMs     int64     `json:"execution_time_ms"`
	TotalChunksSearched int       `json:"total_chunks_searched"`
}

// QueryContext is the ranked answer to one query. It is built per call and never persisted.
type QueryContext struct {
	Chunks         []Chunk       `json:"chunks"`
	RelevanceScore float64       `json:"relevance_score"`
	SourceFile     string        `json:"source_file,omitempty"`
	Metadata       QueryMetadata `json:"metadata"`
}

// HasResults reports whether any chunk matched
func (qc *QueryContext) HasResults() bool {
	return len(qc.Chunks) > 0
}

// ContextStats are computed on demand from the vector table and file cache
type ContextStats struct {
	TotalFiles  int   `json:"totalFiles"`
	ActiveFiles int   `json:"activeFiles"`
	TotalSize   int64 `json:"totalSize"`
}

// FileMetadata describes a successful ingest
type FileMetadata struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	LastUpdated int64  `json:"last_updated"`
	ChunkCount  int    `json:"chunk_count"`
	SymbolCount int    `json:"symbol_count"`
}
