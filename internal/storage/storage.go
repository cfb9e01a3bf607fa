package storage

import (
	"context"
	"iter"
	"time"
)

// TableName is the name of the chunk table inside the database
const TableName = "context_chunks"

// DatabaseFile is the file created inside the configured directory
const DatabaseFile = "context.db"

// VectorStore persists chunk rows and answers nearest-neighbor queries
type VectorStore interface {
	// Insert appends rows in one transaction; either all become visible or none do
	Insert(ctx context.Context, rows []*ChunkRow) error
	// ReplaceFile deletes every row for path and inserts rows in one transaction
	ReplaceFile(ctx context.Context, path string, rows []*ChunkRow) (removed int, err error)
	// DeleteFile removes every row stored for path
	DeleteFile(ctx context.Context, path string) (int, error)
	// HasFile reports whether any row is stored for path
	HasFile(ctx context.Context, path string) (bool, error)

	// EnsureIndex builds the ANN index if it is missing or stale
	EnsureIndex(ctx context.Context) error
	// Search returns at most limit rows ordered by increasing cosine distance
	Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)

	// CountRows returns the number of stored rows
	CountRows(ctx context.Context) (int, error)
	// ScanAll lazily yields every stored row
	ScanAll(ctx context.Context) iter.Seq2[*ChunkRow, error]
	// IndexInfo describes the current ANN index, or nil if none is built
	IndexInfo(ctx context.Context) (*IndexInfo, error)

	Close() error
}

// ChunkRow is a persisted chunk with its embedding
type ChunkRow struct {
	ID         string
	FilePath   string
	Content    string
	Embedding  []float32
	StartLine  int
	EndLine    int
	SymbolKind string // empty when unset
}

// SearchResult is a row with its cosine distance to the query (0 = identical)
type SearchResult struct {
	Row      *ChunkRow
	Distance float64
}

// IndexInfo describes a built ANN index
type IndexInfo struct {
	Name        string
	Kind        string
	Metric      string
	Partitions  int
	TrainedRows int
	BuiltAt     time.Time
}
