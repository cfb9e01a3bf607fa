package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/cache"
	"github.com/dshills/codecontext/internal/chunker"
	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/internal/parser"
	"github.com/dshills/codecontext/internal/storage"
	"github.com/dshills/codecontext/internal/watcher"
	"github.com/dshills/codecontext/pkg/types"
)

// DefaultContextLimit is the number of chunks GetContext returns
const DefaultContextLimit = 5

// Engine orchestrates ingestion and querying over one vector table.
// It is safe for concurrent use.
type Engine struct {
	cfg      types.ContextConfig
	chunker  *chunker.Chunker
	parser   *parser.Extractor
	embedder embedder.Embedder
	store    storage.VectorStore
	files    *cache.FileCache
	watcher  *watcher.Watcher
	logger   *zap.Logger

	// ingestMu serializes the duplicate check with the write; embedding runs outside it
	ingestMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, opens the vector table under cfg.DBPath and builds an Engine.
// The table dimension is emb.Dimension(). The engine takes ownership of emb.
func New(ctx context.Context, cfg types.ContextConfig, emb embedder.Embedder, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: embedder is required", types.ErrConfiguration)
	}

	files, err := cache.NewFileCache(cfg.MaxFiles, logger)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.DBPath, emb.Dimension(), logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		chunker:  chunker.New(cfg.ChunkSize),
		parser:   parser.New(),
		embedder: emb,
		store:    store,
		files:    files,
		logger:   logger,
	}

	if cfg.WatchFiles {
		w, err := watcher.New(e, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("%w: start file watcher: %w", types.ErrConfiguration, err)
		}
		e.watcher = w
	}

	logger.Info("context engine ready",
		zap.String("db_path", cfg.DBPath),
		zap.String("provider", emb.Provider()),
		zap.Int("dimension", emb.Dimension()),
		zap.Int("max_files", cfg.MaxFiles),
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.Bool("watch_files", cfg.WatchFiles))
	return e, nil
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() types.ContextConfig {
	return e.cfg
}

// AddFile chunks, embeds and stores content under path, then caches its
// parsed FileContext. Re-adding a path follows the configured duplicate policy.
func (e *Engine) AddFile(ctx context.Context, path, content string) (*types.FileMetadata, error) {
	return e.addFile(ctx, path, content, e.cfg.DuplicatePolicy)
}

func (e *Engine) addFile(ctx context.Context, path, content string, policy types.DuplicatePolicy) (*types.FileMetadata, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file path is required", types.ErrInvalidInput)
	}
	if !utf8.ValidString(content) {
		return nil, &types.FileError{Path: path, Err: fmt.Errorf("%w: content is not valid UTF-8", types.ErrInvalidInput)}
	}

	if policy == types.DuplicateReject {
		exists, err := e.store.HasFile(ctx, path)
		if err != nil {
			return nil, &types.FileError{Path: path, Err: err}
		}
		if exists {
			return nil, &types.FileError{Path: path, Err: types.ErrDuplicateFile}
		}
	}

	start := time.Now()
	chunks := e.chunker.Chunk(content, path)
	fc := e.parser.Extract(content, path)
	annotateChunks(chunks, fc.Symbols)

	rows, err := e.embedChunks(ctx, chunks)
	if err != nil {
		return nil, &types.FileError{Path: path, Err: err}
	}

	e.ingestMu.Lock()
	removed, err := e.writeRows(ctx, path, rows, policy)
	e.ingestMu.Unlock()
	if err != nil {
		return nil, &types.FileError{Path: path, Err: err}
	}

	e.files.Put(path, fc)
	if e.watcher != nil {
		if err := e.watcher.Watch(path, content); err != nil {
			e.logger.Warn("failed to watch file", zap.String("path", path), zap.Error(err))
		}
	}

	e.logger.Debug("file added to context",
		zap.String("path", path),
		zap.Int("chunks", len(rows)),
		zap.Int("symbols", len(fc.Symbols)),
		zap.Int("replaced_rows", removed),
		zap.Duration("duration", time.Since(start)))

	return &types.FileMetadata{
		ID:          uuid.NewString(),
		Path:        path,
		LastUpdated: time.Now().Unix(),
		ChunkCount:  len(rows),
		SymbolCount: len(fc.Symbols),
	}, nil
}

// writeRows stores rows for path under policy. Callers hold ingestMu.
func (e *Engine) writeRows(ctx context.Context, path string, rows []*storage.ChunkRow, policy types.DuplicatePolicy) (int, error) {
	if policy == types.DuplicateReject {
		exists, err := e.store.HasFile(ctx, path)
		if err != nil {
			return 0, err
		}
		if exists {
			return 0, types.ErrDuplicateFile
		}
		if len(rows) == 0 {
			// no rows would be stored, so a second add could never be rejected
			return 0, fmt.Errorf("%w: empty content cannot be added under the reject policy", types.ErrInvalidInput)
		}
		return 0, e.store.Insert(ctx, rows)
	}
	return e.store.ReplaceFile(ctx, path, rows)
}

// embedChunks requests every chunk embedding in one batch and converts the
// result into rows. Nothing is returned unless every vector is accounted for.
func (e *Engine) embedChunks(ctx context.Context, chunks []types.Chunk) ([]*storage.ChunkRow, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = embeddingText(&chunks[i])
	}

	resp, err := e.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingFailure, err)
	}

	dim := e.embedder.Dimension()
	if len(resp.Embeddings) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks",
			types.ErrIntegrityMismatch, len(resp.Embeddings), len(chunks))
	}
	flat := 0
	for _, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: missing embedding", types.ErrIntegrityMismatch)
		}
		flat += len(emb.Vector)
	}
	if flat != len(chunks)*dim {
		return nil, fmt.Errorf("%w: embedding buffer has %d values, want %d chunks x %d",
			types.ErrIntegrityMismatch, flat, len(chunks), dim)
	}

	rows := make([]*storage.ChunkRow, len(chunks))
	for i := range chunks {
		rows[i] = &storage.ChunkRow{
			ID:         uuid.NewString(),
			FilePath:   chunks[i].FilePath,
			Content:    chunks[i].Content,
			Embedding:  resp.Embeddings[i].Vector,
			StartLine:  chunks[i].StartLine,
			EndLine:    chunks[i].EndLine,
			SymbolKind: string(chunks[i].SymbolKind),
		}
	}
	return rows, nil
}

// HasFile reports whether any chunk of path is stored
func (e *Engine) HasFile(ctx context.Context, path string) (bool, error) {
	return e.store.HasFile(ctx, path)
}

// RemoveFile deletes the rows and cached context of path
func (e *Engine) RemoveFile(ctx context.Context, path string) (int, error) {
	e.ingestMu.Lock()
	removed, err := e.store.DeleteFile(ctx, path)
	e.ingestMu.Unlock()
	if err != nil {
		return 0, &types.FileError{Path: path, Err: err}
	}

	e.files.Remove(path)
	if e.watcher != nil {
		e.watcher.Unwatch(path)
	}
	e.logger.Debug("file removed from context", zap.String("path", path), zap.Int("rows", removed))
	return removed, nil
}

// CachedFile returns the parsed context of a recently added file
func (e *Engine) CachedFile(path string) (*types.FileContext, bool) {
	return e.files.Get(path)
}

// Embed returns the query embedding of text
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", types.ErrInvalidInput)
	}
	emb, err := e.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingFailure, err)
	}
	if len(emb.Vector) != e.embedder.Dimension() {
		return nil, fmt.Errorf("%w: query embedding has %d dimensions, want %d",
			types.ErrEmbeddingFailure, len(emb.Vector), e.embedder.Dimension())
	}
	return emb.Vector, nil
}

// SearchSimilar returns at most limit chunks ordered from most to least similar to query
func (e *Engine) SearchSimilar(ctx context.Context, query string, limit int) ([]types.Chunk, error) {
	chunks, _, err := e.search(ctx, query, limit)
	return chunks, err
}

func (e *Engine) search(ctx context.Context, query string, limit int) ([]types.Chunk, []float64, error) {
	if query == "" {
		return nil, nil, fmt.Errorf("%w: query is required", types.ErrInvalidInput)
	}
	if limit < 1 {
		return nil, nil, fmt.Errorf("%w: limit must be >= 1, got %d", types.ErrInvalidInput, limit)
	}

	vector, err := e.Embed(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	results, err := e.store.Search(ctx, vector, limit)
	if err != nil {
		return nil, nil, err
	}

	chunks := make([]types.Chunk, len(results))
	distances := make([]float64, len(results))
	for i, r := range results {
		chunks[i] = e.toChunk(r.Row)
		distances[i] = r.Distance
	}
	return chunks, distances, nil
}

// toChunk converts a stored row, reparsing its symbol kind
func (e *Engine) toChunk(row *storage.ChunkRow) types.Chunk {
	chunk := types.Chunk{
		Content:   row.Content,
		StartLine: row.StartLine,
		EndLine:   row.EndLine,
		FilePath:  row.FilePath,
	}
	if row.SymbolKind != "" {
		kind, ok := types.ParseSymbolKind(row.SymbolKind)
		if !ok {
			e.logger.Warn("unknown symbol kind in stored row",
				zap.String("id", row.ID),
				zap.String("symbol_kind", row.SymbolKind))
		}
		chunk.SymbolKind = kind
	}
	return chunk
}

// SearchContext answers query with at most limit chunks
func (e *Engine) SearchContext(ctx context.Context, query string, limit int) (*types.QueryContext, error) {
	start := time.Now()

	chunks, distances, err := e.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	qc := &types.QueryContext{
		Chunks:         chunks,
		RelevanceScore: relevanceScore(distances),
		Metadata: types.QueryMetadata{
			Timestamp:           start,
			ExecutionTimeMs:     time.Since(start).Milliseconds(),
			TotalChunksSearched: len(chunks),
		},
	}
	if len(chunks) > 0 {
		qc.SourceFile = chunks[0].FilePath
	}
	return qc, nil
}

// GetContext answers query with the DefaultContextLimit closest chunks
func (e *Engine) GetContext(ctx context.Context, query string) (*types.QueryContext, error) {
	return e.SearchContext(ctx, query, DefaultContextLimit)
}

// GetFileContext uses path itself as the query
func (e *Engine) GetFileContext(ctx context.Context, path string) (*types.QueryContext, error) {
	return e.SearchContext(ctx, path, DefaultContextLimit)
}

// GetStats counts stored rows, cached files and stored content bytes
func (e *Engine) GetStats(ctx context.Context) (*types.ContextStats, error) {
	rows, err := e.store.CountRows(ctx)
	if err != nil {
		return nil, err
	}

	var size int64
	for row, err := range e.store.ScanAll(ctx) {
		if err != nil {
			return nil, err
		}
		size += int64(len(row.Content))
	}

	return &types.ContextStats{
		TotalFiles:  rows,
		ActiveFiles: e.files.Len(),
		TotalSize:   size,
	}, nil
}

// IndexInfo describes the ANN index of the table, or nil before it is built
func (e *Engine) IndexInfo(ctx context.Context) (*storage.IndexInfo, error) {
	return e.store.IndexInfo(ctx)
}

// Cleanup empties the file cache. The vector table is left intact.
func (e *Engine) Cleanup() {
	e.files.Clear()
}

// Close cleans up, stops the file watcher and closes the vector table and the embedder.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.Cleanup()

		var errs []error
		if e.watcher != nil {
			if err := e.watcher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close watcher: %w", err))
			}
		}
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: close store: %w", types.ErrStoreIO, err))
		}
		if err := e.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder: %w", err))
		}
		e.closeErr = errors.Join(errs...)
		e.logger.Info("context engine closed")
	})
	return e.closeErr
}

// Reindex implements watcher.Handler; watched files always replace their rows.
func (e *Engine) Reindex(ctx context.Context, path, content string) error {
	_, err := e.addFile(ctx, path, content, types.DuplicateReplace)
	return err
}

// Forget implements watcher.Handler
func (e *Engine) Forget(ctx context.Context, path string) error {
	_, err := e.RemoveFile(ctx, path)
	return err
}

// embeddingText is the text sent for a chunk. Blank chunks are embedded by path.
func embeddingText(c *types.Chunk) string {
	if strings.TrimSpace(c.Content) == "" {
		return c.FilePath
	}
	return c.Content
}

// annotateChunks sets each chunk's kind to the earliest symbol declared in its line range
func annotateChunks(chunks []types.Chunk, symbols []types.CodeSymbol) {
	for i := range chunks {
		var first *types.CodeSymbol
		for j := range symbols {
			s := &symbols[j]
			line := s.Location.StartLine
			if line < chunks[i].StartLine || line >= chunks[i].EndLine {
				continue
			}
			if first == nil || line < first.Location.StartLine ||
				(line == first.Location.StartLine && s.Location.StartCol < first.Location.StartCol) {
				first = s
			}
		}
		if first != nil {
			chunks[i].SymbolKind = first.Kind
		}
	}
}

// relevanceScore is the cosine similarity of the top hit, clamped to [0, 1]
func relevanceScore(distances []float64) float64 {
	if len(distances) == 0 {
		return 0
	}
	score := 1 - distances[0]
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
