package storage

import (
	"container/heap"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/codecontext/pkg/types"
)

const (
	metaEmbeddingDim = "embedding_dim"
	scanPageSize     = 256
)

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// annIndex is an approximate nearest-neighbor index over context_chunks.embedding.
// Every method runs inside the caller's transaction or connection.
type annIndex interface {
	kind() string
	exists(ctx context.Context, q querier) (bool, error)
	stale(ctx context.Context, q querier) (bool, error)
	// build creates or retrains the index; it returns nil info when there is nothing to index
	build(ctx context.Context, tx *sql.Tx) (*IndexInfo, error)
	onInsert(ctx context.Context, tx *sql.Tx, seqs []int64, vectors [][]float32) error
	onDelete(ctx context.Context, tx *sql.Tx, path string) error
	search(ctx context.Context, q querier, vector []float32, limit int) ([]SearchResult, error)
}

// SQLiteStore implements VectorStore on a single SQLite database file
type SQLiteStore struct {
	db     *sql.DB
	path   string
	dim    int
	index  annIndex
	logger *zap.Logger

	indexMu    sync.Mutex
	indexGroup singleflight.Group
	dirty      atomic.Bool // rows changed since the index was last checked
}

var _ VectorStore = (*SQLiteStore)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Wait for other connections to the same file instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Open opens or creates the chunk table inside dir. An existing table must
// have been created with the same embedding dimension.
func Open(ctx context.Context, dir string, dim int, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: database path is empty", types.ErrConfiguration)
	}
	if dim < 1 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", types.ErrConfiguration, dim)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create database directory: %w", types.ErrConfiguration, err)
	}

	dbPath := filepath.Join(dir, DatabaseFile)
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", types.ErrStoreConnection, dbPath, err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: apply migrations: %w", types.ErrStoreConnection, err)
	}

	if err := checkDimension(ctx, db, dim); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:     db,
		path:   dbPath,
		dim:    dim,
		index:  newANNIndex(dim, logger),
		logger: logger,
	}
	s.dirty.Store(true)

	rows, err := s.CountRows(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", types.ErrStoreConnection, err)
	}

	logger.Info("vector table opened",
		zap.String("path", dbPath),
		zap.String("table", TableName),
		zap.Int("rows", rows),
		zap.Int("dimension", dim),
		zap.String("build_mode", BuildMode),
		zap.String("index", s.index.kind()),
	)

	return s, nil
}

// checkDimension records the embedding dimension on first open and rejects a
// table that was created with a different one.
func checkDimension(ctx context.Context, db *sql.DB, dim int) error {
	var stored string
	err := db.QueryRowContext(ctx, "SELECT value FROM table_meta WHERE key = ?", metaEmbeddingDim).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.ExecContext(ctx, "INSERT INTO table_meta (key, value) VALUES (?, ?)", metaEmbeddingDim, strconv.Itoa(dim))
		if err != nil {
			return fmt.Errorf("%w: record embedding dimension: %w", types.ErrStoreConnection, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read embedding dimension: %w", types.ErrStoreConnection, err)
	}

	if stored != strconv.Itoa(dim) {
		return fmt.Errorf("%w: table has embedding dimension %s, want %d", types.ErrStoreConnection, stored, dim)
	}
	return nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// Dimension returns the embedding dimension of the table
func (s *SQLiteStore) Dimension() int {
	return s.dim
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) validateRows(rows []*ChunkRow) error {
	for i, r := range rows {
		if r == nil || r.ID == "" || r.FilePath == "" {
			return fmt.Errorf("%w: row %d is missing its id or file path", types.ErrInvalidInput, i)
		}
		if len(r.Embedding) != s.dim {
			return fmt.Errorf("%w: row %d has %d embedding components, want %d",
				types.ErrIntegrityMismatch, i, len(r.Embedding), s.dim)
		}
	}
	return nil
}

// Insert appends rows in a single transaction
func (s *SQLiteStore) Insert(ctx context.Context, rows []*ChunkRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.validateRows(rows); err != nil {
		return err
	}

	return s.withTx(ctx, "insert rows", func(tx *sql.Tx) error {
		return s.insertRowsTx(ctx, tx, rows)
	})
}

// ReplaceFile deletes the rows stored for path and inserts rows in a single transaction
func (s *SQLiteStore) ReplaceFile(ctx context.Context, path string, rows []*ChunkRow) (int, error) {
	if err := s.validateRows(rows); err != nil {
		return 0, err
	}

	var removed int
	err := s.withTx(ctx, "replace file", func(tx *sql.Tx) error {
		n, err := s.deleteFileTx(ctx, tx, path)
		if err != nil {
			return err
		}
		removed = n
		return s.insertRowsTx(ctx, tx, rows)
	})
	return removed, err
}

// DeleteFile removes every row stored for path
func (s *SQLiteStore) DeleteFile(ctx context.Context, path string) (int, error) {
	var removed int
	err := s.withTx(ctx, "delete file", func(tx *sql.Tx) error {
		n, err := s.deleteFileTx(ctx, tx, path)
		removed = n
		return err
	})
	return removed, err
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: begin: %w", types.ErrStoreIO, op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		if errors.Is(err, types.ErrStoreIO) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", types.ErrStoreIO, op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %s: commit: %w", types.ErrStoreIO, op, err)
	}
	s.dirty.Store(true)
	return nil
}

func (s *SQLiteStore) insertRowsTx(ctx context.Context, tx *sql.Tx, rows []*ChunkRow) error {
	if len(rows) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO context_chunks (id, file_path, content, embedding, start_line, end_line, symbol_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	seqs := make([]int64, len(rows))
	vectors := make([][]float32, len(rows))
	for i, r := range rows {
		kind := sql.NullString{String: r.SymbolKind, Valid: r.SymbolKind != ""}
		res, err := stmt.ExecContext(ctx, r.ID, r.FilePath, r.Content, serializeVector(r.Embedding),
			r.StartLine, r.EndLine, kind)
		if err != nil {
			return fmt.Errorf("insert row %s: %w", r.ID, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		seqs[i] = seq
		vectors[i] = r.Embedding
	}

	return s.index.onInsert(ctx, tx, seqs, vectors)
}

func (s *SQLiteStore) deleteFileTx(ctx context.Context, tx *sql.Tx, path string) (int, error) {
	if err := s.index.onDelete(ctx, tx, path); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM context_chunks WHERE file_path = ?", path)
	if err != nil {
		return 0, fmt.Errorf("delete rows for %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// HasFile reports whether any row is stored for path
func (s *SQLiteStore) HasFile(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM context_chunks WHERE file_path = ? LIMIT 1", path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: has file: %w", types.ErrStoreIO, err)
	}
	return true, nil
}

// CountRows returns the number of stored rows
func (s *SQLiteStore) CountRows(ctx context.Context) (int, error) {
	n, err := countRows(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("%w: count rows: %w", types.ErrStoreIO, err)
	}
	return n, nil
}

func countRows(ctx context.Context, q querier) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM context_chunks").Scan(&n)
	return n, err
}

// EnsureIndex builds the ANN index when none exists, or retrains it when the
// corpus has outgrown it. Concurrent callers share one build.
func (s *SQLiteStore) EnsureIndex(ctx context.Context) error {
	_, err, _ := s.indexGroup.Do("ensure_index", func() (any, error) {
		s.indexMu.Lock()
		defer s.indexMu.Unlock()
		return nil, s.ensureIndexLocked(ctx)
	})
	return err
}

func (s *SQLiteStore) ensureIndexLocked(ctx context.Context) error {
	// Cleared before the check so that rows inserted during a build mark it dirty again
	s.dirty.Store(false)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("%w: ensure index: begin: %w", types.ErrStoreIO, err)
	}
	defer func() { _ = tx.Rollback() }()

	fail := func(err error) error {
		s.dirty.Store(true)
		return fmt.Errorf("%w: ensure index: %w", types.ErrStoreIO, err)
	}

	exists, err := s.index.exists(ctx, tx)
	if err != nil {
		return fail(err)
	}
	if exists {
		stale, err := s.index.stale(ctx, tx)
		if err != nil {
			return fail(err)
		}
		if !stale {
			return nil
		}
	}

	start := time.Now()
	info, err := s.index.build(ctx, tx)
	if err != nil {
		return fail(err)
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}

	if info != nil {
		s.logger.Info("vector index built",
			zap.String("kind", info.Kind),
			zap.String("metric", info.Metric),
			zap.Int("partitions", info.Partitions),
			zap.Int("rows", info.TrainedRows),
			zap.Bool("retrained", exists),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return nil
}

// IndexInfo describes the current ANN index, or nil if none is built
func (s *SQLiteStore) IndexInfo(ctx context.Context) (*IndexInfo, error) {
	var (
		info    IndexInfo
		builtAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, kind, metric, partitions, trained_rows, built_at
		FROM vector_indexes WHERE kind = ?
	`, s.index.kind()).Scan(&info.Name, &info.Kind, &info.Metric, &info.Partitions, &info.TrainedRows, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: index info: %w", types.ErrStoreIO, err)
	}
	info.BuiltAt = parseTimestamp(builtAt.String)
	return &info, nil
}

// parseTimestamp accepts SQLite's CURRENT_TIMESTAMP text and RFC 3339, which
// drivers use when they convert TIMESTAMP columns themselves.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.DateTime, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Search returns at most limit rows ordered by increasing cosine distance.
// The index is brought up to date first whenever rows changed since the last check.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be at least 1, got %d", types.ErrInvalidInput, limit)
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query vector has %d components, want %d",
			types.ErrIntegrityMismatch, len(vector), s.dim)
	}

	if s.dirty.Load() {
		if err := s.EnsureIndex(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	results, err := s.index.search(ctx, s.db, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", types.ErrStoreIO, err)
	}

	s.logger.Debug("vector search",
		zap.Int("limit", limit),
		zap.Int("results", len(results)),
		zap.Duration("latency", time.Since(start)),
	)
	return results, nil
}

// ScanAll lazily yields every stored row in insertion order. Rows are read in
// pages, so the caller may use the store while iterating.
func (s *SQLiteStore) ScanAll(ctx context.Context) iter.Seq2[*ChunkRow, error] {
	return func(yield func(*ChunkRow, error) bool) {
		var after int64
		for {
			page, last, err := s.scanPage(ctx, after)
			if err != nil {
				yield(nil, fmt.Errorf("%w: scan: %w", types.ErrStoreIO, err))
				return
			}
			for _, r := range page {
				if !yield(r, nil) {
					return
				}
			}
			if len(page) < scanPageSize {
				return
			}
			after = last
		}
	}
}

func (s *SQLiteStore) scanPage(ctx context.Context, after int64) ([]*ChunkRow, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, file_path, content, embedding, start_line, end_line, symbol_kind
		FROM context_chunks WHERE seq > ? ORDER BY seq LIMIT ?
	`, after, scanPageSize)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	page := make([]*ChunkRow, 0, scanPageSize)
	last := after
	for rows.Next() {
		var seq int64
		r, err := scanChunkRow(rows, &seq)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, r)
		last = seq
	}
	return page, last, rows.Err()
}

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanChunkRow scans seq, id, file_path, content, embedding, start_line,
// end_line and symbol_kind, in that order.
func scanChunkRow(rs rowScanner, seq *int64) (*ChunkRow, error) {
	var (
		r    ChunkRow
		blob []byte
		kind sql.NullString
	)
	if err := rs.Scan(seq, &r.ID, &r.FilePath, &r.Content, &blob, &r.StartLine, &r.EndLine, &kind); err != nil {
		return nil, err
	}
	vec, err := deserializeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("row %s: %w", r.ID, err)
	}
	r.Embedding = vec
	r.SymbolKind = kind.String
	return &r, nil
}

// forEachVectorPage pages through (seq, embedding) pairs. Each page's rows
// are closed before fn runs, so fn may write through q.
func forEachVectorPage(ctx context.Context, q querier, fn func(seqs []int64, vectors [][]float32) error) error {
	var after int64
	for {
		rows, err := q.QueryContext(ctx,
			"SELECT seq, embedding FROM context_chunks WHERE seq > ? ORDER BY seq LIMIT ?",
			after, scanPageSize)
		if err != nil {
			return err
		}

		seqs := make([]int64, 0, scanPageSize)
		vectors := make([][]float32, 0, scanPageSize)
		for rows.Next() {
			var (
				seq  int64
				blob []byte
			)
			if err := rows.Scan(&seq, &blob); err != nil {
				_ = rows.Close()
				return err
			}
			vec, err := deserializeVector(blob)
			if err != nil {
				_ = rows.Close()
				return err
			}
			seqs = append(seqs, seq)
			vectors = append(vectors, vec)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return err
		}

		if len(seqs) > 0 {
			if err := fn(seqs, vectors); err != nil {
				return err
			}
		}
		if len(seqs) < scanPageSize {
			return nil
		}
		after = seqs[len(seqs)-1]
	}
}

// collectNearest streams candidate rows from query and keeps the limit
// closest to vector. The query must select the columns scanChunkRow expects.
func collectNearest(ctx context.Context, q querier, vector []float32, limit int, query string, args ...any) ([]SearchResult, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	top := &resultHeap{}
	for rows.Next() {
		var seq int64
		r, err := scanChunkRow(rows, &seq)
		if err != nil {
			return nil, err
		}
		d := cosineDistance(vector, r.Embedding)
		if top.Len() < limit {
			heap.Push(top, SearchResult{Row: r, Distance: d})
		} else if d < (*top)[0].Distance {
			(*top)[0] = SearchResult{Row: r, Distance: d}
			heap.Fix(top, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := []SearchResult(*top)
	sortResults(results)
	return results, nil
}

// flatSearch computes exact cosine distance against every row
func flatSearch(ctx context.Context, q querier, vector []float32, limit int) ([]SearchResult, error) {
	return collectNearest(ctx, q, vector, limit, `
		SELECT seq, id, file_path, content, embedding, start_line, end_line, symbol_kind
		FROM context_chunks
	`)
}

// resultHeap is a max-heap on distance holding the current best candidates
type resultHeap []SearchResult

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(SearchResult)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
