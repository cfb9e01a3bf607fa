//go:build sqlite_vec

package storage

import (
	"context"
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"go.uber.org/zap"
)

func init() {
	sqlite_vec.Auto()
}

const (
	vecKind      = "vec0"
	vecMetric    = "cosine"
	vecTableName = "vec_context_chunks"
)

// vecIndex keeps a sqlite-vec vec0 virtual table in step with context_chunks.
// vec0 answers KNN queries natively; it needs no retraining.
type vecIndex struct {
	dim    int
	logger *zap.Logger
}

func newVecIndex(dim int, logger *zap.Logger) *vecIndex {
	return &vecIndex{dim: dim, logger: logger}
}

func (x *vecIndex) kind() string {
	return vecKind
}

func (x *vecIndex) exists(ctx context.Context, q querier) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		vecTableName).Scan(&n)
	return n > 0, err
}

func (x *vecIndex) stale(context.Context, querier) (bool, error) {
	return false, nil
}

func (x *vecIndex) build(ctx context.Context, tx *sql.Tx) (*IndexInfo, error) {
	ddl := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
			chunk_seq INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=%s
		)
	`, vecTableName, x.dim, vecMetric)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create vec0 table: %w", err)
	}

	// context_chunks stores embeddings in the vec0 float32 blob layout
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (chunk_seq, embedding)
		SELECT seq, embedding FROM context_chunks
	`, vecTableName)); err != nil {
		return nil, fmt.Errorf("populate vec0 table: %w", err)
	}

	total, err := countRows(ctx, tx)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO vector_indexes (name, kind, metric, partitions, trained_rows)
		VALUES (?, ?, ?, 0, ?)
	`, indexName, vecKind, vecMetric, total); err != nil {
		return nil, fmt.Errorf("register index: %w", err)
	}

	return &IndexInfo{
		Name:        indexName,
		Kind:        vecKind,
		Metric:      vecMetric,
		TrainedRows: total,
	}, nil
}

func (x *vecIndex) onInsert(ctx context.Context, tx *sql.Tx, seqs []int64, vectors [][]float32) error {
	ok, err := x.exists(ctx, tx)
	if err != nil || !ok {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %s (chunk_seq, embedding) VALUES (?, ?)", vecTableName))
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i, seq := range seqs {
		blob, err := sqlite_vec.SerializeFloat32(vectors[i])
		if err != nil {
			return fmt.Errorf("serialize embedding for row %d: %w", seq, err)
		}
		if _, err := stmt.ExecContext(ctx, seq, blob); err != nil {
			return fmt.Errorf("index row %d: %w", seq, err)
		}
	}
	return nil
}

func (x *vecIndex) onDelete(ctx context.Context, tx *sql.Tx, path string) error {
	ok, err := x.exists(ctx, tx)
	if err != nil || !ok {
		return err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE chunk_seq IN (SELECT seq FROM context_chunks WHERE file_path = ?)
	`, vecTableName), path)
	return err
}

func (x *vecIndex) search(ctx context.Context, q querier, vector []float32, limit int) ([]SearchResult, error) {
	ok, err := x.exists(ctx, q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return flatSearch(ctx, q, vector, limit)
	}

	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.seq, c.id, c.file_path, c.content, c.embedding, c.start_line, c.end_line, c.symbol_kind,
		       v.distance
		FROM %s v
		JOIN context_chunks c ON c.seq = v.chunk_seq
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, vecTableName), blob, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	results := make([]SearchResult, 0, limit)
	for rows.Next() {
		var (
			seq      int64
			distance float64
		)
		r, err := scanChunkRow(scanWithDistance{rows, &distance}, &seq)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Row: r, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortResults(results)
	return results, nil
}

// scanWithDistance appends the trailing distance column to a chunk row scan
type scanWithDistance struct {
	rows     *sql.Rows
	distance *float64
}

func (s scanWithDistance) Scan(dest ...any) error {
	return s.rows.Scan(append(dest, s.distance)...)
}
