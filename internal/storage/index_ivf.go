package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	indexName = "embedding_idx"

	ivfKind               = "ivf"
	ivfMetric             = "cosine"
	ivfMaxLists           = 64
	ivfProbes             = 8
	ivfTrainingIterations = 10
	ivfMaxTrainingSamples = ivfMaxLists * 256
	ivfRetrainGrowth      = 4
)

// ivfIndex is an inverted-file index: rows are assigned to the nearest of up
// to 64 spherical k-means centroids and a query scans only the lists of its
// closest centroids, re-ranking candidates with exact cosine distance.
// Rows inserted while no index exists are left unassigned and always scanned.
type ivfIndex struct {
	logger *zap.Logger
}

func newIVFIndex(logger *zap.Logger) *ivfIndex {
	return &ivfIndex{logger: logger}
}

func (x *ivfIndex) kind() string {
	return ivfKind
}

func (x *ivfIndex) exists(ctx context.Context, q querier) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vector_indexes WHERE name = ? AND kind = ?",
		indexName, ivfKind).Scan(&n)
	return n > 0, err
}

// stale reports whether the index was trained with fewer than the maximum
// number of lists and the corpus has since grown by ivfRetrainGrowth.
func (x *ivfIndex) stale(ctx context.Context, q querier) (bool, error) {
	var partitions, trained int
	err := q.QueryRowContext(ctx,
		"SELECT partitions, trained_rows FROM vector_indexes WHERE name = ?",
		indexName).Scan(&partitions, &trained)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if partitions >= ivfMaxLists {
		return false, nil
	}

	rows, err := countRows(ctx, q)
	if err != nil {
		return false, err
	}
	return rows >= ivfRetrainGrowth*max(trained, 1), nil
}

func (x *ivfIndex) build(ctx context.Context, tx *sql.Tx) (*IndexInfo, error) {
	total, err := countRows(ctx, tx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	stride := max(1, (total+ivfMaxTrainingSamples-1)/ivfMaxTrainingSamples)
	samples := make([][]float32, 0, min(total, ivfMaxTrainingSamples))
	seen := 0
	err = forEachVectorPage(ctx, tx, func(_ []int64, vectors [][]float32) error {
		for _, v := range vectors {
			if seen%stride == 0 {
				samples = append(samples, normalize(v))
			}
			seen++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sample vectors: %w", err)
	}

	centroids := trainKMeans(samples, min(ivfMaxLists, len(samples)), ivfTrainingIterations)

	x.logger.Debug("ivf lists trained",
		zap.Int("samples", len(samples)),
		zap.Int("lists", len(centroids)),
	)

	if _, err := tx.ExecContext(ctx, "DELETE FROM ivf_assignments"); err != nil {
		return nil, fmt.Errorf("clear assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM ivf_centroids"); err != nil {
		return nil, fmt.Errorf("clear centroids: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vector_indexes WHERE name = ?", indexName); err != nil {
		return nil, fmt.Errorf("clear registry: %w", err)
	}

	for i, c := range centroids {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO ivf_centroids (list_id, centroid) VALUES (?, ?)",
			i, serializeVector(c)); err != nil {
			return nil, fmt.Errorf("store centroid %d: %w", i, err)
		}
	}

	err = forEachVectorPage(ctx, tx, func(seqs []int64, vectors [][]float32) error {
		return assignLists(ctx, tx, centroids, seqs, vectors)
	})
	if err != nil {
		return nil, fmt.Errorf("assign rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vector_indexes (name, kind, metric, partitions, trained_rows)
		VALUES (?, ?, ?, ?, ?)
	`, indexName, ivfKind, ivfMetric, len(centroids), total); err != nil {
		return nil, fmt.Errorf("register index: %w", err)
	}

	return &IndexInfo{
		Name:        indexName,
		Kind:        ivfKind,
		Metric:      ivfMetric,
		Partitions:  len(centroids),
		TrainedRows: total,
	}, nil
}

func (x *ivfIndex) onInsert(ctx context.Context, tx *sql.Tx, seqs []int64, vectors [][]float32) error {
	centroids, err := loadCentroids(ctx, tx)
	if err != nil {
		return err
	}
	if len(centroids) == 0 {
		return nil
	}
	return assignLists(ctx, tx, centroids, seqs, vectors)
}

func (x *ivfIndex) onDelete(ctx context.Context, tx *sql.Tx, path string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM ivf_assignments
		WHERE chunk_seq IN (SELECT seq FROM context_chunks WHERE file_path = ?)
	`, path)
	return err
}

func (x *ivfIndex) search(ctx context.Context, q querier, vector []float32, limit int) ([]SearchResult, error) {
	centroids, err := loadCentroids(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(centroids) == 0 {
		return flatSearch(ctx, q, vector, limit)
	}

	// Widen the probe set until limit rows are found or every list was scanned
	ranked := rankCentroids(normalize(vector), centroids)
	nprobe := min(ivfProbes, len(ranked))
	for {
		results, err := searchLists(ctx, q, vector, limit, ranked[:nprobe])
		if err != nil || len(results) >= limit || nprobe == len(ranked) {
			return results, err
		}
		nprobe = min(nprobe*2, len(ranked))
	}
}

func searchLists(ctx context.Context, q querier, vector []float32, limit int, lists []int) ([]SearchResult, error) {
	placeholders := make([]string, len(lists))
	args := make([]any, len(lists))
	for i, id := range lists {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT c.seq, c.id, c.file_path, c.content, c.embedding, c.start_line, c.end_line, c.symbol_kind
		FROM context_chunks c
		LEFT JOIN ivf_assignments a ON a.chunk_seq = c.seq
		WHERE a.list_id IN (%s) OR a.list_id IS NULL
	`, strings.Join(placeholders, ", "))

	return collectNearest(ctx, q, vector, limit, query, args...)
}

func loadCentroids(ctx context.Context, q querier) ([][]float32, error) {
	rows, err := q.QueryContext(ctx, "SELECT centroid FROM ivf_centroids ORDER BY list_id")
	if err != nil {
		return nil, fmt.Errorf("load centroids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var centroids [][]float32
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		c, err := deserializeVector(blob)
		if err != nil {
			return nil, err
		}
		centroids = append(centroids, c)
	}
	return centroids, rows.Err()
}

func assignLists(ctx context.Context, tx *sql.Tx, centroids [][]float32, seqs []int64, vectors [][]float32) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO ivf_assignments (chunk_seq, list_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i, seq := range seqs {
		list := nearestCentroid(normalize(vectors[i]), centroids)
		if _, err := stmt.ExecContext(ctx, seq, list); err != nil {
			return fmt.Errorf("assign row %d: %w", seq, err)
		}
	}
	return nil
}
