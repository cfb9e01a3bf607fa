// Package storage persists chunk rows and their embeddings in SQLite and
// answers nearest-neighbor queries by cosine distance.
//
// # Layout
//
// The store lives in one directory holding context.db. Tables:
//   - context_chunks: id, file_path, content, embedding, start_line, end_line, symbol_kind
//   - table_meta: the embedding dimension the table was created with
//   - vector_indexes: registry of the ANN index built over context_chunks.embedding
//   - ivf_centroids, ivf_assignments: inverted lists of the pure-Go index
//
// Embeddings are little-endian float32 blobs, the same layout sqlite-vec uses.
// Opening a table created with a different dimension fails.
//
// # Basic Usage
//
//	store, err := storage.Open(ctx, "/var/lib/codecontext", 1024, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Insert(ctx, rows)
//	results, err := store.Search(ctx, queryVector, 5)
//
// # Indexes
//
// The default pure-Go build (modernc.org/sqlite) uses an IVF index: up to 64
// spherical k-means lists, 8 probed lists per query (widened when they hold
// fewer than limit rows), exact cosine re-rank.
// Building with -tags sqlite_vec (mattn/go-sqlite3, cgo) uses a sqlite-vec
// vec0 virtual table with distance_metric=cosine instead.
//
// Search calls EnsureIndex whenever rows changed since the last check.
// EnsureIndex is serialized and runs its check-and-build in one transaction,
// so concurrent callers never build twice.
//
// # Concurrency
//
// The database handle uses a single connection. ScanAll reads in pages and
// closes each page before yielding, so callers may use the store mid-scan.
package storage
