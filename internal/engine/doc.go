// Package engine is the context engine: it ingests source files and answers
// similarity queries over their chunks.
//
// # Ingestion
//
// AddFile validates the content (UTF-8), splits it into fixed-size line
// chunks, extracts symbols and imports, and embeds every chunk in a single
// batch call. The embedding count and the flattened buffer length
// (chunks x dimension) are checked before anything is written; a mismatch
// fails with types.ErrIntegrityMismatch and inserts nothing. Rows are then
// written in one transaction and the parsed FileContext is cached in a
// bounded LRU.
//
// Re-adding a path follows ContextConfig.DuplicatePolicy: "replace" swaps the
// old rows for the new ones atomically, "reject" fails with
// types.ErrDuplicateFile.
//
// # Queries
//
//	eng, err := engine.New(ctx, cfg, emb, logger)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	if _, err := eng.AddFile(ctx, "a.rs", "fn foo(){}"); err != nil {
//	    return err
//	}
//	qc, err := eng.GetContext(ctx, "where is foo defined")
//
// SearchSimilar returns chunks ordered by increasing cosine distance.
// GetContext wraps the top five in a QueryContext whose relevance score is
// the similarity of the best hit.
//
// # Watching
//
// With ContextConfig.WatchFiles set, every ingested path that exists on disk
// is watched and re-ingested when its content changes.
package engine
