// Package indexer ingests whole directories into the context engine.
//
// # Basic Usage
//
//	idx := indexer.New(eng, logger)
//
//	stats, err := idx.IndexDirectory(ctx, "/path/to/project", &indexer.Config{
//	    Include: []string{"**/*.go", "**/*.rs"},
//	    Workers: 8,
//	})
//
//	fmt.Printf("Indexed %d files in %v\n", stats.FilesIndexed, stats.Duration)
//
// # Discovery
//
// The walk skips hidden files and directories. Include and Exclude are
// doublestar patterns matched against slash-separated paths relative to the
// root; by default everything is included and vendor, node_modules, .git and
// target trees are excluded. Files larger than MaxFileSize (1 MiB by
// default), binary files (a NUL byte in the first 8000 bytes) and files that
// are not valid UTF-8 are counted as skipped.
//
// # Concurrency
//
// Files are ingested on an errgroup limited to Workers goroutines
// (runtime.NumCPU() by default). Each file goes through AddFile, which embeds
// all of its chunks in one batch. A failing file is recorded in
// Statistics.ErrorMessages and the run continues; cancellation of ctx stops
// the run and is returned.
//
// Only one IndexDirectory call may run per Indexer. A concurrent call fails
// immediately with ErrIndexingInProgress.
//
// # Incremental Runs
//
// With SkipExisting set, paths that already have rows are not re-read.
package indexer
