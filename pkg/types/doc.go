// Package types provides shared type definitions for the code context engine.
//
// # Core Types
//
// Chunk is a contiguous line range of a source file and the unit of
// embedding and retrieval:
//
//	chunk := types.Chunk{
//	    Content:   "fn foo() {}",
//	    StartLine: 0,
//	    EndLine:   1,
//	    FilePath:  "src/lib.rs",
//	}
//
// Line ranges are half-open: StartLine is 0-based and inclusive, EndLine is
// exclusive. The chunks of one file partition its lines (see ValidatePartition).
//
// CodeSymbol is a coarse declaration found by pattern matching, and
// FileContext bundles a file's content, symbols and imports for the file cache.
//
// # Symbol Kinds
//
// SymbolKind is a closed set persisted as its canonical name. Reading it back
// goes through ParseSymbolKind, a total function that maps unrecognized text
// to the unset kind instead of failing:
//
//	kind, ok := types.ParseSymbolKind("function") // KindFunction, true
//	kind, ok = types.ParseSymbolKind("lambda")    // "", false
//
// # Errors
//
// The error kinds (ErrNotInitialized, ErrEmbeddingFailure, ErrStoreIO, ...)
// are sentinels wrapped with fmt.Errorf("%w: ...") and tested with errors.Is.
// FileError adds the offending path to ingestion failures.
package types
