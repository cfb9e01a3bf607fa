package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the context engine. Callers test them with errors.Is.
var (
	// ErrNotInitialized is returned when the engine is used before init
	ErrNotInitialized = errors.New("context manager not initialized")
	// ErrConfiguration reports an invalid configuration value or missing directory
	ErrConfiguration = errors.New("configuration error")
	// ErrEmbeddingFailure reports a failed embedding call or a wrong-sized vector
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrStoreConnection reports that the vector table could not be opened or created
	ErrStoreConnection = errors.New("vector store connection failed")
	// ErrStoreIO reports a failed insert, search or scan
	ErrStoreIO = errors.New("vector store I/O failed")
	// ErrDuplicateFile is returned when the reject policy sees an already indexed path
	ErrDuplicateFile = errors.New("file is already in context")
	// ErrIntegrityMismatch reports embedding counts that do not match the chunk rows
	ErrIntegrityMismatch = errors.New("embedding integrity mismatch")
	// ErrInvalidInput reports malformed caller input (bad UTF-8, empty query, bad limit)
	ErrInvalidInput = errors.New("invalid input")
)

// FileError annotates an ingestion failure with the file it concerns
type FileError struct {
	Path string
	Err  error
}

// Error implements the error interface
func (e *FileError) Error() string {
	return fmt.Sprintf("file %s: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying error kind
func (e *FileError) Unwrap() error {
	return e.Err
}
