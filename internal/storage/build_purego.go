//go:build !sqlite_vec

package storage

// This file is compiled by default. It uses a pure Go SQLite implementation
// and the in-Go IVF index, so no C compiler is required.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

func newANNIndex(_ int, logger *zap.Logger) annIndex {
	return newIVFIndex(logger)
}
