package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codecontext/pkg/types"
)

// DefaultMaxFileSize is the largest file ingested by default (1 MiB)
const DefaultMaxFileSize = 1 << 20

// binarySniffLen is how many leading bytes are checked for NUL
const binarySniffLen = 8000

// ErrIndexingInProgress is returned when a directory index is already running
var ErrIndexingInProgress = errors.New("indexing already in progress")

// DefaultInclude matches every file
var DefaultInclude = []string{"**/*"}

// DefaultExclude skips dependency and build directories
var DefaultExclude = []string{
	"**/vendor/**",
	"**/node_modules/**",
	"**/.git/**",
	"**/target/**",
}

// Ingester is the part of the context engine the indexer drives
type Ingester interface {
	AddFile(ctx context.Context, path, content string) (*types.FileMetadata, error)
	HasFile(ctx context.Context, path string) (bool, error)
}

// Indexer walks directories and feeds their files to an Ingester
type Indexer struct {
	ingester Ingester
	lock     IndexLock
	logger   *zap.Logger
}

// Config contains configuration for one directory index
type Config struct {
	Workers      int      // Number of concurrent workers (default: runtime.NumCPU())
	Include      []string // doublestar patterns relative to the root (default: DefaultInclude)
	Exclude      []string // doublestar patterns relative to the root (default: DefaultExclude)
	MaxFileSize  int64    // Larger files are skipped (default: DefaultMaxFileSize)
	SkipExisting bool     // Skip paths that already have rows
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if len(out.Include) == 0 {
		out.Include = DefaultInclude
	}
	if out.Exclude == nil {
		out.Exclude = DefaultExclude
	}
	if out.MaxFileSize <= 0 {
		out.MaxFileSize = DefaultMaxFileSize
	}
	return out
}

// validate rejects malformed glob patterns up front
func (c Config) validate() error {
	for _, p := range append(append([]string{}, c.Include...), c.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: invalid glob pattern %q", types.ErrInvalidInput, p)
		}
	}
	return nil
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	FilesIndexed     int           `json:"files_indexed"`
	FilesSkipped     int           `json:"files_skipped"`
	FilesFailed      int           `json:"files_failed"`
	SymbolsExtracted int           `json:"symbols_extracted"`
	ChunksCreated    int           `json:"chunks_created"`
	Duration         time.Duration `json:"duration"`
	ErrorMessages    []string      `json:"error_messages,omitempty"`
}

// New creates a new Indexer instance
func New(ingester Ingester, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{ingester: ingester, logger: logger}
}

// IndexDirectory ingests every eligible file under root. Per-file failures are
// counted in the statistics; only walk errors and cancellation are returned.
func (idx *Indexer) IndexDirectory(ctx context.Context, root string, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", types.ErrInvalidInput, root)
	}

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	files, skipped, err := discoverFiles(root, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	stats.FilesSkipped = skipped

	if err := idx.indexFiles(ctx, files, cfg, stats); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(startTime)
	idx.logger.Info("directory indexed",
		zap.String("root", root),
		zap.Int("indexed", stats.FilesIndexed),
		zap.Int("skipped", stats.FilesSkipped),
		zap.Int("failed", stats.FilesFailed),
		zap.Int("chunks", stats.ChunksCreated),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// discoverFiles lists candidate files and counts those excluded by size
func discoverFiles(root string, cfg Config) ([]string, int, error) {
	var files []string
	skipped := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			// Skip hidden directories
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if matchAny(cfg.Exclude, rel) || matchAny(cfg.Exclude, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if matchAny(cfg.Exclude, rel) || !matchAny(cfg.Include, rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > cfg.MaxFileSize {
			skipped++
			return nil
		}

		files = append(files, path)
		return nil
	})

	return files, skipped, err
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// indexFiles ingests files concurrently on at most cfg.Workers goroutines
func (idx *Indexer) indexFiles(ctx context.Context, files []string, cfg Config, stats *Statistics) error {
	// Track progress with atomic counters
	var (
		indexed int32
		skipped int32
		failed  int32
		symbols int32
		chunks  int32
	)
	var mu sync.Mutex // Protect stats.ErrorMessages

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			meta, skip, err := idx.indexFile(gctx, path, cfg)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				atomic.AddInt32(&failed, 1)
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
				mu.Unlock()
				idx.logger.Warn("failed to index file", zap.String("path", path), zap.Error(err))
			case skip:
				atomic.AddInt32(&skipped, 1)
			default:
				atomic.AddInt32(&indexed, 1)
				atomic.AddInt32(&symbols, int32(meta.SymbolCount))
				atomic.AddInt32(&chunks, int32(meta.ChunkCount))
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return err
	}

	stats.FilesIndexed = int(indexed)
	stats.FilesSkipped += int(skipped)
	stats.FilesFailed = int(failed)
	stats.SymbolsExtracted = int(symbols)
	stats.ChunksCreated = int(chunks)
	return nil
}

// indexFile reads and ingests one file. Binary and non-UTF-8 files are skipped.
func (idx *Indexer) indexFile(ctx context.Context, path string, cfg Config) (*types.FileMetadata, bool, error) {
	if cfg.SkipExisting {
		exists, err := idx.ingester.HasFile(ctx, path)
		if err != nil {
			return nil, false, err
		}
		if exists {
			return nil, true, nil
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if isBinary(content) || !utf8.Valid(content) {
		idx.logger.Debug("skipping non-text file", zap.String("path", path))
		return nil, true, nil
	}

	meta, err := idx.ingester.AddFile(ctx, path, string(content))
	if err != nil {
		return nil, false, err
	}
	return meta, false, nil
}

// isBinary reports whether the leading bytes contain a NUL
func isBinary(content []byte) bool {
	return bytes.IndexByte(content[:min(len(content), binarySniffLen)], 0) >= 0
}
