// Package cache holds parsed file contexts in a bounded LRU map.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/pkg/types"
)

// FileCache maps file paths to their parsed FileContext with LRU eviction.
// It is safe for concurrent use; each operation locks only for the map update.
type FileCache struct {
	lru    *lru.Cache[string, *types.FileContext]
	max    int
	logger *zap.Logger
}

// NewFileCache creates a cache holding at most maxFiles entries
func NewFileCache(maxFiles int, logger *zap.Logger) (*FileCache, error) {
	if maxFiles < 1 {
		return nil, fmt.Errorf("%w: max_files must be >= 1, got %d", types.ErrConfiguration, maxFiles)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &FileCache{max: maxFiles, logger: logger}
	l, err := lru.NewWithEvict(maxFiles, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	c.lru = l
	return c, nil
}

func (c *FileCache) onEvict(path string, fc *types.FileContext) {
	c.logger.Debug("file context evicted",
		zap.String("path", path),
		zap.Int("size", fc.Size()),
	)
}

// Get returns the cached context for path and marks it recently used
func (c *FileCache) Get(path string) (*types.FileContext, bool) {
	return c.lru.Get(path)
}

// Peek returns the cached context for path without touching its recency
func (c *FileCache) Peek(path string) (*types.FileContext, bool) {
	return c.lru.Peek(path)
}

// Put stores fc under path, evicting the least recently used entry when full.
// It reports whether an eviction happened.
func (c *FileCache) Put(path string, fc *types.FileContext) bool {
	return c.lru.Add(path, fc)
}

// Remove drops path from the cache
func (c *FileCache) Remove(path string) bool {
	return c.lru.Remove(path)
}

// Contains reports whether path is cached without touching its recency
func (c *FileCache) Contains(path string) bool {
	return c.lru.Contains(path)
}

// Len returns the number of cached files
func (c *FileCache) Len() int {
	return c.lru.Len()
}

// Cap returns the maximum number of cached files
func (c *FileCache) Cap() int {
	return c.max
}

// Keys returns cached paths from least to most recently used
func (c *FileCache) Keys() []string {
	return c.lru.Keys()
}

// Clear empties the cache
func (c *FileCache) Clear() {
	c.lru.Purge()
}
