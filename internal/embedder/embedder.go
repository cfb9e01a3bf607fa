package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codecontext/pkg/types"
)

// Common errors. ErrInvalidInput and ErrEmptyText match types.ErrInvalidInput.
var (
	ErrInvalidInput      = types.ErrInvalidInput
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = fmt.Errorf("%w: text cannot be empty", types.ErrInvalidInput)
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // SHA-256 of the embedded text
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse represents a batch response
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder interface defines methods for generating embeddings.
// Every returned vector has exactly Dimension() components.
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts, in input order
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// DefaultCacheSize is the embedding cache capacity when none is configured
const DefaultCacheSize = types.DefaultMaxEmbeddings

// cacheKey scopes a text to the model that embedded it; the text itself is
// reduced to its SHA-256 digest.
type cacheKey struct {
	model  string
	digest [sha256.Size]byte
}

func newCacheKey(model, text string) cacheKey {
	return cacheKey{model: model, digest: sha256.Sum256([]byte(text))}
}

// CacheStats counts lookups since the cache was created
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Len    int
}

// Cache is a bounded LRU of embeddings keyed by model and text. A nil *Cache
// stores nothing.
type Cache struct {
	entries *lru.Cache[cacheKey, *Embedding]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// NewCache creates a cache holding at most capacity embeddings
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	entries, err := lru.New[cacheKey, *Embedding](capacity)
	if err != nil {
		entries, _ = lru.New[cacheKey, *Embedding](DefaultCacheSize)
	}
	return &Cache{entries: entries}
}

// Get returns a copy of the embedding of text under model
func (c *Cache) Get(model, text string) (*Embedding, bool) {
	if c == nil {
		return nil, false
	}
	emb, ok := c.entries.Get(newCacheKey(model, text))
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)

	out := *emb
	out.Vector = append([]float32(nil), emb.Vector...)
	return &out, true
}

// Set stores the embedding of text under model, evicting the least recently used entry when full
func (c *Cache) Set(model, text string, emb *Embedding) {
	if c == nil || emb == nil {
		return
	}
	c.entries.Add(newCacheKey(model, text), emb)
}

// Len returns the number of cached embeddings
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// Stats returns hit and miss counts
func (c *Cache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Len: c.entries.Len()}
}

// Purge empties the cache
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.entries.Purge()
}

// ComputeHash returns the hex SHA-256 of text
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateRequest validates an embedding request
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}

// CheckDimensions verifies that every embedding has exactly dim components
func CheckDimensions(embeddings []*Embedding, dim int) error {
	for i, emb := range embeddings {
		if emb == nil {
			return fmt.Errorf("%w: embedding %d is missing", ErrDimensionMismatch, i)
		}
		if len(emb.Vector) != dim {
			return fmt.Errorf("%w: embedding %d has %d components, want %d", ErrDimensionMismatch, i, len(emb.Vector), dim)
		}
	}
	return nil
}
