package types

import "fmt"

// Context configuration defaults
const (
	DefaultChunkSize       = 512
	DefaultMinChunkOverlap = 32
	DefaultMaxFiles        = 100
	DefaultMaxEmbeddings   = 10000
)

// DuplicatePolicy decides what add_file does with a path that is already indexed
type DuplicatePolicy string

const (
	// DuplicateReplace deletes the prior rows of the path and inserts the new ones
	DuplicateReplace DuplicatePolicy = "replace"
	// DuplicateReject fails with ErrDuplicateFile
	DuplicateReject DuplicatePolicy = "reject"
)

// ContextConfig configures one context engine. It is immutable once the engine is built.
type ContextConfig struct {
	DBPath          string          `yaml:"db_path" json:"db_path"`
	MaxFiles        int             `yaml:"max_files" json:"max_files"`
	MaxEmbeddings   int             `yaml:"max_embeddings" json:"max_embeddings"`
	WatchFiles      bool            `yaml:"watch_files" json:"watch_files"`
	ChunkSize       int             `yaml:"chunk_size" json:"chunk_size"`
	MinChunkOverlap int             `yaml:"min_chunk_overlap" json:"min_chunk_overlap"`
	DuplicatePolicy DuplicatePolicy `yaml:"duplicate_policy" json:"duplicate_policy"`
}

// WithDefaults returns a copy with unset optional fields filled in.
// MaxFiles is required and is left alone so Validate can reject it. An unset
// MinChunkOverlap stays below ChunkSize so the default never fails Validate.
func (c ContextConfig) WithDefaults() ContextConfig {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MinChunkOverlap == 0 {
		c.MinChunkOverlap = min(DefaultMinChunkOverlap, max(c.ChunkSize-1, 0))
	}
	if c.MaxEmbeddings == 0 {
		c.MaxEmbeddings = DefaultMaxEmbeddings
	}
	if c.DuplicatePolicy == "" {
		c.DuplicatePolicy = DuplicateReplace
	}
	return c
}

// Validate reports ErrConfiguration for unusable values
func (c ContextConfig) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path is required", ErrConfiguration)
	}
	if c.MaxFiles < 1 {
		return fmt.Errorf("%w: max_files must be >= 1, got %d", ErrConfiguration, c.MaxFiles)
	}
	if c.MaxEmbeddings < 0 {
		return fmt.Errorf("%w: max_embeddings must not be negative", ErrConfiguration)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be >= 1, got %d", ErrConfiguration, c.ChunkSize)
	}
	if c.MinChunkOverlap < 0 || c.MinChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: min_chunk_overlap must be in [0, chunk_size)", ErrConfiguration)
	}
	switch c.DuplicatePolicy {
	case DuplicateReplace, DuplicateReject:
	default:
		return fmt.Errorf("%w: unknown duplicate_policy %q", ErrConfiguration, c.DuplicatePolicy)
	}
	return nil
}
