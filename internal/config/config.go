package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/internal/indexer"
	"github.com/dshills/codecontext/internal/logging"
	"github.com/dshills/codecontext/pkg/types"
)

// Environment overrides
const (
	EnvDBPath   = "CODECONTEXT_DB_PATH"
	EnvLogLevel = "CODECONTEXT_LOG_LEVEL"
	EnvConfig   = "CODECONTEXT_CONFIG"
)

// DefaultDBDir is the database directory under the user's home
const DefaultDBDir = ".codecontext"

// Config is the complete configuration of the codecontext binary
type Config struct {
	Context  types.ContextConfig `yaml:"context"`
	Embedder embedder.Config     `yaml:"embedder"`
	Index    IndexConfig         `yaml:"index"`
	Log      logging.Config      `yaml:"log"`
}

// IndexConfig holds directory ingestion defaults
type IndexConfig struct {
	Workers     int      `yaml:"workers"`
	Include     []string `yaml:"include"`
	Exclude     []string `yaml:"exclude"`
	MaxFileSize int64    `yaml:"max_file_size"`
}

// IndexerConfig converts to the indexer's per-run configuration
func (c IndexConfig) IndexerConfig() *indexer.Config {
	return &indexer.Config{
		Workers:     c.Workers,
		Include:     c.Include,
		Exclude:     c.Exclude,
		MaxFileSize: c.MaxFileSize,
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Context: types.ContextConfig{
			DBPath:          defaultDBPath(),
			MaxFiles:        types.DefaultMaxFiles,
			MaxEmbeddings:   types.DefaultMaxEmbeddings,
			WatchFiles:      false,
			ChunkSize:       types.DefaultChunkSize,
			DuplicatePolicy: types.DuplicateReplace,
		},
		Index: IndexConfig{
			MaxFileSize: indexer.DefaultMaxFileSize,
		},
		Log: logging.Config{
			Level: "info",
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDBDir
	}
	return filepath.Join(home, DefaultDBDir)
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path falls back to $CODECONTEXT_CONFIG; a missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("%w: failed to read config: %w", types.ErrConfiguration, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: failed to parse config: %w", types.ErrConfiguration, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Provider API keys
// are read by the providers themselves when the file leaves them empty.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv(EnvDBPath); path != "" {
		c.Context.DBPath = path
	}
	if provider := os.Getenv(embedder.EnvProvider); provider != "" {
		c.Embedder.Provider = strings.ToLower(provider)
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Context.WithDefaults().Validate(); err != nil {
		return err
	}
	if c.Index.Workers < 0 {
		return fmt.Errorf("%w: index.workers must not be negative", types.ErrConfiguration)
	}
	if c.Index.MaxFileSize < 0 {
		return fmt.Errorf("%w: index.max_file_size must not be negative", types.ErrConfiguration)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", types.ErrConfiguration, err)
	}
	return nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
