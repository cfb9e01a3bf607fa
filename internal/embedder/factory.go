package embedder

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider selects the embedding provider explicitly
const EnvProvider = "CODECONTEXT_EMBEDDING_PROVIDER"

// Config holds embedder configuration
type Config struct {
	Provider  string `yaml:"provider" json:"provider"`
	APIKey    string `yaml:"api_key" json:"-"`
	Model     string `yaml:"model" json:"model"`
	BaseURL   string `yaml:"base_url" json:"baseUrl"`
	Dimension int    `yaml:"dimension" json:"dimension"`
	CacheSize int    `yaml:"cache_size" json:"cacheSize"`
}

func (c Config) options() []Option {
	return []Option{
		WithModel(c.Model),
		WithBaseURL(c.BaseURL),
		WithDimension(c.Dimension),
	}
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. CODECONTEXT_EMBEDDING_PROVIDER (jina, openai, genai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv(ctx context.Context) (Embedder, error) {
	return New(ctx, Config{Provider: DetectProvider()})
}

// New creates an embedder with explicit configuration. An empty provider
// is resolved with DetectProvider.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cache, cfg.options()...)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cache, cfg.options()...)
	case ProviderGenAI, "gemini":
		return NewGenAIProvider(ctx, cfg.APIKey, cache, cfg.options()...)
	case ProviderLocal:
		return NewLocalProvider(cache, cfg.options()...)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvGeminiAPIKey) != "" {
		return ProviderGenAI
	}

	return ProviderLocal
}
