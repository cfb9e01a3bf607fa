package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/dshills/codecontext/pkg/types"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderGenAI  = "genai"
	ProviderLocal  = "local"

	// Environment variables holding API keys
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultGenAIModel  = "gemini-embedding-001"
	DefaultLocalModel  = "local-feature-hash"

	// Default endpoints
	DefaultJinaURL   = "https://api.jina.ai/v1/embeddings"
	DefaultOpenAIURL = "https://api.openai.com/v1/embeddings"

	// DefaultDimension is the vector length every provider is asked for
	DefaultDimension = types.EmbeddingDimension

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// Option customizes a provider
type Option func(*providerOptions)

type providerOptions struct {
	model      string
	baseURL    string
	dimension  int
	httpClient *http.Client
	retry      RetryConfig
}

// WithModel overrides the provider's default model
func WithModel(model string) Option {
	return func(o *providerOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL overrides the embeddings endpoint
func WithBaseURL(url string) Option {
	return func(o *providerOptions) {
		if url != "" {
			o.baseURL = url
		}
	}
}

// WithDimension sets the requested vector length
func WithDimension(dim int) Option {
	return func(o *providerOptions) {
		if dim > 0 {
			o.dimension = dim
		}
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *providerOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithRetry replaces the retry policy
func WithRetry(cfg RetryConfig) Option {
	return func(o *providerOptions) {
		if cfg.MaxRetries > 0 {
			o.retry = cfg
		}
	}
}

func buildOptions(model, url string, opts []Option) providerOptions {
	o := providerOptions{
		model:     model,
		baseURL:   url,
		dimension: DefaultDimension,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// HTTPProvider implements Embedder against an OpenAI-compatible
// /v1/embeddings endpoint. Jina AI and OpenAI share this wire format.
type HTTPProvider struct {
	name       string
	apiKey     string
	model      string
	baseURL    string
	dimension  int
	httpClient *http.Client
	retry      RetryConfig
	cache      *Cache
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache, opts ...Option) (*HTTPProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvJinaAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	return newHTTPProvider(ProviderJina, apiKey, cache, buildOptions(DefaultJinaModel, DefaultJinaURL, opts)), nil
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache, opts ...Option) (*HTTPProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	return newHTTPProvider(ProviderOpenAI, apiKey, cache, buildOptions(DefaultOpenAIModel, DefaultOpenAIURL, opts)), nil
}

func newHTTPProvider(name, apiKey string, cache *Cache, o providerOptions) *HTTPProvider {
	return &HTTPProvider{
		name:       name,
		apiKey:     apiKey,
		model:      o.model,
		baseURL:    o.baseURL,
		dimension:  o.dimension,
		httpClient: o.httpClient,
		retry:      o.retry,
		cache:      cache,
	}
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

// GenerateBatch embeds texts in input order. Cached texts are served from the
// cache and the rest are sent in sub-batches of at most MaxBatchSize.
func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	embeddings := make([]*Embedding, len(req.Texts))
	missing := make([]int, 0, len(req.Texts))
	for i, text := range req.Texts {
		if emb, ok := p.cache.Get(model, text); ok {
			embeddings[i] = emb
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		idxs := missing[start:end]
		texts := make([]string, len(idxs))
		for i, idx := range idxs {
			texts[i] = req.Texts[idx]
		}

		batch, err := retryWithBackoff(ctx, p.retry, func() ([]*Embedding, error) {
			return p.callAPI(ctx, texts, model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
		}

		for i, emb := range batch {
			emb.Hash = ComputeHash(texts[i])
			p.cache.Set(model, texts[i], emb)
			embeddings[idxs[i]] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      model,
	}, nil
}

type embeddingsRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	body, err := json.Marshal(embeddingsRequest{
		Input:      texts,
		Model:      model,
		Dimensions: p.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	// Providers may reorder; the index field is authoritative
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	responseModel := apiResp.Model
	if responseModel == "" {
		responseModel = model
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     responseModel,
		}
	}

	if err := CheckDimensions(embeddings, p.dimension); err != nil {
		return nil, err
	}

	return embeddings, nil
}

func (p *HTTPProvider) Dimension() int {
	return p.dimension
}

func (p *HTTPProvider) Provider() string {
	return p.name
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider produces offline embeddings by feature hashing: every
// identifier-like token is hashed with xxhash into a signed bucket and the
// result is normalized to unit length. Texts sharing vocabulary land close
// together under cosine distance, which is enough for local use and tests.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cache *Cache, opts ...Option) (*LocalProvider, error) {
	o := buildOptions(DefaultLocalModel, "", opts)
	return &LocalProvider{
		model:     o.model,
		dimension: o.dimension,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	if emb, ok := l.cache.Get(l.model, req.Text); ok {
		return emb, nil
	}

	emb := &Embedding{
		Vector:    featureHash(req.Text, l.dimension),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      ComputeHash(req.Text),
	}
	l.cache.Set(l.model, req.Text, emb)

	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// featureHash maps text to a unit vector of length dim
func featureHash(text string, dim int) []float32 {
	vector := make([]float32, dim)
	for _, token := range tokenize(text) {
		h := xxhash.Sum64String(token)
		bucket := int(h % uint64(dim))
		if h>>63 == 1 {
			vector[bucket] -= 1
		} else {
			vector[bucket] += 1
		}
	}
	return NormalizeVector(vector)
}

// tokenize splits text into lowercase identifier and number tokens
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
