package embedder

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

const genaiTaskType = "RETRIEVAL_DOCUMENT"

// GenAIProvider implements Embedder using the Gemini embeddings API
type GenAIProvider struct {
	client    *genai.Client
	model     string
	dimension int
	retry     RetryConfig
	cache     *Cache
}

// NewGenAIProvider creates a new Gemini embedder
func NewGenAIProvider(ctx context.Context, apiKey string, cache *Cache, opts ...Option) (*GenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvGeminiAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvGeminiAPIKey)
	}

	o := buildOptions(DefaultGenAIModel, "", opts)

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if o.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %v", ErrProviderFailed, err)
	}

	return &GenAIProvider{
		client:    client,
		model:     o.model,
		dimension: o.dimension,
		retry:     o.retry,
		cache:     cache,
	}, nil
}

func (g *GenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := g.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	return resp.Embeddings[0], nil
}

func (g *GenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = g.model
	}

	embeddings := make([]*Embedding, len(req.Texts))
	missing := make([]int, 0, len(req.Texts))
	for i, text := range req.Texts {
		if emb, ok := g.cache.Get(model, text); ok {
			embeddings[i] = emb
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(missing))
		idxs := missing[start:end]

		contents := make([]*genai.Content, len(idxs))
		for i, idx := range idxs {
			contents[i] = genai.NewContentFromText(req.Texts[idx], genai.RoleUser)
		}

		batch, err := retryWithBackoff(ctx, g.retry, func() ([]*Embedding, error) {
			return g.embed(ctx, model, contents)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
		}

		for i, emb := range batch {
			emb.Hash = ComputeHash(req.Texts[idxs[i]])
			g.cache.Set(model, req.Texts[idxs[i]], emb)
			embeddings[idxs[i]] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderGenAI,
		Model:      model,
	}, nil
}

func (g *GenAIProvider) embed(ctx context.Context, model string, contents []*genai.Content) ([]*Embedding, error) {
	dim := int32(g.dimension)
	resp, err := g.client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{
		TaskType:             genaiTaskType,
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(contents) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(contents), len(resp.Embeddings))
	}

	embeddings := make([]*Embedding, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		embeddings[i] = &Embedding{
			Vector:    e.Values,
			Dimension: len(e.Values),
			Provider:  ProviderGenAI,
			Model:     model,
		}
	}

	if err := CheckDimensions(embeddings, g.dimension); err != nil {
		return nil, err
	}

	return embeddings, nil
}

func (g *GenAIProvider) Dimension() int {
	return g.dimension
}

func (g *GenAIProvider) Provider() string {
	return ProviderGenAI
}

func (g *GenAIProvider) Model() string {
	return g.model
}

// Close is a no-op; the genai client holds no resources that need releasing.
func (g *GenAIProvider) Close() error {
	return nil
}
