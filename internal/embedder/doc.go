// Package embedder turns text into fixed-length float vectors.
//
// Every provider is asked for the same dimension (1024 by default) and every
// returned vector is checked against it, so callers can store vectors
// without further validation.
//
// # Basic Usage
//
//	emb, err := embedder.NewFromEnv(ctx)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{"fn main() {}", "struct Config"},
//	})
//
// Embeddings come back in input order.
//
// # Provider Selection
//
//  1. If CODECONTEXT_EMBEDDING_PROVIDER is set, use it (jina, openai, genai, local)
//  2. Else if JINA_API_KEY is set, use Jina AI
//  3. Else if OPENAI_API_KEY is set, use OpenAI
//  4. Else if GEMINI_API_KEY is set, use Gemini
//  5. Else fall back to the local feature-hashing provider (offline)
//
// Jina and OpenAI share the OpenAI-compatible /v1/embeddings wire format and
// are served by HTTPProvider. WithBaseURL points it at any compatible server.
//
// # Caching
//
// Providers consult a content-hash LRU cache before calling out. Only cache
// misses are sent, split into sub-batches of at most MaxBatchSize texts.
//
// # Error Handling
//
// Transient failures are retried with exponential backoff. Exhausted retries
// surface as ErrProviderFailed; a wrong-length vector surfaces as
// ErrDimensionMismatch.
package embedder
