// Package llm provides LLM and embedding services using langchaingo.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/repokb-go/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns query and document text into vectors sized for the index.
// Every returned vector is validated against the configured dimension, so a
// misconfigured model fails loudly instead of corrupting the index.
type Embedder struct {
	model     embeddings.Embedder
	dimension int
	modelName string
}

// NewEmbedder creates an embedder for the configured provider.
func NewEmbedder(cfg config.Config) (*Embedder, error) {
	var (
		model embeddings.Embedder
		err   error
	)
	switch cfg.EmbeddingProvider {
	case config.ProviderOllama:
		model, err = newOllamaEmbedder(cfg)
	case config.ProviderOpenAI:
		model, err = newOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbeddingProvider)
	}
	if err != nil {
		return nil, err
	}

	return &Embedder{
		model:     model,
		dimension: cfg.EmbeddingDimension,
		modelName: cfg.EmbeddingModel,
	}, nil
}

func newOllamaEmbedder(cfg config.Config) (embeddings.Embedder, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.EmbeddingModel),
		ollama.WithServerURL(cfg.OllamaHost),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

func newOpenAIEmbedder(cfg config.Config) (embeddings.Embedder, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	llm, err := openai.New(
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

// Embed generates an embedding vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, []string{text})
	if err != nil {
		slog.Warn("embedding failed",
			"model", e.modelName,
			"text_len", len(text),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return nil, wrapFatalError(fmt.Errorf("embed: %w", err))
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	embedding := vectors[0]
	if len(embedding) != e.dimension {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(embedding), e.dimension)
	}
	return embedding, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.modelName
}

// Dimension returns the expected embedding dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}
