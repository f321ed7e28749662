// Package embeddings turns documentation sections and ticket queries into
// vectors for semantic matching. Three backends are supported: a local
// ONNX model via fastembed, the OpenAI embeddings API, and an Ollama server.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embedding configuration")

	// ErrEmbeddingFailed indicates the backend could not produce vectors.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrUnavailable indicates the backend cannot run in this build or
	// environment (no cgo, missing credentials).
	ErrUnavailable = errors.New("embedding provider unavailable")
)

// Provider generates embedding vectors.
type Provider interface {
	// EmbedDocuments embeds passages for indexing.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Model returns the model name recorded in the index.
	Model() string
	// Dimension returns the vector length, or 0 when unknown until first use.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is "local", "openai" or "ollama".
	Provider string
	Model    string
	// APIKey is required for openai.
	APIKey string
	// BaseURL overrides the API endpoint (openai, ollama).
	BaseURL string
	// CacheDir is the model cache directory for local models.
	CacheDir string
}

// NewProvider creates an embedding provider for cfg. Callers treat any
// error as "semantic matching unavailable" and fall back to keywords.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "local", "":
		p, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	case "openai":
		p, err = NewOpenAIProvider(cfg)
	case "ollama":
		p, err = NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &instrumented{Provider: p, metrics: NewMetrics(logger)}, nil
}

// instrumented records duration, batch size and errors for every call.
type instrumented struct {
	Provider
	metrics *Metrics
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	out, err := i.Provider.EmbedDocuments(ctx, texts)
	i.metrics.RecordGeneration(ctx, i.Model(), "batch_embed", time.Since(start), len(texts), err)
	return out, err
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	out, err := i.Provider.EmbedQuery(ctx, text)
	i.metrics.RecordGeneration(ctx, i.Model(), "embed", time.Since(start), 1, err)
	return out, err
}

// EmbedInBatches embeds texts in chunks of size, preserving order.
func EmbedInBatches(ctx context.Context, p Provider, texts []string, size int, progress func(done, total int)) ([][]float32, error) {
	if size <= 0 {
		size = 32
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(batch), end-start)
		}
		out = append(out, batch...)
		if progress != nil {
			progress(end, len(texts))
		}
	}
	return out, nil
}

// modelDimensions lists known local model sizes by every accepted name.
var modelDimensions = map[string]int{
	"all-MiniLM-L6-v2":                       384,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-all-MiniLM-L6-v2":                  384,
	"BAAI/bge-small-en-v1.5":                 384,
	"fast-bge-small-en-v1.5":                 384,
	"BAAI/bge-base-en-v1.5":                  768,
	"fast-bge-base-en-v1.5":                  768,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
	"nomic-embed-text":                       768,
	"mxbai-embed-large":                      1024,
}

// KnownDimension returns the vector size for well-known models.
func KnownDimension(model string) (int, bool) {
	d, ok := modelDimensions[model]
	return d, ok
}
