//go:build !cgo

package embeddings

import (
	"context"
	"fmt"
)

// FastEmbedConfig holds configuration for the local ONNX provider.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider is unavailable without cgo; the ONNX runtime needs it.
type FastEmbedProvider struct{}

// NewFastEmbedProvider always fails in non-cgo builds so semantic matching
// falls back to keywords.
func NewFastEmbedProvider(_ FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, fmt.Errorf("%w: local embeddings need a cgo build, use the openai or ollama provider", ErrUnavailable)
}

func (p *FastEmbedProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrUnavailable
}

func (p *FastEmbedProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrUnavailable
}

func (p *FastEmbedProvider) Model() string  { return "" }
func (p *FastEmbedProvider) Dimension() int { return 0 }
func (p *FastEmbedProvider) Close() error   { return nil }
