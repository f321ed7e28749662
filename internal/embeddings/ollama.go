package embeddings

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// OllamaProvider embeds through a local Ollama server using chromem-go's
// embedding function. Vectors come back normalized.
type OllamaProvider struct {
	embed     chromem.EmbeddingFunc
	model     string
	dimension int
}

// NewOllamaProvider defaults to nomic-embed-text on localhost:11434.
func NewOllamaProvider(cfg ProviderConfig) (*OllamaProvider, error) {
	model := cfg.Model
	if model == "" || model == "all-MiniLM-L6-v2" {
		model = "nomic-embed-text"
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}
	dim, _ := KnownDimension(model)
	return &OllamaProvider{
		embed:     chromem.NewEmbeddingFuncOllama(model, base),
		model:     model,
		dimension: dim,
	}, nil
}

func (p *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%w: ollama: %v", ErrEmbeddingFailed, err)
		}
		out[i] = v
	}
	if p.dimension == 0 && len(out) > 0 {
		p.dimension = len(out[0])
	}
	return out, nil
}

func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	out, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *OllamaProvider) Model() string  { return p.model }
func (p *OllamaProvider) Dimension() int { return p.dimension }
func (p *OllamaProvider) Close() error   { return nil }
