package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2"
)

// Ollama generates with a local Ollama server through langchaingo.
type Ollama struct {
	llm         *ollama.LLM
	model       string
	temperature float64
}

// NewOllama creates an Ollama provider. No API key is needed.
func NewOllama(cfg Config) (*Ollama, error) {
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	url := strings.TrimRight(cfg.BaseURL, "/")
	if url == "" {
		url = defaultOllamaURL
	}
	l, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(url))
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return &Ollama{llm: l, model: model, temperature: cfg.Temperature}, nil
}

func (o *Ollama) Name() string { return "ollama/" + o.model }

func (o *Ollama) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(o.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func (o *Ollama) Close() error { return nil }
