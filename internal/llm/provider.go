// Package llm provides text generation backends used by synthesis.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
)

var (
	// ErrMissingAPIKey is returned when a hosted provider has no key.
	ErrMissingAPIKey = errors.New("llm api key required")

	// ErrUnsupportedProvider is returned for unknown provider names.
	ErrUnsupportedProvider = errors.New("unsupported llm provider")

	// ErrEmptyResponse is returned when the backend produced no text.
	ErrEmptyResponse = errors.New("empty response from llm")
)

const (
	defaultTimeout     = 120 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second

	// 50 requests per minute, bursts of 5.
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Provider generates text from a prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	// Name identifies the backend and model, e.g. "anthropic/claude-haiku-4-5".
	Name() string
	Close() error
}

// Config holds provider settings.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	Timeout     time.Duration
}

// ConfigFrom maps synthesis settings to a provider config. Hosted
// providers fall back to ANTHROPIC_API_KEY or OPENAI_API_KEY.
func ConfigFrom(sc config.SynthesisConfig) Config {
	c := Config{
		Provider:    strings.ToLower(sc.Provider),
		Model:       sc.Model,
		APIKey:      sc.APIKey.Value(),
		BaseURL:     sc.BaseURL,
		Temperature: sc.Temperature,
	}
	if c.APIKey == "" {
		switch c.Provider {
		case "anthropic":
			c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	return c
}

// NewProvider creates the configured backend.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return NewAnthropic(cfg)
	case "openai":
		return NewOpenAI(cfg)
	case "ollama":
		return NewOllama(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// retryableError marks transient failures.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// withRetries runs fn until it succeeds, fails permanently, or attempts
// run out, backing off exponentially between attempts.
func withRetries(ctx context.Context, maxRetries int, backoff time.Duration, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
