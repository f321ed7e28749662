package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"unknown", Config{Provider: "gemini"}, ErrUnsupportedProvider},
		{"anthropic without key", Config{Provider: "anthropic"}, ErrMissingAPIKey},
		{"openai without key", Config{Provider: "openai"}, ErrMissingAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewProvider_OllamaNeedsNoKey(t *testing.T) {
	p, err := NewProvider(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama/llama3.2", p.Name())
}

func TestConfigFrom_EnvKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	c := ConfigFrom(config.SynthesisConfig{Provider: "Anthropic", Model: "m"})
	assert.Equal(t, "anthropic", c.Provider)
	assert.Equal(t, "from-env", c.APIKey)
}

func fastAnthropic(t *testing.T, url string) *Anthropic {
	t.Helper()
	a, err := NewAnthropic(Config{APIKey: "k", BaseURL: url, Model: "claude-test"})
	require.NoError(t, err)
	a.backoff = time.Millisecond
	return a
}

func TestAnthropic_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req.Model)
		assert.Equal(t, 300, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "hello", req.Messages[0].Content)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hi "},{"type":"text","text":"there"}]}`))
	}))
	defer srv.Close()

	out, err := fastAnthropic(t, srv.URL).Generate(context.Background(), "hello", 300)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestAnthropic_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	out, err := fastAnthropic(t, srv.URL).Generate(context.Background(), "p", 100)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnthropic_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	_, err := fastAnthropic(t, srv.URL).Generate(context.Background(), "p", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid x-api-key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropic_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	_, err := fastAnthropic(t, srv.URL).Generate(context.Background(), "p", 100)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAI_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"brief"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI(Config{APIKey: "sk", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", p.Name())

	out, err := p.Generate(context.Background(), "p", 100)
	require.NoError(t, err)
	assert.Equal(t, "brief", out)
}

func TestWithRetries_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := withRetries(ctx, 3, time.Hour, func() (string, error) {
		return "", &retryableError{err: assert.AnError}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
