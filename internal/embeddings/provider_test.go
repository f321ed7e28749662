package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr error
	}{
		{"unknown provider", ProviderConfig{Provider: "word2vec"}, ErrInvalidConfig},
		{"openai without key", ProviderConfig{Provider: "openai"}, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg, nil)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOpenAIProvider(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model

		data := make([]map[string]any, len(req.Input))
		// Reverse order to check results are placed by index.
		for i := range req.Input {
			idx := len(req.Input) - 1 - i
			data[i] = map[string]any{"object": "embedding", "index": idx, "embedding": []float32{float32(idx), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
	defer srv.Close()

	p, err := NewProvider(ProviderConfig{Provider: "openai", APIKey: "sk-test", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "text-embedding-3-small", p.Model())
	assert.Equal(t, 1536, p.Dimension())

	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vecs)
	assert.Equal(t, "text-embedding-3-small", gotModel)

	q, err := p.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, q)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestOpenAIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = p.EmbedDocuments(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{3, 4}})
	}))
	defer srv.Close()

	p, err := NewProvider(ProviderConfig{Provider: "ollama", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 0.6, vecs[0][0], 1e-6)
	assert.InDelta(t, 0.8, vecs[0][1], 1e-6)
}

type fakeProvider struct {
	calls [][]string
}

func (f *fakeProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}
func (f *fakeProvider) EmbedQuery(context.Context, string) ([]float32, error) { return nil, nil }
func (f *fakeProvider) Model() string                                         { return "fake" }
func (f *fakeProvider) Dimension() int                                        { return 1 }
func (f *fakeProvider) Close() error                                          { return nil }

func TestEmbedInBatches(t *testing.T) {
	f := &fakeProvider{}
	var progress []int
	out, err := EmbedInBatches(context.Background(), f, []string{"a", "bb", "ccc", "dddd", "eeeee"}, 2,
		func(done, total int) { progress = append(progress, done) })
	require.NoError(t, err)
	assert.Len(t, f.calls, 3)
	assert.Equal(t, [][]float32{{1}, {2}, {3}, {4}, {5}}, out)
	assert.Equal(t, []int{2, 4, 5}, progress)
}

func TestKnownDimension(t *testing.T) {
	d, ok := KnownDimension("all-MiniLM-L6-v2")
	assert.True(t, ok)
	assert.Equal(t, 384, d)
	_, ok = KnownDimension("mystery")
	assert.False(t, ok)
}
