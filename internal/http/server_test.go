package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/orchestrator"
	"github.com/fyrsmithlabs/devscontext/internal/preprocess"
	"github.com/fyrsmithlabs/devscontext/internal/secrets"
	"github.com/fyrsmithlabs/devscontext/internal/storage"
)

type fakeService struct {
	taskContext *model.TaskContext
	results     []model.SearchResult
	standards   string
	health      orchestrator.Health
	err         error

	gotUseCache bool
	gotLimit    int
	gotArea     string
}

func (f *fakeService) GetTaskContext(_ context.Context, _ string, useCache bool) (*model.TaskContext, error) {
	f.gotUseCache = useCache
	return f.taskContext, f.err
}

func (f *fakeService) SearchContext(_ context.Context, _ string, limit int) ([]model.SearchResult, error) {
	f.gotLimit = limit
	return f.results, f.err
}

func (f *fakeService) GetStandards(_ context.Context, area string) (string, error) {
	f.gotArea = area
	return f.standards, f.err
}

func (f *fakeService) HealthCheck(context.Context) orchestrator.Health { return f.health }

type fakePipeline struct {
	result *model.SynthesizedResult
	err    error
}

func (f *fakePipeline) Process(context.Context, string) (*model.SynthesizedResult, error) {
	return f.result, f.err
}

type fakeLister struct {
	items []storage.Summary
	stats storage.Stats
	err   error
}

func (f *fakeLister) ListAll(context.Context) ([]storage.Summary, error) { return f.items, f.err }
func (f *fakeLister) Stats(context.Context) (storage.Stats, error)       { return f.stats, f.err }

type markerScrubber struct{}

func (markerScrubber) Enabled() bool { return true }
func (markerScrubber) Scrub(text string) (string, secrets.Summary) {
	n := strings.Count(text, "hunter2")
	return strings.ReplaceAll(text, "hunter2", secrets.Marker("test")), secrets.Summary{TotalSecrets: n}
}

func setupTestServer(t *testing.T, svc ContextService, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithScrubber(markerScrubber{}), WithGatherer(prometheus.NewRegistry())}, opts...)
	s, err := NewServer(svc, zap.NewNop(), nil, opts...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "context service is required")

	_, err = NewServer(&fakeService{}, nil, nil)
	assert.ErrorContains(t, err, "logger is required")

	s, err := NewServer(&fakeService{}, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, &Config{Host: "127.0.0.1", Port: 8080}, s.config)
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     orchestrator.Health
		wantCode   int
		wantStatus string
	}{
		{"healthy", orchestrator.Health{Healthy: true, Sources: map[string]bool{"jira": true}}, http.StatusOK, "ok"},
		{"no sources", orchestrator.Health{Healthy: true}, http.StatusOK, "ok"},
		{"degraded", orchestrator.Health{Sources: map[string]bool{"jira": false}}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t, &fakeService{health: tt.health})
			rec := do(t, s, http.MethodGet, "/health")
			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decode[HealthResponse](t, rec)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.NotNil(t, resp.Sources)
		})
	}
}

func TestHandleContext(t *testing.T) {
	svc := &fakeService{taskContext: &model.TaskContext{
		TaskID:      "PROJ-1",
		Synthesized: "deploy key hunter2",
		SourcesUsed: []string{"jira"},
	}}
	s := setupTestServer(t, svc)

	rec := do(t, s, http.MethodGet, "/api/v1/context/PROJ-1")
	require.Equal(t, http.StatusOK, rec.Code)
	tc := decode[model.TaskContext](t, rec)
	assert.Equal(t, "PROJ-1", tc.TaskID)
	assert.Equal(t, "deploy key [REDACTED:test]", tc.Synthesized)
	assert.True(t, svc.gotUseCache)
	assert.Equal(t, "deploy key hunter2", svc.taskContext.Synthesized, "service value is not mutated")

	rec = do(t, s, http.MethodGet, "/api/v1/context/PROJ-1?use_cache=false")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, svc.gotUseCache)

	rec = do(t, s, http.MethodGet, "/api/v1/context/PROJ-1?use_cache=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "use_cache must be a boolean", decode[ErrorResponse](t, rec).Error)
}

func TestHandleContext_Error(t *testing.T) {
	s := setupTestServer(t, &fakeService{err: errors.New("synthesizing: boom")})
	rec := do(t, s, http.MethodGet, "/api/v1/context/PROJ-1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to build context", decode[ErrorResponse](t, rec).Error)
}

func TestHandlePreprocess(t *testing.T) {
	stored := &model.SynthesizedResult{TaskID: "PROJ-1", QualityScore: 0.75, Gaps: []string{"No linked issues"}}
	tests := []struct {
		name     string
		opts     []Option
		wantCode int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"ok", []Option{WithPreprocessor(&fakePipeline{result: stored})}, http.StatusOK},
		{"ticket not found", []Option{WithPreprocessor(&fakePipeline{err: fmt.Errorf("%w: PROJ-1", preprocess.ErrTicketNotFound)})}, http.StatusNotFound},
		{"no ticket source", []Option{WithPreprocessor(&fakePipeline{err: preprocess.ErrNoTicketSource})}, http.StatusServiceUnavailable},
		{"failure", []Option{WithPreprocessor(&fakePipeline{err: errors.New("storing PROJ-1: disk full")})}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t, &fakeService{}, tt.opts...)
			rec := do(t, s, http.MethodPost, "/api/v1/preprocess/PROJ-1")
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				res := decode[model.SynthesizedResult](t, rec)
				assert.Equal(t, 0.75, res.QualityScore)
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	svc := &fakeService{results: []model.SearchResult{
		{SourceName: "slack", Title: "#payments", Excerpt: "the password is hunter2", RelevanceScore: 0.8},
	}}
	s := setupTestServer(t, svc)

	rec := do(t, s, http.MethodGet, "/api/v1/search?q=payments&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SearchResponse](t, rec)
	assert.Equal(t, "payments", resp.Query)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "the password is [REDACTED:test]", resp.Results[0].Excerpt)
	assert.Equal(t, 5, svc.gotLimit)
	assert.Equal(t, "the password is hunter2", svc.results[0].Excerpt)

	for _, target := range []string{"/api/v1/search", "/api/v1/search?q=%20", "/api/v1/search?q=x&limit=0", "/api/v1/search?q=x&limit=ten"} {
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, target).Code, target)
	}
}

func TestHandleStandards(t *testing.T) {
	svc := &fakeService{standards: "## Coding Standards for testing"}
	s := setupTestServer(t, svc)

	rec := do(t, s, http.MethodGet, "/api/v1/standards?area=testing")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StandardsResponse](t, rec)
	assert.Equal(t, StandardsResponse{Area: "testing", Content: svc.standards}, resp)
	assert.Equal(t, "testing", svc.gotArea)
}

func TestHandlePrebuilt(t *testing.T) {
	built := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	lister := &fakeLister{
		items: []storage.Summary{{TaskID: "PROJ-1", QualityScore: 0.5, BuiltAt: built, ExpiresAt: built.Add(24 * time.Hour), GapsCount: 2}},
		stats: storage.Stats{Total: 1, Active: 1, AvgQuality: 0.5, Path: ".devscontext/cache.db"},
	}

	s := setupTestServer(t, &fakeService{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/v1/prebuilt").Code)

	s = setupTestServer(t, &fakeService{}, WithPrebuilt(lister))
	rec := do(t, s, http.MethodGet, "/api/v1/prebuilt")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[PrebuiltResponse](t, rec)
	assert.Equal(t, lister.stats, resp.Stats)
	assert.Equal(t, lister.items, resp.Items)

	s = setupTestServer(t, &fakeService{}, WithPrebuilt(&fakeLister{err: errors.New("database is locked")}))
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/api/v1/prebuilt").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "devscontext_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := setupTestServer(t, &fakeService{}, WithGatherer(reg))
	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "devscontext_test_total 1")
}

func TestUnknownRoute(t *testing.T) {
	s := setupTestServer(t, &fakeService{})
	rec := do(t, s, http.MethodGet, "/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
}
