package http

import (
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/storage"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string          `json:"status"`
	Sources map[string]bool `json:"sources"`
}

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	Query   string               `json:"query"`
	Count   int                  `json:"count"`
	Results []model.SearchResult `json:"results"`
}

// StandardsResponse is the response body for GET /api/v1/standards.
type StandardsResponse struct {
	Area    string `json:"area,omitempty"`
	Content string `json:"content"`
}

// PrebuiltResponse is the response body for GET /api/v1/prebuilt.
type PrebuiltResponse struct {
	Stats storage.Stats     `json:"stats"`
	Items []storage.Summary `json:"items"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
