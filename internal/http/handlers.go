package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/preprocess"
)

// handleHealth reports 200 when every source is reachable and 503
// otherwise.
func (s *Server) handleHealth(c echo.Context) error {
	h := s.svc.HealthCheck(c.Request().Context())
	resp := HealthResponse{Status: "ok", Sources: h.Sources}
	if resp.Sources == nil {
		resp.Sources = map[string]bool{}
	}
	code := http.StatusOK
	if !h.Healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// handleContext serves GET /api/v1/context/:task_id[?use_cache=false].
func (s *Server) handleContext(c echo.Context) error {
	taskID := strings.TrimSpace(c.Param("task_id"))
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id is required")
	}
	useCache := true
	if v := c.QueryParam("use_cache"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "use_cache must be a boolean")
		}
		useCache = b
	}

	tc, err := s.svc.GetTaskContext(c.Request().Context(), taskID, useCache)
	if err != nil {
		s.logger.Error("context request failed", zap.String("task_id", taskID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build context")
	}
	out := *tc
	out.Synthesized = s.scrub(out.Synthesized)
	return c.JSON(http.StatusOK, out)
}

// handlePreprocess runs the pipeline synchronously for one task.
func (s *Server) handlePreprocess(c echo.Context) error {
	if s.pipeline == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "preprocessing is not configured")
	}
	taskID := strings.TrimSpace(c.Param("task_id"))
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id is required")
	}

	res, err := s.pipeline.Process(c.Request().Context(), taskID)
	switch {
	case errors.Is(err, preprocess.ErrTicketNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, preprocess.ErrNoTicketSource):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error("preprocess request failed", zap.String("task_id", taskID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "preprocessing failed")
	}
	return c.JSON(http.StatusOK, res)
}

// handleSearch serves GET /api/v1/search?q=...&limit=N.
func (s *Server) handleSearch(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	results, err := s.svc.SearchContext(c.Request().Context(), query, limit)
	if err != nil {
		s.logger.Error("search request failed", zap.String("query", query), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	out := make([]model.SearchResult, len(results))
	for i, r := range results {
		r.Excerpt = s.scrub(r.Excerpt)
		out[i] = r
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: query, Count: len(out), Results: out})
}

// handleStandards serves GET /api/v1/standards[?area=...].
func (s *Server) handleStandards(c echo.Context) error {
	area := strings.TrimSpace(c.QueryParam("area"))
	content, err := s.svc.GetStandards(c.Request().Context(), area)
	if err != nil {
		s.logger.Error("standards request failed", zap.String("area", area), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load standards")
	}
	return c.JSON(http.StatusOK, StandardsResponse{Area: area, Content: s.scrub(content)})
}

// handlePrebuilt lists stored results with store statistics.
func (s *Server) handlePrebuilt(c echo.Context) error {
	if s.prebuilt == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "preprocessing is not configured")
	}
	ctx := c.Request().Context()
	stats, err := s.prebuilt.Stats(ctx)
	if err != nil {
		s.logger.Error("prebuilt stats failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read prebuilt store")
	}
	items, err := s.prebuilt.ListAll(ctx)
	if err != nil {
		s.logger.Error("prebuilt list failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read prebuilt store")
	}
	return c.JSON(http.StatusOK, PrebuiltResponse{Stats: stats, Items: items})
}

func (s *Server) scrub(text string) string {
	out, sum := s.scrubber.Scrub(text)
	if sum.HasRedactions() {
		s.logger.Warn("secrets redacted from response", zap.Int("count", sum.TotalSecrets))
	}
	return out
}
