package mcp

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/model"
)

// Tool names.
const (
	ToolGetTaskContext    = "get_task_context"
	ToolSearchContext     = "search_context"
	ToolGetStandards      = "get_standards"
	ToolHealthCheck       = "health_check"
	ToolGetPrebuiltStatus = "get_prebuilt_status"
)

const taskContextDescription = "Get synthesized context for a ticket: requirements, acceptance criteria, " +
	"related meeting decisions, chat and email threads, pull requests and applicable docs, " +
	"combined into one brief."

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolGetTaskContext,
		Description: taskContextDescription,
	}, instrument(s, ToolGetTaskContext, s.getTaskContext))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSearchContext,
		Description: "Search every configured source by keyword. Returns raw matches without synthesis.",
	}, instrument(s, ToolSearchContext, s.searchContext))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolGetStandards,
		Description: "Get coding standards from local documentation, optionally filtered by area (e.g. testing, api).",
	}, instrument(s, ToolGetStandards, s.getStandards))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolHealthCheck,
		Description: "Check connectivity of every configured source.",
	}, instrument(s, ToolHealthCheck, s.healthCheck))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolGetPrebuiltStatus,
		Description: "Report whether preprocessed context exists for a ticket, with its quality score and gaps.",
	}, instrument(s, ToolGetPrebuiltStatus, s.getPrebuiltStatus))
}

// instrument records metrics and logs failures for a tool handler.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		res, out, err := h(ctx, req, in)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		} else {
			s.logger.Debug("tool call completed", zap.String("tool", name), zap.Duration("duration", time.Since(start)))
		}
		return res, out, err
	}
}

// ===== get_task_context =====

type taskContextInput struct {
	TaskID   string `json:"task_id" jsonschema:"The ticket ID, for example PROJ-123"`
	UseCache *bool  `json:"use_cache,omitempty" jsonschema:"Serve cached or prebuilt context when available (default true)"`
}

type taskContextOutput struct {
	TaskID          string   `json:"task_id"`
	Context         string   `json:"context"`
	Sources         []string `json:"sources"`
	Cached          bool     `json:"cached"`
	Prebuilt        bool     `json:"prebuilt"`
	QualityScore    *float64 `json:"context_quality_score,omitempty"`
	Gaps            []string `json:"gaps,omitempty"`
	FetchDurationMS int64    `json:"fetch_duration_ms"`
}

func (s *Server) getTaskContext(ctx context.Context, _ *mcp.CallToolRequest, in taskContextInput) (*mcp.CallToolResult, taskContextOutput, error) {
	taskID := strings.TrimSpace(in.TaskID)
	if taskID == "" {
		return nil, taskContextOutput{}, fmt.Errorf("task_id is required")
	}
	useCache := in.UseCache == nil || *in.UseCache

	tc, err := s.svc.GetTaskContext(ctx, taskID, useCache)
	if err != nil {
		return nil, taskContextOutput{}, fmt.Errorf("getting context for %s: %w", taskID, err)
	}

	out := taskContextOutput{
		TaskID:          tc.TaskID,
		Context:         s.scrub(tc.Synthesized),
		Sources:         nonNil(tc.SourcesUsed),
		Cached:          tc.Cached,
		Prebuilt:        tc.Prebuilt,
		QualityScore:    tc.QualityScore,
		Gaps:            tc.Gaps,
		FetchDurationMS: tc.FetchDurationMS,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Context for %s\n\n", out.TaskID)
	fmt.Fprintf(&b, "**Sources:** %s\n", joinOrNone(out.Sources))
	fmt.Fprintf(&b, "**Served from:** %s\n\n---\n\n", servedFrom(tc))
	b.WriteString(out.Context)
	return textResult(b.String()), out, nil
}

func servedFrom(tc *model.TaskContext) string {
	switch {
	case tc.Prebuilt && tc.QualityScore != nil:
		return fmt.Sprintf("prebuilt (quality %d%%)", percent(*tc.QualityScore))
	case tc.Prebuilt:
		return "prebuilt"
	case tc.Cached:
		return "cache"
	default:
		return fmt.Sprintf("live fetch (%dms)", tc.FetchDurationMS)
	}
}

// ===== search_context =====

type searchInput struct {
	Query string `json:"query" jsonschema:"Keyword or phrase to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results (default 20)"`
}

type searchHit struct {
	Source    string  `json:"source"`
	Title     string  `json:"title"`
	Excerpt   string  `json:"excerpt"`
	URL       string  `json:"url,omitempty"`
	Relevance float64 `json:"relevance"`
}

type searchOutput struct {
	Query   string      `json:"query"`
	Sources []string    `json:"sources"`
	Results []searchHit `json:"results"`
	Count   int         `json:"count"`
}

func (s *Server) searchContext(ctx context.Context, _ *mcp.CallToolRequest, in searchInput) (*mcp.CallToolResult, searchOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, searchOutput{}, fmt.Errorf("query is required")
	}

	results, err := s.svc.SearchContext(ctx, query, in.Limit)
	if err != nil {
		return nil, searchOutput{}, fmt.Errorf("searching %q: %w", query, err)
	}

	out := searchOutput{
		Query:   query,
		Sources: nonNil(s.svc.SourceNames()),
		Results: make([]searchHit, 0, len(results)),
		Count:   len(results),
	}
	for _, r := range results {
		out.Results = append(out.Results, searchHit{
			Source:    r.SourceName,
			Title:     r.Title,
			Excerpt:   s.scrub(r.Excerpt),
			URL:       r.URL,
			Relevance: r.RelevanceScore,
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Search Results for %q\n\n", query)
	fmt.Fprintf(&b, "**Sources searched:** %s\n", joinOrNone(out.Sources))
	fmt.Fprintf(&b, "**Results found:** %d\n\n---\n", out.Count)
	if out.Count == 0 {
		b.WriteString("\nNo results found.\n")
	}
	for _, h := range out.Results {
		fmt.Fprintf(&b, "\n### [%s] %s\n", h.Source, h.Title)
		if h.Excerpt != "" {
			b.WriteString(h.Excerpt + "\n")
		}
		if h.URL != "" {
			b.WriteString(h.URL + "\n")
		}
	}
	return textResult(b.String()), out, nil
}

// ===== get_standards =====

type standardsInput struct {
	Area string `json:"area,omitempty" jsonschema:"Optional area to filter by, for example testing"`
}

type standardsOutput struct {
	Area    string `json:"area,omitempty"`
	Content string `json:"content"`
}

func (s *Server) getStandards(ctx context.Context, _ *mcp.CallToolRequest, in standardsInput) (*mcp.CallToolResult, standardsOutput, error) {
	area := strings.TrimSpace(in.Area)
	content, err := s.svc.GetStandards(ctx, area)
	if err != nil {
		return nil, standardsOutput{}, err
	}
	out := standardsOutput{Area: area, Content: s.scrub(content)}
	return textResult(out.Content), out, nil
}

// ===== health_check =====

type healthInput struct{}

type healthOutput struct {
	Healthy bool            `json:"healthy"`
	Sources map[string]bool `json:"sources"`
}

func (s *Server) healthCheck(ctx context.Context, _ *mcp.CallToolRequest, _ healthInput) (*mcp.CallToolResult, healthOutput, error) {
	h := s.svc.HealthCheck(ctx)
	out := healthOutput{Healthy: h.Healthy, Sources: h.Sources}
	if out.Sources == nil {
		out.Sources = map[string]bool{}
	}

	names := make([]string, 0, len(out.Sources))
	for name := range out.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	if out.Healthy {
		b.WriteString("Status: healthy\n")
	} else {
		b.WriteString("Status: degraded\n")
	}
	if len(names) == 0 {
		b.WriteString("\nNo sources configured.\n")
	}
	for _, name := range names {
		state := "ok"
		if !out.Sources[name] {
			state = "unavailable"
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, state)
	}
	return textResult(b.String()), out, nil
}

// ===== get_prebuilt_status =====

type prebuiltInput struct {
	TaskID string `json:"task_id" jsonschema:"The ticket ID, for example PROJ-123"`
}

type prebuiltOutput struct {
	TaskID       string   `json:"task_id"`
	Exists       bool     `json:"exists"`
	Fresh        bool     `json:"fresh"`
	QualityScore float64  `json:"context_quality_score,omitempty"`
	Gaps         []string `json:"gaps,omitempty"`
	SourcesUsed  []string `json:"sources_used,omitempty"`
	BuiltAt      string   `json:"built_at,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
}

func (s *Server) getPrebuiltStatus(ctx context.Context, _ *mcp.CallToolRequest, in prebuiltInput) (*mcp.CallToolResult, prebuiltOutput, error) {
	taskID := strings.TrimSpace(in.TaskID)
	if taskID == "" {
		return nil, prebuiltOutput{}, fmt.Errorf("task_id is required")
	}
	out := prebuiltOutput{TaskID: taskID}
	if s.store == nil {
		return textResult("Preprocessing is not configured. Enable `agents.preprocessor` in `.devscontext.yaml`."), out, nil
	}

	r, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, prebuiltOutput{}, fmt.Errorf("reading prebuilt context for %s: %w", taskID, err)
	}
	if r == nil {
		msg := fmt.Sprintf("No prebuilt context for %s. Run `devscontext preprocess %s` or start the watcher.", taskID, taskID)
		return textResult(msg), out, nil
	}

	out.Exists = true
	out.Fresh = !r.IsExpired(s.now())
	out.QualityScore = r.QualityScore
	out.Gaps = r.Gaps
	out.SourcesUsed = r.SourcesUsed
	out.BuiltAt = r.BuiltAt.UTC().Format(time.RFC3339)
	out.ExpiresAt = r.ExpiresAt.UTC().Format(time.RFC3339)

	state := "fresh"
	if !out.Fresh {
		state = "expired"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Prebuilt context for %s: %s\n", taskID, state)
	fmt.Fprintf(&b, "Quality: %d%%\n", percent(r.QualityScore))
	fmt.Fprintf(&b, "Built: %s\nExpires: %s\n", out.BuiltAt, out.ExpiresAt)
	fmt.Fprintf(&b, "Sources: %s\n", joinOrNone(r.SourcesUsed))
	if len(r.Gaps) > 0 {
		b.WriteString("Gaps:\n")
		for _, g := range r.Gaps {
			b.WriteString("- " + g + "\n")
		}
	}
	return textResult(b.String()), out, nil
}

func percent(score float64) int {
	return int(math.Round(score * 100))
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
