// Package mcp exposes task context to AI coding assistants over the Model
// Context Protocol. The server speaks stdio and every text it returns is
// passed through the secret scrubber.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/orchestrator"
	"github.com/fyrsmithlabs/devscontext/internal/secrets"
)

// ContextService answers tool calls. *orchestrator.Orchestrator satisfies it.
type ContextService interface {
	GetTaskContext(ctx context.Context, taskID string, useCache bool) (*model.TaskContext, error)
	SearchContext(ctx context.Context, query string, limit int) ([]model.SearchResult, error)
	GetStandards(ctx context.Context, area string) (string, error)
	HealthCheck(ctx context.Context) orchestrator.Health
	SourceNames() []string
}

// PrebuiltStore reads preprocessed results.
type PrebuiltStore interface {
	Get(ctx context.Context, taskID string) (*model.SynthesizedResult, error)
}

// Config configures the MCP server.
type Config struct {
	Name    string
	Version string
	Logger  *zap.Logger
	Metrics *Metrics
}

// DefaultConfig returns the server defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "devscontext",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// Server is the MCP tool server.
type Server struct {
	mcp      *mcp.Server
	svc      ContextService
	store    PrebuiltStore
	scrubber secrets.Scrubber
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewServer registers the tools over svc. store may be nil, in which case
// get_prebuilt_status reports that preprocessing is not configured.
func NewServer(cfg *Config, svc ContextService, store PrebuiltStore, scrubber secrets.Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if svc == nil {
		return nil, fmt.Errorf("context service is required")
	}
	if scrubber == nil {
		scrubber = secrets.Noop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil, logger)
	}

	s := &Server{
		mcp:      mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		svc:      svc,
		store:    store,
		scrubber: scrubber,
		metrics:  metrics,
		logger:   logger.Named("mcp"),
		now:      time.Now,
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on transport.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}

func (s *Server) scrub(text string) string {
	out, sum := s.scrubber.Scrub(text)
	if sum.HasRedactions() {
		s.logger.Warn("secrets redacted from tool output", zap.Int("count", sum.TotalSecrets))
	}
	return out
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
