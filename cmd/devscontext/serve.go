package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/devscontext/internal/docs"
	"github.com/fyrsmithlabs/devscontext/internal/events"
	dchttp "github.com/fyrsmithlabs/devscontext/internal/http"
	"github.com/fyrsmithlabs/devscontext/internal/mcp"
	"github.com/fyrsmithlabs/devscontext/internal/watcher"
)

var (
	// serveHTTP enables the HTTP API alongside the MCP server
	serveHTTP bool
	// servePort overrides server.http.port
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveHTTP, "http", false, "also serve the HTTP API (default: server.http.enabled)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP API port (default: server.http.port)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	Long: `Run the Model Context Protocol server over stdio so AI coding
assistants can request task context.

When agents.preprocessor.enabled is set, the Jira watcher runs in the
background and preprocesses tickets as they become ready, either in-process
or through Temporal when workflows.enabled is set. With --http the REST API
and Prometheus metrics are served as well. With events.enabled the server
listens for contexts rebuilt by other processes over NATS.

Examples:
  # Start the MCP server
  devscontext serve

  # Also serve the HTTP API on port 9090
  devscontext serve --http --port 9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{pipeline: true, embedNATS: true})
	if err != nil {
		return err
	}
	defer a.Close()

	zl := a.logger.Underlying()
	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "devscontext",
		Version: version,
		Logger:  zl.Named("mcp"),
		Metrics: mcp.NewMetrics(nil, zl.Named("mcp")),
	}, a.orch, a.store, a.scrubber)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The client closing stdin ends the session and stops everything else.
		defer stop()
		return srv.Run(gctx)
	})

	httpCfg := a.cfg.Server.HTTP
	if serveHTTP || httpCfg.Enabled {
		if servePort > 0 {
			httpCfg.Port = servePort
		}
		api, err := dchttp.NewServer(a.orch, zl.Named("http"), &dchttp.Config{Host: httpCfg.Host, Port: httpCfg.Port},
			dchttp.WithPreprocessor(a.pipeline),
			dchttp.WithPrebuilt(a.store),
			dchttp.WithScrubber(a.scrubber),
			dchttp.WithMetrics(dchttp.NewHTTPMetrics(nil, zl.Named("http"))),
			dchttp.WithGatherer(prometheus.DefaultGatherer))
		if err != nil {
			return fmt.Errorf("creating HTTP server: %w", err)
		}
		g.Go(api.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(httpCfg.ShutdownTimeout.Duration()))
			defer cancel()
			return api.Shutdown(sctx)
		})
	}

	if a.cfg.Agents.Preprocessor.Enabled {
		if primary := a.registry.Primary(); primary != nil {
			proc, err := a.processor()
			if err != nil {
				return err
			}
			w := watcher.New(a.cfg.Agents.Preprocessor, primary, proc, watcher.WithLogger(a.logger))
			g.Go(func() error { return w.Run(gctx) })
		} else {
			a.logger.Warn(ctx, "preprocessor enabled but no ticket source is configured")
		}
	}

	if a.events != nil {
		// Other processes (devscontext watch, workers) rebuild contexts too.
		sub, err := a.events.Subscribe(events.KindCompleted, func(e events.Event) {
			a.orch.InvalidateCache(e.TaskID)
			a.logger.Info(ctx, "prebuilt context updated",
				zap.String("task_id", e.TaskID),
				zap.Float64("quality_score", e.QualityScore))
		})
		if err != nil {
			a.logger.Warn(ctx, "event subscription unavailable", zap.Error(err))
		} else {
			defer func() { _ = sub.Unsubscribe() }()
		}
	}

	if a.docs != nil {
		dw, err := docs.NewWatcher(a.docs.Scanner(), zl.Named("docs"))
		if err != nil {
			a.logger.Warn(ctx, "documentation watcher unavailable", zap.Error(err))
		} else {
			dw.OnChange = func(paths []string) {
				a.orch.InvalidateCache("")
				a.logger.Debug(ctx, "documentation changed, cache cleared", zap.Int("files", len(paths)))
			}
			defer dw.Stop()
			if err := dw.Start(gctx); err != nil {
				a.logger.Warn(ctx, "documentation watcher unavailable", zap.Error(err))
			}
		}
	}

	a.logger.Info(ctx, "devscontext serving",
		zap.String("version", version),
		zap.Strings("sources", a.orch.SourceNames()),
		zap.Bool("http", serveHTTP || httpCfg.Enabled),
		zap.Bool("watcher", a.cfg.Agents.Preprocessor.Enabled),
		zap.Bool("workflows", a.cfg.Workflows.Enabled))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info(context.Background(), "devscontext stopped")
	return nil
}

// shutdownTimeout falls back to ten seconds when unset.
func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
