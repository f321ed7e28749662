package main

import (
	"context"
	"errors"
	"fmt"

	natsserver "github.com/nats-io/nats-server/v2/server"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/cache"
	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/docs"
	"github.com/fyrsmithlabs/devscontext/internal/events"
	"github.com/fyrsmithlabs/devscontext/internal/logging"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/orchestrator"
	"github.com/fyrsmithlabs/devscontext/internal/preprocess"
	"github.com/fyrsmithlabs/devscontext/internal/secrets"
	"github.com/fyrsmithlabs/devscontext/internal/sources"
	"github.com/fyrsmithlabs/devscontext/internal/storage"
	"github.com/fyrsmithlabs/devscontext/internal/synthesis"
	"github.com/fyrsmithlabs/devscontext/internal/telemetry"
	"github.com/fyrsmithlabs/devscontext/internal/watcher"
	"github.com/fyrsmithlabs/devscontext/internal/workflows"
)

// app holds every dependency a command may need. Fields a command did not
// ask for stay nil.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	scrubber  secrets.Scrubber
	docs      *docs.Engine
	registry  *sources.Registry
	plugin    synthesis.Plugin
	store     *storage.Store
	orch      *orchestrator.Orchestrator
	pipeline  *preprocess.Pipeline
	nats      *natsserver.Server
	events    *events.Bus
	temporal  client.Client
}

// appOptions selects the optional parts of the dependency graph.
type appOptions struct {
	// store opens the prebuilt context database.
	store bool
	// pipeline creates the preprocessing pipeline; implies store.
	pipeline bool
	// embedNATS starts the in-process NATS server when events.embedded is set.
	embedNATS bool
}

// loadConfig reads the configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to stderr unless configured
// otherwise because stdout carries the MCP protocol.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	var provider otellog.LoggerProvider
	if lc.Output.OTEL {
		provider = global.GetLoggerProvider()
	}
	return logging.NewLogger(lc, provider)
}

// newApp wires configuration, logging, telemetry, sources, synthesis and
// the orchestrator. Callers must Close the returned app.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, opts appOptions) error {
	cfg := a.cfg
	zl := a.logger.Underlying()

	tel, err := telemetry.New(ctx, cfg.Telemetry, version, zl.Named("telemetry"))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	a.telemetry = tel

	a.scrubber, err = secrets.New(cfg.Secrets, zl.Named("secrets"))
	if err != nil {
		return fmt.Errorf("initializing secret scrubbing: %w", err)
	}

	deps := sources.Deps{Logger: zl}
	if cfg.Sources.Docs.Enabled {
		a.docs = docs.NewEngine(cfg.Sources.Docs, zl.Named("docs"))
		deps.Docs = a.docs
	}
	a.registry = sources.NewRegistry(deps)
	if err := a.registry.Load(cfg); err != nil {
		return fmt.Errorf("loading sources: %w", err)
	}

	a.plugin, err = synthesis.NewPlugin(cfg.Synthesis, synthesis.WithLogger(zl.Named("synthesis")))
	if err != nil {
		return fmt.Errorf("creating synthesis plugin: %w", err)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(a.logger),
		orchestrator.WithScrubber(a.scrubber),
	}
	if cfg.Cache.Enabled {
		orchOpts = append(orchOpts, orchestrator.WithCache(cache.New[model.TaskContext](cfg.Cache.TTL(), cfg.Cache.MaxSize)))
	}

	if opts.store || opts.pipeline {
		a.store, err = storage.Open(cfg.Storage.Path, zl)
		if err != nil {
			return fmt.Errorf("opening prebuilt store: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithStore(a.store))
	}
	if cfg.Events.Enabled {
		if err := a.connectEvents(ctx, opts.embedNATS); err != nil {
			return err
		}
	}
	if opts.pipeline {
		ppOpts := []preprocess.Option{
			preprocess.WithLogger(a.logger),
			preprocess.WithScrubber(a.scrubber),
			preprocess.WithTTL(cfg.Agents.Preprocessor.ContextTTL()),
		}
		if a.events != nil {
			ppOpts = append(ppOpts, preprocess.WithEvents(a.events))
		}
		a.pipeline = preprocess.New(a.registry, a.plugin, a.store, ppOpts...)
	}

	a.orch = orchestrator.New(a.registry, a.plugin, orchOpts...)

	a.logger.Debug(ctx, "devscontext initialized",
		zap.Strings("sources", a.orch.SourceNames()),
		zap.String("synthesis", a.plugin.Name()),
		zap.Bool("prebuilt_store", a.store != nil),
		zap.Bool("events", a.events != nil),
		zap.Bool("telemetry", tel.IsEnabled()))
	return nil
}

// connectEvents starts the embedded NATS server when asked to and
// connects the event bus.
func (a *app) connectEvents(ctx context.Context, embed bool) error {
	ec := a.cfg.Events
	if embed && ec.Embedded {
		ns, err := events.StartEmbedded(ec.EmbeddedPort)
		if err != nil {
			return fmt.Errorf("starting embedded NATS server: %w", err)
		}
		a.nats = ns
		ec.URL = ns.ClientURL()
		a.logger.Info(ctx, "embedded NATS server started", zap.String("url", ec.URL))
	}
	bus, err := events.Connect(ec, a.logger)
	if err != nil {
		return err
	}
	a.events = bus
	return nil
}

// processor returns what the watcher hands tickets to: a Temporal
// dispatcher when workflows are enabled, otherwise the local pipeline.
func (a *app) processor() (watcher.Processor, error) {
	if !a.cfg.Workflows.Enabled {
		return a.pipeline, nil
	}
	c, err := a.temporalClient()
	if err != nil {
		return nil, err
	}
	return workflows.NewDispatcher(c, a.cfg.Workflows.TaskQueue), nil
}

// temporalClient dials Temporal once and reuses the client.
func (a *app) temporalClient() (client.Client, error) {
	if a.temporal != nil {
		return a.temporal, nil
	}
	c, err := workflows.Dial(a.cfg.Workflows, a.logger.Underlying())
	if err != nil {
		return nil, err
	}
	a.temporal = c
	return c, nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing event bus: %w", err))
		}
	}
	if a.nats != nil {
		a.nats.Shutdown()
	}
	if a.orch != nil {
		if err := a.orch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing synthesis: %w", err))
		}
	} else if a.plugin != nil {
		if err := a.plugin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing synthesis: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	if a.registry != nil {
		if err := a.registry.CloseAll(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.docs != nil {
		if err := a.docs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing docs engine: %w", err))
		}
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetry.DefaultShutdownTimeout)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
