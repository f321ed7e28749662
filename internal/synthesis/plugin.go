package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/llm"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/devscontext/internal/synthesis"

var tracer = otel.Tracer(instrumentationName)

// ErrUnknownPlugin is returned by NewPlugin for unrecognized names.
var ErrUnknownPlugin = errors.New("unknown synthesis plugin")

// Plugin synthesizes the contexts of one task into Markdown. Synthesize
// never fails for data reasons; the error is reserved for cancellation.
type Plugin interface {
	Name() string
	Synthesize(ctx context.Context, taskID string, contexts map[string]model.SourceContext) (string, error)
	Close() error
}

// ProviderFactory creates a generation backend.
type ProviderFactory func() (llm.Provider, error)

// Option configures plugins created by NewPlugin.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	now         func() time.Time
	newProvider ProviderFactory
}

// WithLogger sets the plugin logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithProviderFactory overrides how the LLM plugin builds its backend.
func WithProviderFactory(f ProviderFactory) Option {
	return func(o *options) { o.newProvider = f }
}

func buildOptions(cfg config.SynthesisConfig, opts []Option) options {
	o := options{
		logger: zap.NewNop(),
		now:    time.Now,
		newProvider: func() (llm.Provider, error) {
			return llm.NewProvider(llm.ConfigFrom(cfg))
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// NewPlugin creates the plugin named by cfg.Plugin.
func NewPlugin(cfg config.SynthesisConfig, opts ...Option) (Plugin, error) {
	o := buildOptions(cfg, opts)
	switch cfg.Plugin {
	case "llm", "":
		return newLLMPlugin(cfg, o), nil
	case "template":
		return newTemplatePlugin(cfg, o), nil
	case "passthrough":
		return newPassthroughPlugin(o), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, cfg.Plugin)
	}
}
