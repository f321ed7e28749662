package synthesis

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/llm"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LLMPlugin renders a prompt from the raw source blocks and asks a
// generation backend for the brief.
type LLMPlugin struct {
	cfg         config.SynthesisConfig
	logger      *zap.Logger
	now         func() time.Time
	newProvider ProviderFactory

	mu       sync.Mutex
	provider llm.Provider
	prompt   string
}

func newLLMPlugin(cfg config.SynthesisConfig, o options) *LLMPlugin {
	return &LLMPlugin{
		cfg:         cfg,
		logger:      o.logger,
		now:         o.now,
		newProvider: o.newProvider,
	}
}

func (p *LLMPlugin) Name() string { return "llm" }

// Provider returns the generation backend, creating it on first use.
func (p *LLMPlugin) Provider() (llm.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.provider != nil {
		return p.provider, nil
	}
	prov, err := p.newProvider()
	if err != nil {
		return nil, err
	}
	p.provider = prov
	return prov, nil
}

// MaxOutputTokens is the generation budget for the final brief.
func (p *LLMPlugin) MaxOutputTokens() int { return p.cfg.MaxOutputTokens }

// promptTemplate returns the custom prompt when configured and readable,
// else DefaultPrompt. A custom prompt is read once.
func (p *LLMPlugin) promptTemplate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prompt != "" {
		return p.prompt
	}
	p.prompt = DefaultPrompt
	if path := p.cfg.PromptTemplate; path != "" {
		custom, err := loadPromptFile(path)
		if err != nil {
			p.logger.Warn("custom prompt template unavailable, using default", zap.String("path", path), zap.Error(err))
		} else {
			p.logger.Info("loaded custom prompt template", zap.String("path", path))
			p.prompt = custom
		}
	}
	return p.prompt
}

// Synthesize falls back to the raw blocks whenever the backend cannot be
// created or fails.
func (p *LLMPlugin) Synthesize(ctx context.Context, taskID string, contexts map[string]model.SourceContext) (string, error) {
	ctx, span := tracer.Start(ctx, "synthesis.llm", trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	sources := ExtractSources(contexts)
	raw := BuildRawData(sources, p.now())
	if raw == "" {
		return NoContext(taskID), nil
	}

	prompt := RenderPrompt(p.promptTemplate(), map[string]string{
		"task_id":  taskID,
		"title":    sources.Title(),
		"raw_data": raw,
	})

	prov, err := p.Provider()
	if err != nil {
		p.logger.Warn("llm provider unavailable, using fallback",
			zap.String("task_id", taskID), zap.String("provider", p.cfg.Provider), zap.Error(err))
		span.SetAttributes(attribute.Bool("fallback", true))
		return Fallback(taskID, raw), nil
	}

	out, err := prov.Generate(ctx, prompt, p.cfg.MaxOutputTokens)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		p.logger.Warn("llm synthesis failed, using fallback",
			zap.String("task_id", taskID), zap.String("provider", prov.Name()), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		span.SetAttributes(attribute.Bool("fallback", true))
		return Fallback(taskID, raw), nil
	}

	p.logger.Info("synthesis completed", zap.String("task_id", taskID), zap.String("provider", prov.Name()))
	return out, nil
}

// Close releases the backend if one was created.
func (p *LLMPlugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.provider == nil {
		return nil
	}
	err := p.provider.Close()
	p.provider = nil
	return err
}
