// Package orchestrator serves task context on demand. A request is
// answered from the prebuilt store when a fresh result exists, then from
// the in-memory cache, and otherwise by fetching every source live and
// synthesizing the result.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/devscontext/internal/cache"
	"github.com/fyrsmithlabs/devscontext/internal/logging"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/secrets"
	"github.com/fyrsmithlabs/devscontext/internal/sources"
	"github.com/fyrsmithlabs/devscontext/internal/synthesis"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/devscontext/internal/orchestrator")

const (
	// DefaultSearchLimit caps SearchContext results when no limit is given.
	DefaultSearchLimit = 20

	perSourceSearchLimit = 10
)

// PrebuiltStore reads results written by the preprocessing pipeline.
type PrebuiltStore interface {
	Get(ctx context.Context, taskID string) (*model.SynthesizedResult, error)
}

// Health is the outcome of HealthCheck.
type Health struct {
	Healthy bool            `json:"healthy"`
	Sources map[string]bool `json:"sources"`
}

// Orchestrator coordinates sources, synthesis and caching.
type Orchestrator struct {
	registry *sources.Registry
	plugin   synthesis.Plugin
	store    PrebuiltStore
	cache    *cache.Cache[model.TaskContext]
	scrubber secrets.Scrubber
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore enables serving prebuilt results.
func WithStore(s PrebuiltStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithCache enables the in-memory cache. A nil cache disables it.
func WithCache(c *cache.Cache[model.TaskContext]) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithScrubber sets the secret scrubber applied to live results.
func WithScrubber(s secrets.Scrubber) Option {
	return func(o *Orchestrator) { o.scrubber = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator over the adapters in registry.
func New(registry *sources.Registry, plugin synthesis.Plugin, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		plugin:   plugin,
		scrubber: secrets.Noop{},
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.scrubber == nil {
		o.scrubber = secrets.Noop{}
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

func cacheKey(taskID string) string { return "context:" + taskID }

// GetTaskContext returns the context for taskID. With useCache false the
// cache is neither read nor written; a fresh prebuilt result is still
// preferred because it is richer than a live fetch.
func (o *Orchestrator) GetTaskContext(ctx context.Context, taskID string, useCache bool) (*model.TaskContext, error) {
	ctx = logging.WithTaskID(ctx, taskID)
	ctx, span := tracer.Start(ctx, "orchestrator.get_task_context")
	span.SetAttributes(attribute.String("task_id", taskID), attribute.Bool("use_cache", useCache))
	defer span.End()

	if tc := o.prebuilt(ctx, taskID); tc != nil {
		return tc, nil
	}

	if useCache && o.cache != nil {
		if tc, ok := o.cache.Get(cacheKey(taskID)); ok {
			o.logger.Info(ctx, "cache hit for task context")
			tc.Cached = true
			return &tc, nil
		}
	}

	start := o.now()
	contexts := o.fetchAll(ctx, taskID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := o.plugin.Synthesize(ctx, taskID, contexts)
	if err != nil {
		return nil, fmt.Errorf("synthesizing %s: %w", taskID, err)
	}
	text, _ = o.scrubber.Scrub(text)

	tc := model.TaskContext{
		TaskID:          taskID,
		Synthesized:     text,
		SourcesUsed:     o.contributors(contexts),
		FetchDurationMS: o.now().Sub(start).Milliseconds(),
		SynthesizedAt:   o.now(),
	}
	o.logger.Info(ctx, "fetched task context",
		zap.Strings("sources", tc.SourcesUsed),
		zap.Int64("duration_ms", tc.FetchDurationMS))

	if useCache && o.cache != nil {
		o.cache.Set(cacheKey(taskID), tc)
	}
	return &tc, nil
}

// prebuilt returns the stored result for taskID when one exists and has
// not expired. Store errors are logged and treated as a miss.
func (o *Orchestrator) prebuilt(ctx context.Context, taskID string) *model.TaskContext {
	if o.store == nil {
		return nil
	}
	r, err := o.store.Get(ctx, taskID)
	if err != nil {
		o.logger.Warn(ctx, "prebuilt lookup failed", zap.Error(err))
		return nil
	}
	if r == nil || r.IsExpired(o.now()) {
		return nil
	}
	o.logger.Info(ctx, "serving prebuilt context", zap.Float64("quality_score", r.QualityScore))
	score := r.QualityScore
	return &model.TaskContext{
		TaskID:        r.TaskID,
		Synthesized:   r.Synthesized,
		SourcesUsed:   r.SourcesUsed,
		SynthesizedAt: r.BuiltAt,
		Cached:        true,
		Prebuilt:      true,
		QualityScore:  &score,
		Gaps:          r.Gaps,
	}
}

// fetchAll fetches the primary ticket first so the other sources can
// search by its title, then queries the rest concurrently.
func (o *Orchestrator) fetchAll(ctx context.Context, taskID string) map[string]model.SourceContext {
	contexts := make(map[string]model.SourceContext)

	var ticket *model.Ticket
	if primary := o.registry.Primary(); primary != nil {
		sc := primary.FetchTaskContext(logging.WithSource(ctx, primary.Name()), taskID, nil)
		contexts[primary.Name()] = sc
		if tc, ok := sc.Data.(*model.TicketContext); ok && tc != nil {
			ticket = tc.Ticket
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sources.MaxConcurrentFetches)
	for _, a := range o.registry.Secondary() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sc := a.FetchTaskContext(logging.WithSource(gctx, a.Name()), taskID, ticket)
			mu.Lock()
			contexts[a.Name()] = sc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn(ctx, "source fetch interrupted", zap.Int("fetched", len(contexts)), zap.Error(err))
	}
	return contexts
}

// contributors lists the sources that returned data, in load order.
func (o *Orchestrator) contributors(contexts map[string]model.SourceContext) []string {
	out := []string{}
	for _, a := range o.registry.Active() {
		if sc, ok := contexts[a.Name()]; ok && !sc.IsEmpty() {
			out = append(out, a.Name())
		}
	}
	return out
}

// SearchContext runs query against every active source concurrently and
// returns the merged results, highest relevance first. A failing source
// is logged and skipped.
func (o *Orchestrator) SearchContext(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	active := o.registry.Active()
	perSource := make([][]model.SearchResult, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sources.MaxConcurrentFetches)
	for i, a := range active {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := a.Search(logging.WithSource(gctx, a.Name()), query, min(limit, perSourceSearchLimit))
			if err != nil {
				o.logger.Warn(ctx, "source search failed", zap.String("source", a.Name()), zap.Error(err))
				return nil
			}
			perSource[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []model.SearchResult{}
	for _, res := range perSource {
		out = append(out, res...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	if len(out) > limit {
		out = out[:limit]
	}
	o.logger.Info(ctx, "search completed", zap.String("query", query), zap.Int("results", len(out)))
	return out, nil
}

// SourceNames lists the active sources.
func (o *Orchestrator) SourceNames() []string {
	var names []string
	for _, a := range o.registry.Active() {
		names = append(names, a.Name())
	}
	return names
}

// GetStandards renders the coding standards for area, or all standards
// when area is empty.
func (o *Orchestrator) GetStandards(ctx context.Context, area string) (string, error) {
	engine := o.registry.Docs()
	heading := "## Coding Standards"
	if area != "" {
		heading += " for " + area
	}
	if engine == nil {
		return heading + "\n\nNo documentation sources are configured. Enable `sources.docs` and list your docs directories in `.devscontext.yaml`.", nil
	}

	sections, err := engine.Standards(ctx, area)
	if err != nil {
		return "", fmt.Errorf("loading standards: %w", err)
	}
	if len(sections) == 0 {
		return heading + "\n\nNo standards documents found. Put them under a `standards/` directory or name them like `standards-testing.md`.", nil
	}

	parts := []string{heading}
	for _, s := range sections {
		title := s.Title()
		if title == "" {
			title = s.FilePath
		}
		parts = append(parts, "\n### "+title, "**Source:** "+s.FilePath, "\n"+s.Content)
	}
	return strings.Join(parts, "\n"), nil
}

// HealthCheck checks every active source. With no sources configured the
// service is considered healthy.
func (o *Orchestrator) HealthCheck(ctx context.Context) Health {
	status := o.registry.HealthCheckAll(ctx)
	h := Health{Healthy: true, Sources: status}
	for _, ok := range status {
		if !ok {
			h.Healthy = false
		}
	}
	o.logger.Info(ctx, "health check completed", zap.Bool("healthy", h.Healthy), zap.Any("sources", status))
	return h
}

// InvalidateCache drops the cached context for taskID, or every entry
// when taskID is empty.
func (o *Orchestrator) InvalidateCache(taskID string) {
	if o.cache == nil {
		return
	}
	if taskID == "" {
		o.cache.Clear()
		o.logger.Debug(context.Background(), "cache cleared")
		return
	}
	o.cache.Invalidate(cacheKey(taskID))
	o.logger.Debug(context.Background(), "cache invalidated", zap.String("task_id", taskID))
}

// Close releases the synthesis plugin. Sources are owned by the registry.
func (o *Orchestrator) Close() error {
	return o.plugin.Close()
}
