// Package preprocess builds rich task context ahead of time. A run fetches
// the ticket, searches every secondary source in parallel, synthesizes a
// brief, scores its completeness and stores the result for later serving.
package preprocess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/devscontext/internal/events"
	"github.com/fyrsmithlabs/devscontext/internal/logging"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/quality"
	"github.com/fyrsmithlabs/devscontext/internal/secrets"
	"github.com/fyrsmithlabs/devscontext/internal/sources"
	"github.com/fyrsmithlabs/devscontext/internal/synthesis"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/devscontext/internal/preprocess")

var (
	// ErrTicketNotFound is returned when the primary ticket does not exist.
	// Nothing is stored for the task.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrNoTicketSource is returned when no issue tracker is configured.
	ErrNoTicketSource = errors.New("no ticket source configured")
)

// DefaultTTL applies when the pipeline is created with a zero TTL.
const DefaultTTL = 24 * time.Hour

// ResultStore persists pipeline output.
type ResultStore interface {
	Store(ctx context.Context, r *model.SynthesizedResult) error
	IsStale(ctx context.Context, taskID, hash string) (bool, error)
}

// Pipeline runs preprocessing for one task at a time. Runs for different
// tasks may proceed concurrently. Runs for the same task are not
// coordinated and the last one to store wins.
type Pipeline struct {
	registry *sources.Registry
	plugin   synthesis.Plugin
	store    ResultStore
	scrubber secrets.Scrubber
	events   events.Publisher
	ttl      time.Duration
	logger   *logging.Logger
	now      func() time.Time
	newRunID func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithScrubber sets the secret scrubber applied before storage.
func WithScrubber(s secrets.Scrubber) Option {
	return func(p *Pipeline) { p.scrubber = s }
}

// WithEvents publishes run lifecycle events to pub.
func WithEvents(pub events.Publisher) Option {
	return func(p *Pipeline) { p.events = pub }
}

// WithTTL sets how long stored results stay fresh.
func WithTTL(ttl time.Duration) Option {
	return func(p *Pipeline) { p.ttl = ttl }
}

// New creates a pipeline over the adapters in registry.
func New(registry *sources.Registry, plugin synthesis.Plugin, store ResultStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: registry,
		plugin:   plugin,
		store:    store,
		scrubber: secrets.Noop{},
		events:   events.Nop{},
		ttl:      DefaultTTL,
		logger:   logging.NewNop(),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ttl <= 0 {
		p.ttl = DefaultTTL
	}
	if p.scrubber == nil {
		p.scrubber = secrets.Noop{}
	}
	if p.events == nil {
		p.events = events.Nop{}
	}
	p.logger = p.logger.Named("preprocess")
	return p
}

// Process builds, scores and stores the context for taskID.
func (p *Pipeline) Process(ctx context.Context, taskID string) (res *model.SynthesizedResult, err error) {
	start := p.now()
	runID := p.newRunID()
	ctx = logging.WithRunID(logging.WithTaskID(ctx, taskID), runID)

	ctx, span := tracer.Start(ctx, "preprocess.process")
	span.SetAttributes(attribute.String("task_id", taskID), attribute.String("run_id", runID))
	defer func() {
		RunsTotal.WithLabelValues(outcome(err)).Inc()
		RunDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.publish(ctx, events.Event{Kind: events.KindFailed, TaskID: taskID, RunID: runID, Error: err.Error()})
		} else {
			p.publish(ctx, events.Event{
				Kind:         events.KindCompleted,
				TaskID:       taskID,
				RunID:        runID,
				QualityScore: res.QualityScore,
				Gaps:         len(res.Gaps),
			})
		}
		span.End()
	}()

	p.logger.Info(ctx, "starting preprocessing")
	p.publish(ctx, events.Event{Kind: events.KindStarted, TaskID: taskID, RunID: runID})

	primary := p.registry.Primary()
	if primary == nil {
		return nil, ErrNoTicketSource
	}
	tc, err := primary.FetchFullContext(ctx, taskID)
	if err != nil {
		if errors.Is(err, sources.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, taskID)
		}
		return nil, fmt.Errorf("fetching ticket %s: %w", taskID, err)
	}
	if tc == nil || tc.Ticket == nil {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, taskID)
	}

	contexts := p.fetchSecondary(ctx, taskID, tc.Ticket)
	contexts[primary.Name()] = model.SourceContext{
		SourceName: primary.Name(),
		SourceType: primary.SourceType(),
		Data:       tc,
		FetchedAt:  p.now(),
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := synthesis.ExtractSources(contexts)
	text, err := p.synthesize(ctx, taskID, contexts, src)
	if err != nil {
		return nil, err
	}

	var meetings model.MeetingContext
	if src.Meetings != nil {
		meetings = *src.Meetings
	}
	var docs model.DocsContext
	if src.Docs != nil {
		docs = *src.Docs
	}
	score := quality.Score(tc, meetings, docs)
	gaps := quality.DetectGaps(tc, meetings, docs)
	text = quality.AppendGaps(text, gaps, score)

	text, sum := p.scrubber.Scrub(text)
	if sum.HasRedactions() {
		SecretsRedacted.Add(float64(sum.TotalSecrets))
		p.logger.Warn(ctx, "secrets redacted from synthesized context", zap.Int("count", sum.TotalSecrets))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := p.now()
	res = &model.SynthesizedResult{
		TaskID:         taskID,
		Synthesized:    text,
		SourcesUsed:    SourcesUsed(taskID, src),
		QualityScore:   score,
		Gaps:           gaps,
		BuiltAt:        now,
		ExpiresAt:      now.Add(p.ttl),
		SourceDataHash: SourceHash(tc.Ticket),
	}
	if err := p.store.Store(ctx, res); err != nil {
		return nil, fmt.Errorf("storing %s: %w", taskID, err)
	}
	QualityScore.Observe(score)

	p.logger.Info(ctx, "preprocessing complete",
		zap.Float64("quality_score", score),
		zap.Int("gaps", len(gaps)),
		zap.Int("sources", len(res.SourcesUsed)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// publish never fails a run; delivery problems are only logged.
func (p *Pipeline) publish(ctx context.Context, e events.Event) {
	e.At = p.now().UTC()
	if err := p.events.Publish(ctx, e); err != nil {
		p.logger.Warn(ctx, "publishing event failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

// fetchSecondary queries every non-primary adapter, at most
// sources.MaxConcurrentFetches at a time. Adapters report failures as empty
// contexts; cancellation stops adapters that have not started yet and the
// contexts gathered so far are returned.
func (p *Pipeline) fetchSecondary(ctx context.Context, taskID string, ticket *model.Ticket) map[string]model.SourceContext {
	var (
		mu  sync.Mutex
		out = make(map[string]model.SourceContext)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sources.MaxConcurrentFetches)
	for _, a := range p.registry.Secondary() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sctx := logging.WithSource(gctx, a.Name())
			sc := a.FetchTaskContext(sctx, taskID, ticket)
			if sc.IsEmpty() {
				p.logger.Debug(sctx, "source returned no context")
			}
			mu.Lock()
			out[a.Name()] = sc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Warn(ctx, "secondary fetch interrupted", zap.Int("fetched", len(out)), zap.Error(err))
	}
	return out
}

// synthesize prefers multi-pass generation and falls back to the plugin's
// single-pass path, which never fails for data reasons.
func (p *Pipeline) synthesize(ctx context.Context, taskID string, contexts map[string]model.SourceContext, src synthesis.Sources) (string, error) {
	if ps, ok := p.plugin.(synthesis.ProviderSource); ok {
		prov, err := ps.Provider()
		if err == nil {
			out, err := synthesis.MultiPass(ctx, prov, taskID, src.Ticket, src.Meetings, src.Docs, ps.MaxOutputTokens())
			if err == nil && out != "" {
				return out, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			p.logger.Warn(ctx, "multi-pass synthesis failed, using single pass", zap.Error(err))
		} else {
			p.logger.Warn(ctx, "llm provider unavailable, using single pass", zap.Error(err))
		}
		MultiPassFallbacks.Inc()
	}
	return p.plugin.Synthesize(ctx, taskID, contexts)
}

// IsStale re-fetches only the ticket and compares its hash with the stored
// one. A task with no stored result is stale.
func (p *Pipeline) IsStale(ctx context.Context, taskID string) (bool, error) {
	primary := p.registry.Primary()
	if primary == nil {
		return false, ErrNoTicketSource
	}
	t, err := primary.FetchTicket(ctx, taskID)
	if err != nil {
		if errors.Is(err, sources.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrTicketNotFound, taskID)
		}
		return false, fmt.Errorf("fetching ticket %s: %w", taskID, err)
	}
	return p.store.IsStale(ctx, taskID, SourceHash(t))
}

// SourceHash fingerprints the mutable state of a ticket: the first 16 hex
// characters of the SHA-256 of its update time.
func SourceHash(t *model.Ticket) string {
	sum := sha256.Sum256([]byte(t.Updated.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

// SourcesUsed lists the items that fed a result, deduplicated in order.
func SourcesUsed(taskID string, src synthesis.Sources) []string {
	seen := make(map[string]bool)
	out := []string{}
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	add(sources.NameJira + ":" + taskID)
	if src.Meetings != nil {
		for _, m := range src.Meetings.Meetings {
			add(sources.NameFireflies + ":" + m.Date.Format("2006-01-02"))
		}
	}
	if src.Chat != nil {
		for _, th := range src.Chat.Threads {
			add(sources.NameSlack + ":" + channel(th.Parent))
		}
		for _, m := range src.Chat.Standalone {
			add(sources.NameSlack + ":" + channel(m))
		}
	}
	if src.Email != nil {
		for _, th := range src.Email.Threads {
			add(sources.NameGmail + ":" + th.ID)
		}
	}
	if src.VCS != nil {
		for _, pr := range src.VCS.RelatedPRs {
			add(sources.NameGitHub + ":pr#" + strconv.Itoa(pr.Number))
		}
		for _, pr := range src.VCS.RecentPRs {
			add(sources.NameGitHub + ":pr#" + strconv.Itoa(pr.Number))
		}
	}
	if src.Docs != nil {
		for _, s := range src.Docs.Sections {
			add("docs:" + s.FilePath)
		}
	}
	return out
}

func channel(m model.ChatMessage) string {
	if m.ChannelName != "" {
		return m.ChannelName
	}
	return m.ChannelID
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTicketNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
