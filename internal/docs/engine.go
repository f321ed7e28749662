package docs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/docindex"
	"github.com/fyrsmithlabs/devscontext/internal/embeddings"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/textutil"
	"go.uber.org/zap"
)

const (
	// MaxRelevantSections caps FindRelevant results.
	MaxRelevantSections = 10
	// MaxSectionChars is the content length of returned sections.
	MaxSectionChars = 1500
	// queryDescriptionChars is how much of a ticket description feeds
	// keyword extraction and the semantic query.
	queryDescriptionChars = 500
)

// ErrSemanticUnavailable is wrapped by semantic matching failures that
// trigger the keyword fallback.
var ErrSemanticUnavailable = errors.New("semantic matching unavailable")

// ProviderFactory creates the embedding provider on first semantic search.
type ProviderFactory func() (embeddings.Provider, error)

// Match is a free-text search hit with its keyword tally.
type Match struct {
	Section model.DocumentSection
	Score   int
}

// Engine selects documentation sections for tickets and free-text queries.
type Engine struct {
	scanner     *Scanner
	logger      *zap.Logger
	semantic    bool
	topK        int
	threshold   float64
	index       *docindex.Index
	newProvider ProviderFactory

	mu       sync.Mutex
	prepared bool
	ready    bool
	provider embeddings.Provider
}

// Option configures an Engine.
type Option func(*Engine)

// WithIndex overrides the vector index.
func WithIndex(idx *docindex.Index) Option {
	return func(e *Engine) { e.index = idx }
}

// WithProviderFactory overrides how the embedding provider is created.
func WithProviderFactory(f ProviderFactory) Option {
	return func(e *Engine) { e.newProvider = f }
}

// WithParseCache shares a parse cache, typically with a Watcher.
func WithParseCache(c *ParseCache) Option {
	return func(e *Engine) { e.scanner.cache = c }
}

// NewEngine builds an engine from the docs configuration. Semantic
// matching is used when rag.enabled is set; nothing is loaded until the
// first semantic search.
func NewEngine(cfg config.DocsConfig, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	rag := cfg.RAG
	e := &Engine{
		scanner:   NewScanner(cfg.AllPaths(), nil, logger.Named("scanner")),
		logger:    logger,
		semantic:  rag.Enabled,
		topK:      rag.TopK,
		threshold: rag.SimilarityThreshold,
		index:     docindex.New(rag.IndexPath, logger.Named("index")),
		newProvider: func() (embeddings.Provider, error) {
			return embeddings.NewProvider(ProviderConfigFrom(rag), logger.Named("embeddings"))
		},
	}
	if e.topK <= 0 {
		e.topK = MaxRelevantSections
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProviderConfigFrom maps rag settings to an embedding provider config.
func ProviderConfigFrom(rag config.RAGConfig) embeddings.ProviderConfig {
	pc := embeddings.ProviderConfig{
		Provider: rag.EmbeddingProvider,
		Model:    rag.EmbeddingModel,
		CacheDir: rag.CacheDir,
	}
	switch strings.ToLower(rag.EmbeddingProvider) {
	case "openai":
		pc.APIKey = rag.OpenAIAPIKey.Value()
	case "ollama":
		pc.BaseURL = rag.OllamaURL
	}
	return pc
}

// Scanner returns the engine's scanner.
func (e *Engine) Scanner() *Scanner { return e.scanner }

// Index returns the engine's vector index.
func (e *Engine) Index() *docindex.Index { return e.index }

// Semantic reports whether semantic matching is configured.
func (e *Engine) Semantic() bool { return e.semantic }

// FindRelevant returns up to MaxRelevantSections sections for ticket, with
// every standards section included unless the cap is reached first.
// Semantic failures fall back to keyword matching; only cancellation and
// scan failures are returned as errors.
func (e *Engine) FindRelevant(ctx context.Context, ticket *model.Ticket) ([]model.DocumentSection, error) {
	if ticket == nil {
		return nil, nil
	}
	if e.semantic {
		out, err := e.findSemantic(ctx, ticket)
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Info("semantic matching unavailable, using keywords",
			zap.String("task_id", ticket.ID), zap.Error(err))
	}
	return e.findKeyword(ctx, ticket)
}

// Context wraps FindRelevant for source adapters, which never fail.
func (e *Engine) Context(ctx context.Context, ticket *model.Ticket) model.DocsContext {
	sections, err := e.FindRelevant(ctx, ticket)
	if err != nil {
		e.logger.Warn("documentation matching failed", zap.Error(err))
		return model.DocsContext{}
	}
	return model.DocsContext{Sections: sections}
}

func (e *Engine) findKeyword(ctx context.Context, ticket *model.Ticket) ([]model.DocumentSection, error) {
	sections, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	corpus := newCorpus(sections)
	acc := newAccumulator()

	for _, c := range ticket.Components {
		acc.addAll(corpus.matching(c))
	}
	for _, l := range ticket.Labels {
		acc.addAll(corpus.matching(l))
	}
	for _, kw := range textutil.ExtractKeywords(ticketQuery(ticket)) {
		acc.addAll(corpus.matching(kw))
	}
	acc.addAll(standardsOf(sections))

	return acc.result(), nil
}

func (e *Engine) findSemantic(ctx context.Context, ticket *model.Ticket) ([]model.DocumentSection, error) {
	provider, err := e.prepareSemantic()
	if err != nil {
		return nil, err
	}
	query := ticketQuery(ticket)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty ticket text", ErrSemanticUnavailable)
	}
	vec, err := provider.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrSemanticUnavailable, err)
	}
	if dim := e.index.Dimension(); dim > 0 && len(vec) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d (rebuild with `devscontext index`)",
			ErrSemanticUnavailable, len(vec), dim)
	}

	acc := newAccumulator()
	for _, hit := range e.index.Search(vec, e.topK, e.threshold) {
		acc.add(hit.Section.Section())
	}

	// Standards come from disk, so edits since the last index build show up.
	fresh, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	acc.addAll(standardsOf(fresh))
	return acc.result(), nil
}

// prepareSemantic loads the index and creates the provider once. A failed
// attempt is remembered until Reset.
func (e *Engine) prepareSemantic() (embeddings.Provider, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepared {
		if !e.ready {
			return nil, ErrSemanticUnavailable
		}
		return e.provider, nil
	}
	e.prepared = true

	ok, err := e.index.Load()
	if err != nil {
		e.logger.Warn("failed to load document index", zap.String("path", e.index.Path()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSemanticUnavailable, err)
	}
	if !ok {
		e.logger.Info("document index not found, run `devscontext index` to build it",
			zap.String("path", e.index.Path()))
		return nil, fmt.Errorf("%w: index %s missing", ErrSemanticUnavailable, e.index.Path())
	}

	p, err := e.newProvider()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSemanticUnavailable, err)
	}
	if m := e.index.Model(); m != "" && m != p.Model() {
		e.logger.Warn("index was built with a different embedding model",
			zap.String("index_model", m), zap.String("provider_model", p.Model()))
	}
	e.provider = p
	e.ready = true
	return p, nil
}

// Reset forgets the loaded index and provider so the next semantic search
// reloads them, e.g. after a rebuild.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.provider != nil {
		err = e.provider.Close()
	}
	e.provider = nil
	e.prepared = false
	e.ready = false
	return err
}

// Close releases the embedding provider.
func (e *Engine) Close() error {
	return e.Reset()
}

// Search scores every section by how many query terms it matches and
// returns the best limit sections.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]model.DocumentSection, error) {
	matches, err := e.SearchScored(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.DocumentSection, len(matches))
	for i, m := range matches {
		out[i] = m.Section
	}
	return out, nil
}

// SearchScored is Search with the tally kept.
func (e *Engine) SearchScored(ctx context.Context, query string, limit int) ([]Match, error) {
	terms := searchTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	sections, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	corpus := newCorpus(sections)

	var matches []Match
	for i, doc := range corpus {
		score := 0
		for _, t := range terms {
			if doc.matches(t) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, Match{Section: sections[i], Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	for i := range matches {
		matches[i].Section.Content = textutil.TruncateText(matches[i].Section.Content, MaxSectionChars)
	}
	return matches, nil
}

// Standards returns every standards section, filtered to those mentioning
// area when it is set.
func (e *Engine) Standards(ctx context.Context, area string) ([]model.DocumentSection, error) {
	sections, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	std := standardsOf(sections)
	area = strings.TrimSpace(area)
	if area == "" {
		return std, nil
	}
	corpus := newCorpus(std)
	var out []model.DocumentSection
	for i, doc := range corpus {
		if doc.matches(area) {
			out = append(out, std[i])
		}
	}
	return out, nil
}

func ticketQuery(t *model.Ticket) string {
	return t.Title + " " + textutil.Prefix(t.Description, queryDescriptionChars)
}

// searchTerms extracts keywords, falling back to raw tokens of at least
// three characters for queries made only of stop words.
func searchTerms(query string) []string {
	if kws := textutil.ExtractKeywords(query); len(kws) > 0 {
		return kws
	}
	var terms []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if len(tok) >= 3 {
			terms = append(terms, tok)
		}
	}
	return terms
}

func standardsOf(sections []model.DocumentSection) []model.DocumentSection {
	var out []model.DocumentSection
	for _, s := range sections {
		if s.DocType == model.DocStandards {
			out = append(out, s)
		}
	}
	return out
}

// searchable holds the lowercased fields a term is matched against.
type searchable struct {
	section model.DocumentSection
	stem    string
	title   string
	content string
}

func (s searchable) matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	return strings.Contains(s.stem, term) ||
		strings.Contains(s.title, term) ||
		strings.Contains(s.content, term)
}

type corpus []searchable

func newCorpus(sections []model.DocumentSection) corpus {
	c := make(corpus, len(sections))
	for i, s := range sections {
		base := filepath.Base(s.FilePath)
		c[i] = searchable{
			section: s,
			stem:    strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base))),
			title:   strings.ToLower(s.Title()),
			content: strings.ToLower(s.Content),
		}
	}
	return c
}

func (c corpus) matching(term string) []model.DocumentSection {
	var out []model.DocumentSection
	for _, s := range c {
		if s.matches(term) {
			out = append(out, s.section)
		}
	}
	return out
}

// accumulator collects sections in first-seen order without duplicates.
type accumulator struct {
	seen     map[model.SectionKey]struct{}
	sections []model.DocumentSection
}

func newAccumulator() *accumulator {
	return &accumulator{seen: make(map[model.SectionKey]struct{})}
}

func (a *accumulator) add(s model.DocumentSection) {
	k := s.Key()
	if _, dup := a.seen[k]; dup {
		return
	}
	a.seen[k] = struct{}{}
	a.sections = append(a.sections, s)
}

func (a *accumulator) addAll(sections []model.DocumentSection) {
	for _, s := range sections {
		a.add(s)
	}
}

// result caps and truncates the accumulated sections.
func (a *accumulator) result() []model.DocumentSection {
	out := a.sections
	if len(out) > MaxRelevantSections {
		out = out[:MaxRelevantSections]
	}
	res := make([]model.DocumentSection, len(out))
	for i, s := range out {
		s.Content = textutil.TruncateText(s.Content, MaxSectionChars)
		res[i] = s
	}
	return res
}
