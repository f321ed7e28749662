package docs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/docindex"
	"github.com/fyrsmithlabs/devscontext/internal/embeddings"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDocType(t *testing.T) {
	tests := []struct {
		path string
		want model.DocType
	}{
		{"CLAUDE.md", model.DocStandards},
		{"repo/claude.md", model.DocStandards},
		{"repo/.cursorrules", model.DocStandards},
		{"docs/adr/001-use-postgres.md", model.DocADR},
		{"docs/ADRs/002.md", model.DocADR},
		{"docs/architecture/payments.md", model.DocArchitecture},
		{"docs/Arch/overview.md", model.DocArchitecture},
		{"docs/standards/go.md", model.DocStandards},
		{"docs/style/naming.md", model.DocStandards},
		{"docs/coding/review.md", model.DocStandards},
		{"docs/guides/onboarding.md", model.DocOther},
		{"docs/architecture-notes.md", model.DocOther},
		{"docs/adr/architecture/x.md", model.DocADR},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDocType(tt.path))
		})
	}
}

func TestSplitIntoSections(t *testing.T) {
	t.Run("preamble and two headings", func(t *testing.T) {
		content := "# Title\n\nIntro.\n\n## First\n\nOne.\n\n### Second\n\nTwo.\n"
		got := SplitIntoSections("docs/architecture/a.md", content)
		require.Len(t, got, 3)

		assert.Nil(t, got[0].SectionTitle)
		assert.Equal(t, 0, got[0].HeadingLevel)
		assert.Equal(t, "# Title\n\nIntro.", got[0].Content)

		assert.Equal(t, "First", got[1].Title())
		assert.Equal(t, 2, got[1].HeadingLevel)
		assert.Equal(t, "One.", got[1].Content)

		assert.Equal(t, "Second", got[2].Title())
		assert.Equal(t, 3, got[2].HeadingLevel)
		assert.Equal(t, "Two.", got[2].Content)

		for _, s := range got {
			assert.Equal(t, model.DocArchitecture, s.DocType)
			assert.Equal(t, "docs/architecture/a.md", s.FilePath)
		}
	})

	t.Run("no preamble", func(t *testing.T) {
		got := SplitIntoSections("a.md", "## One\nx\n## Two\ny")
		require.Len(t, got, 2)
		assert.Equal(t, "One", got[0].Title())
	})

	t.Run("empty body kept when titled", func(t *testing.T) {
		got := SplitIntoSections("a.md", "## Empty\n## Full\nbody")
		require.Len(t, got, 2)
		assert.Equal(t, "Empty", got[0].Title())
		assert.Equal(t, "", got[0].Content)
	})

	t.Run("no headings", func(t *testing.T) {
		got := SplitIntoSections("a.md", "\n  just text  \n")
		require.Len(t, got, 1)
		assert.Nil(t, got[0].SectionTitle)
		assert.Equal(t, 0, got[0].HeadingLevel)
		assert.Equal(t, "just text", got[0].Content)
	})

	t.Run("whitespace only", func(t *testing.T) {
		assert.Empty(t, SplitIntoSections("a.md", " \n\t\n"))
	})

	t.Run("level four is body text", func(t *testing.T) {
		got := SplitIntoSections("a.md", "## Top\n#### Deep\ntext")
		require.Len(t, got, 1)
		assert.Equal(t, "#### Deep\ntext", got[0].Content)
	})
}

func TestParseCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("## A\none"), 0o644))

	c := NewParseCache()
	first, err := c.Get(path)
	require.NoError(t, err)
	second, err := c.Get(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, os.WriteFile(path, []byte("## A\none\n## B\ntwo"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	third, err := c.Get(path)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Len(t, third.Sections, 2)

	c.Invalidate(path)
	assert.Equal(t, 0, c.Len())

	_, err = c.Get(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)

	big := filepath.Join(dir, "big.md")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat("x", MaxFileSize+1)), 0o644))
	_, err = c.Get(big)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

// writeCorpus lays out a small documentation tree and returns its config.
func writeCorpus(t *testing.T) (string, config.DocsConfig) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"docs/architecture/payments-service.md": "# Payments\n\nIntro text.\n\n## Authentication\n\nUses JWT tokens.\n\n## Webhooks\n\nWebhook handler retries failed deliveries.\n",
		"docs/standards/go-style.md":            "## Errors\n\nWrap errors with context.\n",
		"docs/adr/001-queue.md":                 "## Decision\n\nUse a queue.\n",
		"docs/notes.txt":                        "## Ignored\n\nNot markdown.\n",
		"docs/node_modules/pkg/readme.md":       "## Vendored\n\npayments\n",
		"CLAUDE.md":                             "Always run tests.\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root, config.DocsConfig{
		Enabled: true,
		Paths:   []string{filepath.Join(root, "docs"), filepath.Join(root, "CLAUDE.md"), filepath.Join(root, "missing")},
		RAG:     config.RAGConfig{TopK: 10, SimilarityThreshold: 0.3, IndexPath: filepath.Join(root, "index.json")},
	}
}

func titles(sections []model.DocumentSection) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = filepath.Base(s.FilePath) + ":" + s.Title()
	}
	return out
}

func TestScanner_Scan(t *testing.T) {
	_, cfg := writeCorpus(t)
	s := NewScanner(cfg.AllPaths(), nil, nil)

	sections, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"001-queue.md:Decision",
		"payments-service.md:",
		"payments-service.md:Authentication",
		"payments-service.md:Webhooks",
		"go-style.md:Errors",
		"CLAUDE.md:",
	}, titles(sections))
}

func TestEngine_FindRelevant_Keyword(t *testing.T) {
	_, cfg := writeCorpus(t)
	e := NewEngine(cfg, nil)

	ticket := &model.Ticket{
		ID:         "PAY-1",
		Title:      "Add retry logic to payment webhook handler",
		Components: []string{"payments"},
		Labels:     []string{"queue"},
	}
	got, err := e.FindRelevant(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"payments-service.md:",
		"payments-service.md:Authentication",
		"payments-service.md:Webhooks",
		"001-queue.md:Decision",
		"go-style.md:Errors",
		"CLAUDE.md:",
	}, titles(got))
}

func TestEngine_FindRelevant_StandardsAlwaysIncluded(t *testing.T) {
	_, cfg := writeCorpus(t)
	e := NewEngine(cfg, nil)

	got, err := e.FindRelevant(context.Background(), &model.Ticket{ID: "X-1", Title: "Unrelated"})
	require.NoError(t, err)
	assert.Equal(t, []string{"go-style.md:Errors", "CLAUDE.md:"}, titles(got))
}

func TestEngine_FindRelevant_CapAndTruncate(t *testing.T) {
	root := t.TempDir()
	std := filepath.Join(root, "standards")
	require.NoError(t, os.MkdirAll(std, 0o755))
	long := strings.Repeat("word ", 600)
	for i := 0; i < 12; i++ {
		body := fmt.Sprintf("## Rule %02d\n\n%s\n", i, long)
		require.NoError(t, os.WriteFile(filepath.Join(std, fmt.Sprintf("r%02d.md", i)), []byte(body), 0o644))
	}
	e := NewEngine(config.DocsConfig{Paths: []string{std}}, nil)

	got, err := e.FindRelevant(context.Background(), &model.Ticket{ID: "X-1", Title: "rules"})
	require.NoError(t, err)
	require.Len(t, got, MaxRelevantSections)

	seen := map[model.SectionKey]bool{}
	for _, s := range got {
		assert.False(t, seen[s.Key()], "duplicate %v", s.Key())
		seen[s.Key()] = true
		assert.LessOrEqual(t, len(s.Content), MaxSectionChars)
		assert.True(t, strings.HasSuffix(s.Content, "... [truncated]"))
	}
}

// vectorProvider embeds by looking text up in a table.
type vectorProvider struct {
	query   []float32
	err     error
	closed  bool
	queries []string
}

func (p *vectorProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(i)}
	}
	return out, nil
}

func (p *vectorProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	p.queries = append(p.queries, text)
	return p.query, p.err
}

func (p *vectorProvider) Model() string  { return "test-model" }
func (p *vectorProvider) Dimension() int { return 2 }
func (p *vectorProvider) Close() error   { p.closed = true; return nil }

func TestEngine_FindRelevant_Semantic(t *testing.T) {
	root, cfg := writeCorpus(t)
	cfg.RAG.Enabled = true

	arch := filepath.Join(root, "docs", "architecture", "payments-service.md")
	adr := filepath.Join(root, "docs", "adr", "001-queue.md")
	idx := docindex.New(cfg.RAG.IndexPath, nil)
	require.NoError(t, idx.AddSections([]docindex.IndexedSection{
		{FilePath: adr, SectionTitle: model.StringPtr("Decision"), Content: "Use a queue.", DocType: model.DocADR},
		{FilePath: arch, SectionTitle: model.StringPtr("Webhooks"), Content: "Webhook handler", DocType: model.DocArchitecture},
		{FilePath: arch, SectionTitle: model.StringPtr("Authentication"), Content: "Uses JWT", DocType: model.DocArchitecture},
		{FilePath: arch, SectionTitle: model.StringPtr("Webhooks"), Content: "Webhook handler", DocType: model.DocArchitecture},
	}, [][]float32{{0, 1}, {1, 0}, {0.5, 0.5}, {1, 0}}, "test-model"))
	require.NoError(t, idx.Save())

	provider := &vectorProvider{query: []float32{1, 0}}
	calls := 0
	e := NewEngine(cfg, nil, WithProviderFactory(func() (embeddings.Provider, error) {
		calls++
		return provider, nil
	}))

	ticket := &model.Ticket{ID: "PAY-1", Title: "Webhook retries", Description: strings.Repeat("d", 800)}
	got, err := e.FindRelevant(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"payments-service.md:Webhooks",
		"payments-service.md:Authentication",
		"go-style.md:Errors",
		"CLAUDE.md:",
	}, titles(got))
	require.Len(t, provider.queries, 1)
	assert.Equal(t, "Webhook retries "+strings.Repeat("d", 500), provider.queries[0])

	_, err = e.FindRelevant(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "provider is created once")

	require.NoError(t, e.Close())
	assert.True(t, provider.closed)
}

func TestEngine_FindRelevant_SemanticFallback(t *testing.T) {
	ticket := &model.Ticket{ID: "PAY-1", Title: "payments", Labels: []string{"queue"}}

	t.Run("missing index", func(t *testing.T) {
		_, cfg := writeCorpus(t)
		cfg.RAG.Enabled = true
		e := NewEngine(cfg, nil, WithProviderFactory(func() (embeddings.Provider, error) {
			t.Fatal("provider must not be created without an index")
			return nil, nil
		}))
		keyword := NewEngine(config.DocsConfig{Paths: cfg.Paths}, nil)

		got, err := e.FindRelevant(context.Background(), ticket)
		require.NoError(t, err)
		want, err := keyword.FindRelevant(context.Background(), ticket)
		require.NoError(t, err)
		assert.Equal(t, titles(want), titles(got))
	})

	t.Run("provider unavailable", func(t *testing.T) {
		_, cfg := writeCorpus(t)
		cfg.RAG.Enabled = true
		idx := docindex.New(cfg.RAG.IndexPath, nil)
		require.NoError(t, idx.AddSections(nil, nil, "m"))
		require.NoError(t, idx.Save())

		e := NewEngine(cfg, nil, WithProviderFactory(func() (embeddings.Provider, error) {
			return nil, embeddings.ErrUnavailable
		}))
		got, err := e.FindRelevant(context.Background(), ticket)
		require.NoError(t, err)
		assert.Contains(t, titles(got), "001-queue.md:Decision")
	})

	t.Run("query dimension differs from index", func(t *testing.T) {
		root, cfg := writeCorpus(t)
		cfg.RAG.Enabled = true
		arch := filepath.Join(root, "docs", "architecture", "payments-service.md")
		idx := docindex.New(cfg.RAG.IndexPath, nil)
		require.NoError(t, idx.AddSections([]docindex.IndexedSection{
			{FilePath: arch, SectionTitle: model.StringPtr("Webhooks"), Content: "Webhook handler", DocType: model.DocArchitecture},
		}, [][]float32{{1, 0}}, "old-model"))
		require.NoError(t, idx.Save())

		provider := &vectorProvider{query: []float32{1, 0, 0}}
		e := NewEngine(cfg, nil, WithProviderFactory(func() (embeddings.Provider, error) {
			return provider, nil
		}))
		keyword := NewEngine(config.DocsConfig{Paths: cfg.Paths}, nil)

		got, err := e.FindRelevant(context.Background(), ticket)
		require.NoError(t, err)
		want, err := keyword.FindRelevant(context.Background(), ticket)
		require.NoError(t, err)
		assert.Equal(t, titles(want), titles(got))
		assert.Len(t, provider.queries, 1)
	})

	t.Run("corrupt index", func(t *testing.T) {
		_, cfg := writeCorpus(t)
		cfg.RAG.Enabled = true
		require.NoError(t, os.WriteFile(cfg.RAG.IndexPath, []byte("{not json"), 0o644))

		e := NewEngine(cfg, nil)
		got, err := e.FindRelevant(context.Background(), ticket)
		require.NoError(t, err)
		assert.NotEmpty(t, got)
	})
}

func TestEngine_Search(t *testing.T) {
	_, cfg := writeCorpus(t)
	e := NewEngine(cfg, nil)
	ctx := context.Background()

	got, err := e.SearchScored(ctx, "jwt webhook tokens", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Authentication", got[0].Section.Title())
	assert.Equal(t, 2, got[0].Score)
	assert.Equal(t, "Webhooks", got[1].Section.Title())
	assert.Equal(t, 1, got[1].Score)

	// Only stop words: raw tokens are used instead.
	plain, err := e.Search(ctx, "with", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"go-style.md:Errors"}, titles(plain))

	limited, err := e.Search(ctx, "jwt webhook tokens", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := e.Search(ctx, "", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEngine_Standards(t *testing.T) {
	_, cfg := writeCorpus(t)
	e := NewEngine(cfg, nil)

	all, err := e.Standards(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"go-style.md:Errors", "CLAUDE.md:"}, titles(all))

	filtered, err := e.Standards(context.Background(), "GO")
	require.NoError(t, err)
	assert.Equal(t, []string{"go-style.md:Errors"}, titles(filtered))
}

func TestIndexer_Build(t *testing.T) {
	_, cfg := writeCorpus(t)
	scanner := NewScanner(cfg.AllPaths(), nil, nil)
	idx := docindex.New(cfg.RAG.IndexPath, nil)

	var last int
	res, err := NewIndexer(scanner, idx, &vectorProvider{}, nil).Build(context.Background(), func(done, total int) {
		last = done
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Files)
	assert.Equal(t, 6, res.Sections)
	assert.Equal(t, 6, last)
	assert.Equal(t, "test-model", res.Model)

	reloaded := docindex.New(cfg.RAG.IndexPath, nil)
	ok, err := reloaded.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, reloaded.Len())
}

func TestWatcher_InvalidatesCache(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("## A\none"), 0o644))

	scanner := NewScanner([]string{root}, nil, nil)
	_, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, scanner.Cache().Len())

	w, err := NewWatcher(scanner, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	changed := make(chan []string, 1)
	w.OnChange = func(paths []string) {
		select {
		case changed <- paths:
		default:
		}
	}
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("## A\ntwo"), 0o644))

	select {
	case paths := <-changed:
		assert.Contains(t, paths, path)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
	assert.Equal(t, 0, scanner.Cache().Len())
}
