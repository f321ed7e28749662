package sources

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/docs"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/synthesis"
	"go.uber.org/zap"
)

// LocalDocs serves documentation sections from the docs engine.
type LocalDocs struct {
	cfg    config.DocsConfig
	engine *docs.Engine
	logger *zap.Logger
	now    func() time.Time
}

// NewLocalDocs wraps engine. The engine is owned by the caller and is not
// closed by Close.
func NewLocalDocs(cfg config.DocsConfig, engine *docs.Engine, logger *zap.Logger) *LocalDocs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalDocs{cfg: cfg, engine: engine, logger: logger.Named(NameLocalDocs), now: time.Now}
}

func (d *LocalDocs) Name() string       { return NameLocalDocs }
func (d *LocalDocs) SourceType() string { return model.SourceDocumentation }

// Engine exposes the underlying engine for standards lookups.
func (d *LocalDocs) Engine() *docs.Engine { return d.engine }

// FetchTaskContext matches documentation against the ticket. Without a
// ticket there is nothing to match on.
func (d *LocalDocs) FetchTaskContext(ctx context.Context, taskID string, ticket *model.Ticket) model.SourceContext {
	if ticket == nil {
		return emptyContext(d, d.now(), map[string]any{"task_id": taskID})
	}
	dc := d.engine.Context(ctx, ticket)
	if len(dc.Sections) == 0 {
		return emptyContext(d, d.now(), map[string]any{"task_id": taskID, "section_count": 0})
	}

	var blocks []string
	for _, b := range []string{
		synthesis.FormatArchitecture(&dc),
		synthesis.FormatStandards(&dc),
		synthesis.FormatOtherDocs(&dc),
	} {
		if b != "" {
			blocks = append(blocks, b)
		}
	}
	files := make(map[string]bool)
	for _, s := range dc.Sections {
		files[s.FilePath] = true
	}
	d.logger.Info("documentation matched",
		zap.String("task_id", taskID),
		zap.Int("sections", len(dc.Sections)),
		zap.Int("files", len(files)))
	return model.SourceContext{
		SourceName: NameLocalDocs,
		SourceType: model.SourceDocumentation,
		Data:       &dc,
		RawText:    strings.Join(blocks, "\n\n---\n\n"),
		Metadata: map[string]any{
			"task_id":       taskID,
			"section_count": len(dc.Sections),
			"file_count":    len(files),
			"semantic":      d.engine.Semantic(),
		},
		FetchedAt: d.now(),
	}
}

// Search ranks sections by the share of query terms they match.
func (d *LocalDocs) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	matches, err := d.engine.SearchScored(ctx, query, limit)
	if err != nil {
		d.logger.Warn("documentation search failed", zap.Error(err))
		return []model.SearchResult{}, nil
	}
	terms := max(len(strings.Fields(query)), 1)
	out := make([]model.SearchResult, 0, len(matches))
	for _, m := range matches {
		title := m.Section.Title()
		if title == "" {
			title = m.Section.FilePath
		}
		out = append(out, model.SearchResult{
			SourceName:     NameLocalDocs,
			SourceType:     model.SourceDocumentation,
			Title:          title,
			Excerpt:        clipRunes(m.Section.Content, 300),
			URL:            m.Section.FilePath,
			RelevanceScore: min(float64(m.Score)/float64(terms), 1),
			Metadata:       map[string]any{"doc_type": string(m.Section.DocType), "file_path": m.Section.FilePath},
		})
	}
	return out, nil
}

// HealthCheck reports whether at least one configured path exists.
func (d *LocalDocs) HealthCheck(context.Context) bool {
	paths := d.cfg.AllPaths()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	d.logger.Warn("no documentation paths found", zap.Strings("paths", paths))
	return false
}

func (d *LocalDocs) Close() error { return nil }
