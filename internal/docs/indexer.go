package docs

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/docindex"
	"github.com/fyrsmithlabs/devscontext/internal/embeddings"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of sections embedded per provider call.
const DefaultBatchSize = 32

// BuildResult summarizes an index build.
type BuildResult struct {
	Files    int
	Sections int
	Model    string
	Duration time.Duration
}

// Indexer embeds every scanned section and replaces the index contents.
type Indexer struct {
	scanner   *Scanner
	index     *docindex.Index
	provider  embeddings.Provider
	batchSize int
	logger    *zap.Logger
}

// NewIndexer creates an indexer. The provider is owned by the caller.
func NewIndexer(scanner *Scanner, index *docindex.Index, provider embeddings.Provider, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		scanner:   scanner,
		index:     index,
		provider:  provider,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
}

// Build scans, embeds and saves. The file on disk is only replaced once
// every section has been embedded.
func (ix *Indexer) Build(ctx context.Context, progress func(done, total int)) (*BuildResult, error) {
	start := time.Now()
	files, err := ix.scanner.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documentation: %w", err)
	}
	sections, err := ix.scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning documentation: %w", err)
	}
	if len(sections) == 0 {
		ix.logger.Warn("no documentation sections found", zap.Strings("roots", ix.scanner.Roots()))
	}

	texts := make([]string, len(sections))
	indexed := make([]docindex.IndexedSection, len(sections))
	for i, s := range sections {
		texts[i] = embeddingText(s)
		indexed[i] = docindex.FromSection(s)
	}

	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = embeddings.EmbedInBatches(ctx, ix.provider, texts, ix.batchSize, progress)
		if err != nil {
			return nil, fmt.Errorf("embedding sections: %w", err)
		}
	}

	if err := ix.index.AddSections(indexed, vectors, ix.provider.Model()); err != nil {
		return nil, err
	}
	if err := ix.index.Save(); err != nil {
		return nil, err
	}

	res := &BuildResult{
		Files:    len(files),
		Sections: len(sections),
		Model:    ix.provider.Model(),
		Duration: time.Since(start),
	}
	ix.logger.Info("document index built",
		zap.String("path", ix.index.Path()),
		zap.Int("files", res.Files),
		zap.Int("sections", res.Sections),
		zap.String("model", res.Model),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// embeddingText prefixes the title so headings carry weight in the vector.
func embeddingText(s model.DocumentSection) string {
	if t := s.Title(); t != "" {
		return t + "\n\n" + s.Content
	}
	return s.Content
}
