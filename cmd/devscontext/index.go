package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/docindex"
	"github.com/fyrsmithlabs/devscontext/internal/docs"
	"github.com/fyrsmithlabs/devscontext/internal/embeddings"
	"github.com/fyrsmithlabs/devscontext/internal/model"
)

var (
	// indexClear deletes the index file
	indexClear bool
	// indexStats prints index statistics
	indexStats bool
	// indexWatch rebuilds the index whenever documentation changes
	indexWatch bool
)

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexClear, "clear", false, "delete the document index")
	indexCmd.Flags().BoolVar(&indexStats, "stats", false, "show index statistics")
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "rebuild the index when documentation changes")
	indexCmd.MarkFlagsMutuallyExclusive("clear", "stats", "watch")
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the semantic document index",
	Long: `Embed every documentation section and save the vectors used for
semantic matching (sources.docs.rag). The embedding provider is
configured by sources.docs.rag.embedding_provider.

Examples:
  # Build or rebuild the index
  devscontext index

  # Show what is indexed
  devscontext index --stats

  # Keep the index current while editing docs
  devscontext index --watch`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()
	zl := logger.Underlying()

	if !cfg.Sources.Docs.Enabled {
		return errors.New("sources.docs is disabled in .devscontext.yaml")
	}
	engine := docs.NewEngine(cfg.Sources.Docs, zl.Named("docs"))
	defer engine.Close()
	idx := engine.Index()

	switch {
	case indexClear:
		if err := idx.Delete(); err != nil {
			return err
		}
		cmd.Printf("Deleted %s\n", idx.Path())
		return nil
	case indexStats:
		if _, err := idx.Load(); err != nil {
			return err
		}
		cmd.Println(renderIndexStats(idx.Stats()))
		return nil
	}

	provider, err := embeddings.NewProvider(docs.ProviderConfigFrom(cfg.Sources.Docs.RAG), zl.Named("embeddings"))
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	defer provider.Close()

	indexer := docs.NewIndexer(engine.Scanner(), idx, provider, zl.Named("indexer"))
	if err := buildIndex(ctx, cmd, indexer); err != nil {
		return err
	}
	if !indexWatch {
		return nil
	}

	w, err := docs.NewWatcher(engine.Scanner(), zl.Named("watcher"))
	if err != nil {
		return err
	}
	defer w.Stop()

	rebuild := make(chan struct{}, 1)
	w.OnChange = func([]string) {
		select {
		case rebuild <- struct{}{}:
		default:
		}
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	cmd.Println(dimStyle.Render("Watching documentation for changes (Ctrl+C to stop)..."))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rebuild:
			if err := buildIndex(ctx, cmd, indexer); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "index rebuild failed", zap.Error(err))
			}
		}
	}
}

func buildIndex(ctx context.Context, cmd *cobra.Command, indexer *docs.Indexer) error {
	res, err := indexer.Build(ctx, func(done, total int) {
		cmd.PrintErrf("\rEmbedding sections: %d/%d", done, total)
	})
	if err != nil {
		cmd.PrintErrln()
		return err
	}
	cmd.PrintErrln()
	cmd.Printf("Indexed %d sections from %d files with %s in %s\n",
		res.Sections, res.Files, res.Model, res.Duration.Round(time.Millisecond))
	return nil
}

// renderIndexStats formats index statistics for the terminal.
func renderIndexStats(s docindex.Stats) string {
	if !s.Exists {
		return fmt.Sprintf("No index at %s. Run 'devscontext index' to build it.", s.Path)
	}
	lines := []string{
		sectionStyle.Render("Document Index"),
		row("Path", s.Path),
		row("Model", s.Model),
		row("Dimension", strconv.Itoa(s.Dimension)),
		row("Sections", strconv.Itoa(s.SectionCount)),
	}
	if s.IndexedAt != nil {
		lines = append(lines, row("Indexed", s.IndexedAt.Local().Format("2006-01-02 15:04")))
	}
	types := make([]string, 0, len(s.DocTypes))
	for t := range s.DocTypes {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		lines = append(lines, row("  "+t, strconv.Itoa(s.DocTypes[model.DocType(t)])))
	}
	return containerStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
