package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/docindex"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/storage"
)

// quietConfig disables every network source so commands run offline.
const quietConfig = `
sources:
  jira:
    enabled: false
  fireflies:
    enabled: false
  docs:
    enabled: false
  slack:
    enabled: false
  gmail:
    enabled: false
  github:
    enabled: false
synthesis:
  plugin: passthrough
secrets:
  enabled: false
logging:
  level: error
storage:
  path: %s
`

func seedStore(t *testing.T, path string, results ...*model.SynthesizedResult) {
	t.Helper()
	store, err := storage.Open(path, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	for _, r := range results {
		require.NoError(t, store.Store(context.Background(), r))
	}
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	items := make([]storage.Summary, 0, 12)
	for i := range 12 {
		items = append(items, storage.Summary{
			TaskID:       fmt.Sprintf("PROJ-%d", i+1),
			QualityScore: 0.9,
			BuiltAt:      now.Add(-time.Hour),
			ExpiresAt:    now.Add(time.Hour),
		})
	}
	items[0].ExpiresAt = now.Add(-time.Minute)

	out := renderStatus(statusView{
		ConfigPath: "/repo/.devscontext.yaml",
		Sources:    []string{"jira", "local_docs"},
		Synthesis:  "llm",
		Store:      storage.Stats{Total: 12, Active: 11, Expired: 1, AvgQuality: 0.9, Path: "/repo/.devscontext/cache.db"},
		Items:      items,
		Now:        now,
	})

	assert.Contains(t, out, "/repo/.devscontext.yaml")
	assert.Contains(t, out, "jira, local_docs")
	assert.Contains(t, out, "90%")
	assert.Contains(t, out, "PROJ-1 ")
	assert.Contains(t, out, "expired")
	assert.Contains(t, out, "fresh")
	assert.Contains(t, out, "... and 2 more")
	assert.NotContains(t, out, "PROJ-11")
}

func TestRenderStatus_Empty(t *testing.T) {
	out := renderStatus(statusView{Now: time.Now()})
	assert.Contains(t, out, "none (defaults)")
	assert.Contains(t, out, "none")
	assert.NotContains(t, out, "Avg quality")
}

func TestRenderIndexStats(t *testing.T) {
	assert.Contains(t, renderIndexStats(docindex.Stats{Path: "/x/index.json"}), "No index at /x/index.json")

	indexed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	out := renderIndexStats(docindex.Stats{
		Path:         "/x/index.json",
		Exists:       true,
		Model:        "all-MiniLM-L6-v2",
		Dimension:    384,
		SectionCount: 42,
		IndexedAt:    &indexed,
		DocTypes:     map[model.DocType]int{"architecture": 40, "standards": 2},
	})
	assert.Contains(t, out, "all-MiniLM-L6-v2")
	assert.Contains(t, out, "384")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "2026-03-01 09:30")
	assert.Contains(t, out, "architecture")
}

func TestQualityBadge(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.95, "95%"},
		{0.6, "60%"},
		{0.1, "10%"},
	}
	for _, tt := range tests {
		assert.Contains(t, qualityBadge(tt.score), tt.want)
	}
}

func TestRunStatus(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cache.db")
	withConfig(t, fmt.Sprintf(quietConfig, dbPath))

	now := time.Now()
	seedStore(t, dbPath, &model.SynthesizedResult{
		TaskID:       "PROJ-9",
		Synthesized:  "context",
		SourcesUsed:  []string{"jira:PROJ-9"},
		QualityScore: 0.75,
		Gaps:         []string{"No meeting discussions found"},
		BuiltAt:      now,
		ExpiresAt:    now.Add(time.Hour),
	})

	cmd, out := newTestCmd()
	require.NoError(t, runStatus(cmd, nil))
	assert.Contains(t, out.String(), "PROJ-9")
	assert.Contains(t, out.String(), "passthrough")
	assert.Contains(t, out.String(), dbPath)
}

func TestRunPrune(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cache.db")
	withConfig(t, fmt.Sprintf(quietConfig, dbPath))

	now := time.Now()
	seedStore(t, dbPath,
		&model.SynthesizedResult{TaskID: "OLD-1", Synthesized: "x", BuiltAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour)},
		&model.SynthesizedResult{TaskID: "NEW-1", Synthesized: "y", BuiltAt: now, ExpiresAt: now.Add(time.Hour)},
	)

	cmd, out := newTestCmd()
	require.NoError(t, runPrune(cmd, nil))
	assert.Contains(t, out.String(), "Deleted 1 expired context(s).")

	prev := pruneTask
	pruneTask = "NEW-1"
	t.Cleanup(func() { pruneTask = prev })

	cmd, out = newTestCmd()
	require.NoError(t, runPrune(cmd, nil))
	assert.Contains(t, out.String(), "Deleted stored context for NEW-1.")

	cmd, out = newTestCmd()
	require.NoError(t, runPrune(cmd, nil))
	assert.Contains(t, out.String(), "No stored context for NEW-1.")
}

func TestRunStatus_WatchRejectsBadInterval(t *testing.T) {
	prevWatch, prevInterval := statusWatch, statusInterval
	statusWatch, statusInterval = true, 0
	t.Cleanup(func() { statusWatch, statusInterval = prevWatch, prevInterval })

	cmd, _ := newTestCmd()
	err := runStatus(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--interval must be positive")
}
