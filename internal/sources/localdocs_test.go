package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/docs"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDocs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"architecture/payments.md": "# Payments\n\n## Webhooks\n\nThe payments service delivers webhooks through a queue.\n",
		"standards/go.md":          "## Errors\n\nWrap errors with context.\n",
		"guides/onboarding.md":     "## Setup\n\nInstall the toolchain.\n",
	}
	for name, body := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

func newTestLocalDocs(t *testing.T, paths ...string) *LocalDocs {
	cfg := config.DocsConfig{Enabled: true, Paths: paths}
	engine := docs.NewEngine(cfg, nil)
	t.Cleanup(func() { _ = engine.Close() })
	d := NewLocalDocs(cfg, engine, nil)
	d.now = clock
	return d
}

func TestLocalDocs_FetchTaskContext(t *testing.T) {
	d := newTestLocalDocs(t, writeDocs(t))

	ticket := &model.Ticket{ID: "PAY-42", Title: "Retry failed webhooks", Components: []string{"payments"}}
	sc := d.FetchTaskContext(context.Background(), "PAY-42", ticket)
	require.False(t, sc.IsEmpty())

	dc, ok := sc.Data.(*model.DocsContext)
	require.True(t, ok)
	var types []model.DocType
	for _, s := range dc.Sections {
		types = append(types, s.DocType)
	}
	assert.Contains(t, types, model.DocArchitecture)
	assert.Contains(t, types, model.DocStandards)
	assert.Contains(t, sc.RawText, "## ARCHITECTURE DOCS")
	assert.Contains(t, sc.RawText, "## CODING STANDARDS")
	assert.Equal(t, false, sc.Metadata["semantic"])

	assert.True(t, d.FetchTaskContext(context.Background(), "PAY-42", nil).IsEmpty())
}

func TestLocalDocs_Search(t *testing.T) {
	d := newTestLocalDocs(t, writeDocs(t))

	results, err := d.Search(context.Background(), "webhooks queue", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Webhooks", results[0].Title)
	assert.InDelta(t, 1.0, results[0].RelevanceScore, 1e-9)
	assert.Equal(t, string(model.DocArchitecture), results[0].Metadata["doc_type"])
}

func TestLocalDocs_HealthCheck(t *testing.T) {
	assert.True(t, newTestLocalDocs(t, writeDocs(t)).HealthCheck(context.Background()))
	assert.False(t, newTestLocalDocs(t, filepath.Join(t.TempDir(), "absent")).HealthCheck(context.Background()))
}
