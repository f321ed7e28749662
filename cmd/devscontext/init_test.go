package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devscontext/internal/config"
)

func setInitFlags(t *testing.T, dir string, force bool) {
	t.Helper()
	prevDir, prevForce := initDir, initForce
	initDir, initForce = dir, force
	t.Cleanup(func() { initDir, initForce = prevDir, prevForce })
}

func TestRenderConfig_Loads(t *testing.T) {
	tests := []struct {
		name      string
		repo      string
		wantRepos []string
		wantGH    bool
	}{
		{name: "no origin", repo: "", wantRepos: []string{}, wantGH: false},
		{name: "github origin", repo: "acme/widgets", wantRepos: []string{"acme/widgets"}, wantGH: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JIRA_EMAIL", "dev@example.com")
			t.Setenv("JIRA_API_TOKEN", "jira-token")

			path := filepath.Join(t.TempDir(), config.FileName)
			require.NoError(t, os.WriteFile(path, []byte(renderConfig(tt.repo)), 0o600))

			cfg, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, "dev@example.com", cfg.Sources.Jira.Email)
			assert.Equal(t, "jira-token", cfg.Sources.Jira.APIToken.Value())
			assert.Equal(t, tt.wantGH, cfg.Sources.GitHub.Enabled)
			assert.ElementsMatch(t, tt.wantRepos, cfg.Sources.GitHub.Repos)
			assert.Equal(t, "llm", cfg.Synthesis.Plugin)
			assert.Equal(t, 15, cfg.Cache.TTLMinutes)
			assert.Equal(t, []string{"./docs/", "./CLAUDE.md"}, cfg.Sources.Docs.Paths)
			assert.False(t, cfg.Events.Enabled)
			assert.True(t, cfg.Events.Embedded)
			assert.Equal(t, "devscontext-preprocess", cfg.Workflows.TaskQueue)
		})
	}
}

func TestRunInit_WritesFile(t *testing.T) {
	dir := t.TempDir()
	setInitFlags(t, dir, false)

	cmd, out := newTestCmd()
	require.NoError(t, runInit(cmd, nil))

	path := filepath.Join(dir, config.FileName)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Contains(t, out.String(), "Created "+path)
	assert.Contains(t, out.String(), "devscontext test --ticket")
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  max_size: 5\n"), 0o600))

	setInitFlags(t, dir, false)
	cmd, out := newTestCmd()
	require.NoError(t, runInit(cmd, nil))
	assert.Contains(t, out.String(), "already exists")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cache:\n  max_size: 5\n", string(data))

	setInitFlags(t, dir, true)
	cmd, _ = newTestCmd()
	require.NoError(t, runInit(cmd, nil))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sources:")
}

func TestRunInit_PrefillsGitHubRepo(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@github.com:acme/widgets.git"},
	})
	require.NoError(t, err)

	setInitFlags(t, dir, false)
	cmd, _ := newTestCmd()
	require.NoError(t, runInit(cmd, nil))

	data, err := os.ReadFile(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `- "acme/widgets"`)
}
