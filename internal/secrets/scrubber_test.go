package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devscontext/internal/config"
)

const openAIKey = "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"

func writeAllowlist(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowlist.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestScrub_RedactsKey(t *testing.T) {
	s, err := NewGitleaks(nil, nil)
	require.NoError(t, err)

	in := "## Task: PROJ-1\n\nUse the staging key:\nconst apiKey = \"" + openAIKey + "\"\n"
	out, sum := s.Scrub(in)

	assert.NotContains(t, out, openAIKey)
	assert.Contains(t, out, "[REDACTED:")
	assert.Contains(t, out, "## Task: PROJ-1")
	assert.True(t, sum.HasRedactions())
}

func TestScrub_CleanTextUnchanged(t *testing.T) {
	s, err := NewGitleaks(nil, nil)
	require.NoError(t, err)

	in := "## Task: PROJ-1\n\nAdd retry logic to the payment webhook handler."
	out, sum := s.Scrub(in)
	assert.Equal(t, in, out)
	assert.False(t, sum.HasRedactions())
	assert.Empty(t, s.Detect("   "))
}

func TestScrub_Allowlist(t *testing.T) {
	path := writeAllowlist(t, "[allowlist]\nstopwords = [\"abc123def456\"]\n")
	allow, err := LoadAllowlist(path)
	require.NoError(t, err)

	s, err := NewGitleaks(allow, nil)
	require.NoError(t, err)

	in := "const apiKey = \"" + openAIKey + "\""
	out, _ := s.Scrub(in)
	assert.Equal(t, in, out)
}

func TestNew(t *testing.T) {
	s, err := New(config.SecretsConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, s.Enabled())
	out, sum := s.Scrub(openAIKey)
	assert.Equal(t, openAIKey, out)
	assert.Zero(t, sum.TotalSecrets)

	s, err = New(config.SecretsConfig{Enabled: true}, nil)
	require.NoError(t, err)
	assert.True(t, s.Enabled())

	_, err = New(config.SecretsConfig{Enabled: true, AllowlistPath: writeAllowlist(t, "[allowlist\n")}, nil)
	assert.ErrorIs(t, err, ErrInvalidTOML)
}

func TestLoadAllowlist(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		want    *Allowlist
		wantErr error
	}{
		{
			name: "empty path",
			path: func(*testing.T) string { return "" },
			want: &Allowlist{},
		},
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.toml") },
			want: &Allowlist{},
		},
		{
			name: "regexes and stopwords",
			path: func(t *testing.T) string {
				return writeAllowlist(t, "[allowlist]\nregexes = ['''EXAMPLE_[A-Z]+''']\nstopwords = [\"dummy\"]\n")
			},
			want: &Allowlist{Regexes: []string{"EXAMPLE_[A-Z]+"}, StopWords: []string{"dummy"}},
		},
		{
			name: "bad regex",
			path: func(t *testing.T) string {
				return writeAllowlist(t, "[allowlist]\nregexes = ['''[unclosed''']\n")
			},
			wantErr: ErrInvalidRegex,
		},
		{
			name:    "bad toml",
			path:    func(t *testing.T) string { return writeAllowlist(t, "allowlist = [") },
			wantErr: ErrInvalidTOML,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadAllowlist(tt.path(t))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Regexes, got.Regexes)
			assert.Equal(t, tt.want.StopWords, got.StopWords)
		})
	}
}

func TestMarker(t *testing.T) {
	assert.Equal(t, "[REDACTED:github-pat]", Marker("github-pat"))
	assert.True(t, strings.HasPrefix(Marker("x"), "[REDACTED:"))
}

func TestAllowlist_Allows(t *testing.T) {
	allow, err := LoadAllowlist(writeAllowlist(t, "[allowlist]\nregexes = ['''^sk-proj-abc''']\nstopwords = [\"DUMMY\"]\n"))
	require.NoError(t, err)

	assert.True(t, allow.Allows(openAIKey))
	assert.True(t, allow.Allows("token-dummy-value"))
	assert.False(t, allow.Allows("ghp_realvalue"))

	var none *Allowlist
	assert.False(t, none.Allows(openAIKey))
}
