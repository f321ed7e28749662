package synthesis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/llm"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	prompts []string
	reply   func(prompt string) (string, error)
	closed  bool
}

func (f *fakeProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.reply == nil {
		return "synthesized", nil
	}
	return f.reply(prompt)
}
func (f *fakeProvider) Name() string { return "fake/test" }
func (f *fakeProvider) Close() error { f.closed = true; return nil }

var fixedNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func ticketContext() *model.TicketContext {
	comments := make([]model.Comment, 12)
	for i := range comments {
		comments[i] = model.Comment{
			Author:  fmt.Sprintf("dev%d", i),
			Body:    fmt.Sprintf("comment %d", i),
			Created: time.Date(2024, 3, 1+i, 9, 0, 0, 0, time.UTC),
		}
	}
	return &model.TicketContext{
		Ticket: &model.Ticket{
			ID:                 "PAY-42",
			Title:              "Retry failed webhooks",
			Status:             "In Progress",
			Assignee:           "Ada",
			Priority:           "High",
			Labels:             []string{"backend", "reliability"},
			Components:         []string{"payments-service"},
			Description:        "Webhooks are dropped on 5xx.",
			AcceptanceCriteria: "- retries 3 times",
		},
		Comments: comments,
		LinkedIssues: []model.LinkedIssue{
			{ID: "PAY-40", Title: "Webhook queue", Status: "Done", LinkType: "blocks"},
		},
	}
}

func fullContexts() map[string]model.SourceContext {
	return map[string]model.SourceContext{
		"jira": {SourceName: "jira", SourceType: model.SourceIssueTracker, Data: ticketContext(), FetchedAt: fixedNow},
		"fireflies": {SourceName: "fireflies", SourceType: model.SourceMeeting, FetchedAt: fixedNow, Data: &model.MeetingContext{
			Meetings: []model.MeetingExcerpt{{
				Title:        "Payments sync",
				Date:         time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
				Participants: []string{"Ada", "Lin"},
				Excerpt:      "Ada: we should retry with backoff.",
				Decisions:    []string{"Use exponential backoff"},
				ActionItems:  []string{"Lin to add metrics"},
			}},
		}},
		"local_docs": {SourceName: "local_docs", SourceType: model.SourceDocumentation, FetchedAt: fixedNow, Data: &model.DocsContext{
			Sections: []model.DocumentSection{
				{FilePath: "docs/architecture/payments.md", SectionTitle: model.StringPtr("Webhooks"), Content: "Handler lives in cmd/webhooks.", DocType: model.DocArchitecture},
				{FilePath: "CLAUDE.md", Content: "Wrap errors.", DocType: model.DocStandards},
				{FilePath: "docs/adr/001.md", SectionTitle: model.StringPtr("Decision"), Content: "Use a queue.", DocType: model.DocADR},
			},
		}},
		"slack": {SourceName: "slack", SourceType: model.SourceCommunication, FetchedAt: fixedNow},
	}
}

func TestFormatTicket(t *testing.T) {
	out := FormatTicket(ticketContext())

	assert.True(t, strings.HasPrefix(out, "## JIRA TICKET\n**ID:** PAY-42\n**Title:** Retry failed webhooks\n**Status:** In Progress"))
	assert.Contains(t, out, "**Priority:** High")
	assert.Contains(t, out, "**Labels:** backend, reliability")
	assert.Contains(t, out, "### Comments (12)")
	assert.Contains(t, out, "**dev0** (2024-03-01):\ncomment 0")
	assert.Contains(t, out, "**dev9** (2024-03-10):\ncomment 9")
	assert.NotContains(t, out, "comment 10")
	assert.Contains(t, out, "- [PAY-40] Webhook queue (Done) - blocks")
}

func TestBuildRawData(t *testing.T) {
	raw := BuildRawData(ExtractSources(fullContexts()), fixedNow)
	blocks := strings.Split(raw, blockSeparator)
	require.Len(t, blocks, 5)
	assert.True(t, strings.HasPrefix(blocks[0], "## JIRA TICKET"))
	assert.True(t, strings.HasPrefix(blocks[1], "## MEETING TRANSCRIPTS"))
	assert.True(t, strings.HasPrefix(blocks[2], "## ARCHITECTURE DOCS"))
	assert.True(t, strings.HasPrefix(blocks[3], "## CODING STANDARDS"))
	assert.True(t, strings.HasPrefix(blocks[4], "## OTHER DOCUMENTATION"))
	assert.Contains(t, blocks[3], "### CLAUDE.md")
	assert.Contains(t, blocks[4], "### [ADR] Decision")

	assert.Equal(t, "", BuildRawData(Sources{}, fixedNow))
}

func TestFormatVCS(t *testing.T) {
	merged := fixedNow.Add(-72 * time.Hour)
	out := FormatVCS(&model.VCSContext{
		RelatedPRs: []model.PullRequest{{
			Number: 7, Title: "Add retries", Author: "ada", State: "closed", MergedAt: &merged,
			ChangedFiles:   []string{"a", "b", "c", "d", "e", "f", "g"},
			ReviewComments: []model.ReviewComment{{Author: "lin", Body: strings.Repeat("x", 250)}},
		}},
		RecentPRs:     []model.PullRequest{{Number: 8, Title: "Tidy", MergedAt: &merged}},
		RelatedIssues: []model.Issue{{Number: 3, Title: "Flaky", State: "open", Labels: []string{"bug"}}},
	}, fixedNow)

	assert.Contains(t, out, "**PR #7**: Add retries (merged)")
	assert.Contains(t, out, "Changed: a, b, c, d, e (+2 more)")
	assert.Contains(t, out, "Review (@lin): "+strings.Repeat("x", 200)+"...")
	assert.Contains(t, out, "- PR #8: Tidy (3d ago)")
	assert.Contains(t, out, "- #3: Flaky (open) [bug]")
}

func newLLM(t *testing.T, cfg config.SynthesisConfig, f ProviderFactory) Plugin {
	t.Helper()
	cfg.Plugin = "llm"
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 3000
	}
	p, err := NewPlugin(cfg, WithClock(func() time.Time { return fixedNow }), WithProviderFactory(f))
	require.NoError(t, err)
	return p
}

func TestLLMPlugin_NoContext(t *testing.T) {
	p := newLLM(t, config.SynthesisConfig{}, func() (llm.Provider, error) {
		t.Fatal("provider must not be created without data")
		return nil, nil
	})
	out, err := p.Synthesize(context.Background(), "PAY-1", map[string]model.SourceContext{
		"slack": {SourceName: "slack"},
	})
	require.NoError(t, err)
	assert.Equal(t, "## Task: PAY-1\n\nNo context found for this task.", out)
}

func TestLLMPlugin_Generates(t *testing.T) {
	fake := &fakeProvider{}
	p := newLLM(t, config.SynthesisConfig{}, func() (llm.Provider, error) { return fake, nil })

	out, err := p.Synthesize(context.Background(), "PAY-42", fullContexts())
	require.NoError(t, err)
	assert.Equal(t, "synthesized", out)
	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "## Task: PAY-42 - Retry failed webhooks")
	assert.Contains(t, fake.prompts[0], "## JIRA TICKET")
	assert.NotContains(t, fake.prompts[0], "{raw_data}")

	require.NoError(t, p.Close())
	assert.True(t, fake.closed)
}

func TestLLMPlugin_Fallback(t *testing.T) {
	tests := []struct {
		name    string
		factory ProviderFactory
	}{
		{"missing key", func() (llm.Provider, error) { return nil, llm.ErrMissingAPIKey }},
		{"generation error", func() (llm.Provider, error) {
			return &fakeProvider{reply: func(string) (string, error) { return "", errors.New("boom") }}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newLLM(t, config.SynthesisConfig{}, tt.factory)
			out, err := p.Synthesize(context.Background(), "PAY-42", fullContexts())
			require.NoError(t, err)

			raw := BuildRawData(ExtractSources(fullContexts()), fixedNow)
			assert.Equal(t, "## Task: PAY-42\n\n*Note: LLM synthesis unavailable, showing raw context.*\n\n"+raw, out)
			assert.Contains(t, out, "Use exponential backoff")
			assert.Contains(t, out, "Wrap errors.")
		})
	}
}

func TestLLMPlugin_CustomPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("TASK={task_id} TITLE={title} {unknown}"), 0o644))

	fake := &fakeProvider{}
	p := newLLM(t, config.SynthesisConfig{PromptTemplate: path}, func() (llm.Provider, error) { return fake, nil })
	_, err := p.Synthesize(context.Background(), "PAY-42", fullContexts())
	require.NoError(t, err)
	assert.Equal(t, "TASK=PAY-42 TITLE=Retry failed webhooks {unknown}", fake.prompts[0])
}

func TestTemplatePlugin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brief.tmpl")
	tmpl := `# {{.TaskID}}
{{with .Ticket}}{{.Ticket.Title}} [{{join .Ticket.Labels ","}}]{{end}}
{{range .Docs.Sections}}- {{.FilePath}}
{{end}}`
	require.NoError(t, os.WriteFile(path, []byte(tmpl), 0o644))

	p, err := NewPlugin(config.SynthesisConfig{Plugin: "template", TemplatePath: path})
	require.NoError(t, err)
	out, err := p.Synthesize(context.Background(), "PAY-42", fullContexts())
	require.NoError(t, err)
	assert.Equal(t, "# PAY-42\nRetry failed webhooks [backend,reliability]\n- docs/architecture/payments.md\n- CLAUDE.md\n- docs/adr/001.md\n", out)
}

func TestTemplatePlugin_Errors(t *testing.T) {
	p, err := NewPlugin(config.SynthesisConfig{Plugin: "template", TemplatePath: filepath.Join(t.TempDir(), "missing.tmpl")})
	require.NoError(t, err)
	out, err := p.Synthesize(context.Background(), "PAY-1", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "## Task: PAY-1\n\nTemplate synthesis error: "))
}

func TestPassthroughPlugin(t *testing.T) {
	p, err := NewPlugin(config.SynthesisConfig{Plugin: "passthrough"}, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	out, err := p.Synthesize(context.Background(), "PAY-42", fullContexts())
	require.NoError(t, err)
	fire := strings.Index(out, "### Source: fireflies (meeting)")
	jira := strings.Index(out, "### Source: jira (issue_tracker)")
	docs := strings.Index(out, "### Source: local_docs (documentation)")
	require.True(t, fire > 0 && jira > 0 && docs > 0)
	assert.Less(t, fire, jira)
	assert.Less(t, jira, docs)
	assert.NotContains(t, out, "### Source: slack")

	empty, err := p.Synthesize(context.Background(), "PAY-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "## Task: PAY-1\n\nNo context data available.", empty)
}

func TestNewPlugin_Unknown(t *testing.T) {
	_, err := NewPlugin(config.SynthesisConfig{Plugin: "magic"})
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestMultiPass(t *testing.T) {
	fake := &fakeProvider{reply: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Combine these extracted facts"):
			return "FINAL", nil
		case strings.Contains(prompt, "Jira Ticket Data"):
			return "TICKET FACTS", nil
		case strings.Contains(prompt, "Meeting Excerpts"):
			return "MEETING FACTS", nil
		case strings.Contains(prompt, "Documentation:"):
			return "DOC FACTS", nil
		}
		return "", errors.New("unexpected prompt")
	}}
	s := ExtractSources(fullContexts())

	out, err := MultiPass(context.Background(), fake, "PAY-42", s.Ticket, s.Meetings, s.Docs, 3000)
	require.NoError(t, err)
	assert.Equal(t, "FINAL", out)
	require.Len(t, fake.prompts, 4)
	combined := fake.prompts[3]
	assert.Contains(t, combined, "TICKET FACTS")
	assert.Contains(t, combined, "MEETING FACTS")
	assert.Contains(t, combined, "DOC FACTS")
	assert.Contains(t, fake.prompts[0], "comment 11", "extraction sees every comment")
}

func TestMultiPass_SkipsEmptySourcesAndFails(t *testing.T) {
	fake := &fakeProvider{}
	_, err := MultiPass(context.Background(), fake, "PAY-42", ticketContext(), nil, nil, 3000)
	require.NoError(t, err)
	require.Len(t, fake.prompts, 2)
	assert.Contains(t, fake.prompts[1], "No meeting discussions found.")
	assert.Contains(t, fake.prompts[1], "No relevant documentation found.")

	failing := &fakeProvider{reply: func(string) (string, error) { return "", errors.New("down") }}
	_, err = MultiPass(context.Background(), failing, "PAY-42", ticketContext(), nil, nil, 3000)
	assert.Error(t, err)
}
