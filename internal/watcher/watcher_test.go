package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/logging"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/sources"
)

type fakeTickets struct {
	mu    sync.Mutex
	keys  []string
	err   error
	jql   []string
	limit int
}

func (f *fakeTickets) Name() string       { return sources.NameJira }
func (f *fakeTickets) SourceType() string { return model.SourceIssueTracker }
func (f *fakeTickets) FetchTaskContext(context.Context, string, *model.Ticket) model.SourceContext {
	return model.SourceContext{}
}
func (f *fakeTickets) Search(context.Context, string, int) ([]model.SearchResult, error) {
	return nil, nil
}
func (f *fakeTickets) HealthCheck(context.Context) bool { return true }
func (f *fakeTickets) Close() error                     { return nil }
func (f *fakeTickets) FetchTicket(context.Context, string) (*model.Ticket, error) {
	return nil, sources.ErrNotFound
}
func (f *fakeTickets) FetchComments(context.Context, string) ([]model.Comment, error) {
	return nil, nil
}
func (f *fakeTickets) FetchLinkedIssues(context.Context, string) ([]model.LinkedIssue, error) {
	return nil, nil
}
func (f *fakeTickets) FetchFullContext(context.Context, string) (*model.TicketContext, error) {
	return nil, sources.ErrNotFound
}
func (f *fakeTickets) SearchJQL(_ context.Context, jql string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jql = append(f.jql, jql)
	f.limit = limit
	return f.keys, f.err
}

func (f *fakeTickets) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jql)
}

type fakePipeline struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (p *fakePipeline) Process(_ context.Context, taskID string) (*model.SynthesizedResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, taskID)
	if p.fail[taskID] {
		return nil, errors.New("ticket not found")
	}
	return &model.SynthesizedResult{TaskID: taskID}, nil
}

func (p *fakePipeline) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func testConfig(projects ...string) config.PreprocessorConfig {
	return config.PreprocessorConfig{
		Enabled:     true,
		JiraStatus:  "Ready for Development",
		JiraProject: projects,
		Trigger:     config.TriggerConfig{PollIntervalMinutes: 5},
	}
}

func TestBuildJQL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PreprocessorConfig
		want string
	}{
		{
			name: "single project",
			cfg:  testConfig("PROJ"),
			want: `project = "PROJ" AND status = "Ready for Development" AND updated >= -1h ORDER BY updated DESC`,
		},
		{
			name: "several projects",
			cfg:  testConfig("PROJ", "OPS"),
			want: `project IN (PROJ, OPS) AND status = "Ready for Development" AND updated >= -1h ORDER BY updated DESC`,
		},
		{
			name: "no project",
			cfg:  testConfig(),
			want: `status = "Ready for Development" AND updated >= -1h ORDER BY updated DESC`,
		},
		{
			name: "quoted status",
			cfg:  config.PreprocessorConfig{JiraStatus: `Ready "now"`, JiraProject: config.StringList{"PROJ"}},
			want: `project = "PROJ" AND status = "Ready \"now\"" AND updated >= -1h ORDER BY updated DESC`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildJQL(tt.cfg))
		})
	}
}

func TestPollOnce_SkipsProcessed(t *testing.T) {
	tickets := &fakeTickets{keys: []string{"PROJ-1", "PROJ-2"}}
	pipe := &fakePipeline{}
	w := New(testConfig("PROJ"), tickets, pipe)
	ctx := context.Background()

	fresh, err := w.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"PROJ-1", "PROJ-2"}, fresh)
	assert.Equal(t, MaxResults, tickets.limit)

	require.True(t, w.ProcessTicket(ctx, "PROJ-1"))
	fresh, err = w.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"PROJ-2"}, fresh)
	assert.Equal(t, 1, w.ProcessedCount())

	w.ClearProcessed()
	assert.Zero(t, w.ProcessedCount())
	fresh, err = w.PollOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestPollOnce_Errors(t *testing.T) {
	w := New(testConfig("PROJ"), nil, &fakePipeline{})
	_, err := w.PollOnce(context.Background())
	assert.ErrorIs(t, err, ErrNoTicketSource)

	boom := errors.New("jira: 503")
	w = New(testConfig("PROJ"), &fakeTickets{err: boom}, &fakePipeline{})
	_, err = w.PollOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunOnce(t *testing.T) {
	tickets := &fakeTickets{keys: []string{"PROJ-1", "PROJ-2", "PROJ-3"}}
	pipe := &fakePipeline{fail: map[string]bool{"PROJ-2": true}}
	log := logging.NewTestLogger()
	w := New(testConfig("PROJ"), tickets, pipe, WithLogger(log.Logger))

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"PROJ-1", "PROJ-2", "PROJ-3"}, pipe.processed())
	assert.Equal(t, 2, w.ProcessedCount())
	log.AssertLogged(t, zapcore.ErrorLevel, "failed to process ticket")
	log.AssertField(t, "failed to process ticket", "task_id", "PROJ-2")

	// The failed ticket is retried on the next cycle.
	n, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"PROJ-1", "PROJ-2", "PROJ-3", "PROJ-2"}, pipe.processed())
}

func TestRun_StopsOnStop(t *testing.T) {
	tickets := &fakeTickets{keys: []string{"PROJ-1"}}
	pipe := &fakePipeline{}
	w := New(testConfig("PROJ"), tickets, pipe, WithInterval(5*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool { return tickets.polls() >= 3 }, 2*time.Second, 5*time.Millisecond)
	w.Stop()
	w.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, []string{"PROJ-1"}, pipe.processed(), "processed tickets are not re-run")
}

func TestRun_StopsOnCancel(t *testing.T) {
	tickets := &fakeTickets{err: errors.New("jira: 503")}
	w := New(testConfig("PROJ"), tickets, &fakePipeline{}, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return tickets.polls() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
