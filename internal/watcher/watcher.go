// Package watcher polls the issue tracker for tickets that reached the
// ready status and hands each new one to the preprocessing pipeline.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/logging"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/sources"
)

// MaxResults caps the tickets returned by one poll.
const MaxResults = 50

// ErrNoTicketSource is returned when the watcher has nothing to poll.
var ErrNoTicketSource = errors.New("watcher: no ticket source configured")

// Processor builds context for one ticket.
type Processor interface {
	Process(ctx context.Context, taskID string) (*model.SynthesizedResult, error)
}

// Watcher polls for ready tickets. A ticket is processed at most once per
// watcher lifetime unless ClearProcessed is called.
type Watcher struct {
	cfg      config.PreprocessorConfig
	tickets  sources.TicketSource
	pipeline Processor
	interval time.Duration
	logger   *logging.Logger

	mu        sync.Mutex
	processed map[string]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval overrides the configured poll interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) { w.interval = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher. tickets may be nil, in which case every poll
// fails with ErrNoTicketSource.
func New(cfg config.PreprocessorConfig, tickets sources.TicketSource, pipeline Processor, opts ...Option) *Watcher {
	w := &Watcher{
		cfg:       cfg,
		tickets:   tickets,
		pipeline:  pipeline,
		interval:  cfg.Trigger.PollInterval(),
		logger:    logging.NewNop(),
		processed: make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.interval <= 0 {
		w.interval = 5 * time.Minute
	}
	w.logger = w.logger.Named("watcher")
	return w
}

// BuildJQL selects tickets in the target status updated within the last
// hour, so tickets that moved between polls are not missed.
func BuildJQL(cfg config.PreprocessorConfig) string {
	var clauses []string
	switch len(cfg.JiraProject) {
	case 0:
	case 1:
		clauses = append(clauses, fmt.Sprintf("project = %q", cfg.JiraProject[0]))
	default:
		clauses = append(clauses, fmt.Sprintf("project IN (%s)", strings.Join(cfg.JiraProject, ", ")))
	}
	status := strings.ReplaceAll(cfg.JiraStatus, `"`, `\"`)
	clauses = append(clauses, `status = "`+status+`"`, "updated >= -1h")
	return strings.Join(clauses, " AND ") + " ORDER BY updated DESC"
}

// PollOnce returns the ready tickets not processed yet.
func (w *Watcher) PollOnce(ctx context.Context) ([]string, error) {
	if w.tickets == nil {
		return nil, ErrNoTicketSource
	}
	jql := BuildJQL(w.cfg)
	keys, err := w.tickets.SearchJQL(ctx, jql, MaxResults)
	if err != nil {
		return nil, fmt.Errorf("polling %s: %w", w.tickets.Name(), err)
	}

	w.mu.Lock()
	var fresh []string
	for _, k := range keys {
		if _, done := w.processed[k]; !done {
			fresh = append(fresh, k)
		}
	}
	w.mu.Unlock()

	if len(fresh) > 0 {
		w.logger.Info(ctx, "found new tickets", zap.Int("count", len(fresh)), zap.Strings("tickets", fresh))
	}
	return fresh, nil
}

// ProcessTicket runs the pipeline for taskID and records it on success.
func (w *Watcher) ProcessTicket(ctx context.Context, taskID string) bool {
	ctx = logging.WithTaskID(ctx, taskID)
	w.logger.Info(ctx, "processing ticket")
	if _, err := w.pipeline.Process(ctx, taskID); err != nil {
		w.logger.Error(ctx, "failed to process ticket", zap.Error(err))
		return false
	}
	w.mu.Lock()
	w.processed[taskID] = struct{}{}
	w.mu.Unlock()
	w.logger.Info(ctx, "ticket processed")
	return true
}

// RunOnce polls once and processes every new ticket. It returns how many
// succeeded.
func (w *Watcher) RunOnce(ctx context.Context) (int, error) {
	fresh, err := w.PollOnce(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range fresh {
		if ctx.Err() != nil || w.stopped() {
			break
		}
		if w.ProcessTicket(ctx, id) {
			n++
		}
	}
	w.logger.Info(ctx, "poll cycle complete", zap.Int("processed", n), zap.Int("total", len(fresh)))
	return n, ctx.Err()
}

// Run polls immediately and then once per interval until Stop is called
// or ctx is done. Poll failures are logged and retried next interval.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "starting watcher",
		zap.Duration("interval", w.interval),
		zap.String("jira_status", w.cfg.JiraStatus),
		zap.Strings("jira_project", w.cfg.JiraProject))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if w.stopped() {
			break
		}
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error(ctx, "poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "watcher stopped: context canceled")
			return nil
		case <-w.stopCh:
			w.logger.Info(ctx, "watcher stopped: stop requested")
			return nil
		case <-ticker.C:
		}
	}
	w.logger.Info(ctx, "watcher stopped: stop requested")
	return nil
}

// Stop signals Run to exit after the current cycle.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Watcher) stopped() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// ProcessedCount returns how many distinct tickets were processed.
func (w *Watcher) ProcessedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.processed)
}

// ClearProcessed forgets processed tickets so the next poll can pick
// them up again.
func (w *Watcher) ClearProcessed() {
	w.mu.Lock()
	w.processed = make(map[string]struct{})
	w.mu.Unlock()
	w.logger.Debug(context.Background(), "cleared processed tickets")
}
