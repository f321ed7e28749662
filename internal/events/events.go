// Package events publishes preprocessing lifecycle events on NATS so other
// devscontext processes can react when a prebuilt context changes.
//
// Events are published to subjects of the form:
//
//	{prefix}.preprocess.{task_id}.started
//	{prefix}.preprocess.{task_id}.completed
//	{prefix}.preprocess.{task_id}.failed
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/logging"
)

// Kind is the lifecycle step an event reports.
type Kind string

const (
	KindStarted   Kind = "started"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Event describes one step of a preprocessing run.
type Event struct {
	Kind         Kind      `json:"kind"`
	TaskID       string    `json:"task_id"`
	RunID        string    `json:"run_id,omitempty"`
	QualityScore float64   `json:"quality_score,omitempty"`
	Gaps         int       `json:"gaps,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher sends events. Implementations are safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// subjectToken replaces characters NATS treats as separators or
// wildcards so a task id always maps to exactly one token.
var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// Subject returns the subject an event for taskID is published on.
func Subject(prefix, taskID string, kind Kind) string {
	return fmt.Sprintf("%s.preprocess.%s.%s", prefix, subjectToken.Replace(taskID), kind)
}

// Bus publishes and subscribes over a NATS connection.
type Bus struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
}

// Connect dials cfg.URL. The connection retries in the background when the
// server is not up yet, so Connect only fails on invalid settings.
func Connect(cfg config.EventsConfig, logger *logging.Logger) (*Bus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("devscontext"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	return NewBus(nc, cfg.SubjectPrefix, logger), nil
}

// NewBus wraps an existing connection. The bus owns nc and closes it in Close.
func NewBus(nc *nats.Conn, prefix string, logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{conn: nc, prefix: prefix, logger: logger.Named("events")}
}

// Publish implements Publisher.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(b.prefix, e.TaskID, e.Kind)
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	b.logger.Debug(ctx, "event published", zap.String("subject", subject))
	return nil
}

// Subscribe calls fn for every event of kind, across all tasks. Messages
// that do not decode are logged and dropped.
func (b *Bus) Subscribe(kind Kind, fn func(Event)) (*nats.Subscription, error) {
	subject := fmt.Sprintf("%s.preprocess.*.%s", b.prefix, kind)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			b.logger.Warn(context.Background(), "dropping malformed event",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		fn(e)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Flush waits until the server has processed everything published so far.
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
