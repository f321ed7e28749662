// Package sources holds the adapters that fetch task context from issue
// trackers, meeting transcripts, chat, email, version control and local
// documentation. Adapters never fail a fetch: problems are logged and an
// empty context is returned so the other sources can still contribute.
package sources

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/model"
)

// Adapter names.
const (
	NameJira      = "jira"
	NameFireflies = "fireflies"
	NameSlack     = "slack"
	NameGmail     = "gmail"
	NameGitHub    = "github"
	NameLocalDocs = "local_docs"
)

const defaultHTTPTimeout = 30 * time.Second

// ErrNotFound is returned when the requested item does not exist.
var ErrNotFound = errors.New("not found")

// Adapter is a source of task context.
type Adapter interface {
	Name() string
	SourceType() string
	// FetchTaskContext gathers what the source knows about taskID. The
	// ticket, when known, lets secondary sources search by its keywords.
	FetchTaskContext(ctx context.Context, taskID string, ticket *model.Ticket) model.SourceContext
	// Search is a fast freeform lookup with no generation involved.
	Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error)
	HealthCheck(ctx context.Context) bool
	Close() error
}

// TicketSource is the primary issue tracker.
type TicketSource interface {
	Adapter
	FetchTicket(ctx context.Context, id string) (*model.Ticket, error)
	FetchComments(ctx context.Context, id string) ([]model.Comment, error)
	FetchLinkedIssues(ctx context.Context, id string) ([]model.LinkedIssue, error)
	// FetchFullContext fetches the ticket, comments and links in parallel.
	// Only a missing or failed ticket is an error.
	FetchFullContext(ctx context.Context, id string) (*model.TicketContext, error)
	// SearchJQL returns the keys of issues matching jql.
	SearchJQL(ctx context.Context, jql string, limit int) ([]string, error)
}

func emptyContext(a Adapter, now time.Time, meta map[string]any) model.SourceContext {
	return model.SourceContext{
		SourceName: a.Name(),
		SourceType: a.SourceType(),
		Metadata:   meta,
		FetchedAt:  now,
	}
}
