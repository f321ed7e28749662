package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/synthesis"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	jiraAPIPath     = "/rest/api/3"
	jiraMaxComments = 50
	jiraFields      = "summary,description,status,priority,assignee,labels,components,issuetype,created,updated"
)

var jiraTimeLayouts = []string{"2006-01-02T15:04:05.000-0700", time.RFC3339Nano}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      *jiraNamed      `json:"status"`
		Priority    *jiraNamed      `json:"priority"`
		IssueType   *jiraNamed      `json:"issuetype"`
		Assignee    *jiraUser       `json:"assignee"`
		Labels      []string        `json:"labels"`
		Components  []jiraNamed     `json:"components"`
		Created     string          `json:"created"`
		Updated     string          `json:"updated"`
		IssueLinks  []jiraLink      `json:"issuelinks"`
	} `json:"fields"`
}

type jiraNamed struct {
	Name string `json:"name"`
}

type jiraUser struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

type jiraLink struct {
	Type struct {
		Name    string `json:"name"`
		Inward  string `json:"inward"`
		Outward string `json:"outward"`
	} `json:"type"`
	InwardIssue  *jiraIssue `json:"inwardIssue"`
	OutwardIssue *jiraIssue `json:"outwardIssue"`
}

type jiraComment struct {
	ID      string          `json:"id"`
	Author  jiraUser        `json:"author"`
	Body    json.RawMessage `json:"body"`
	Created string          `json:"created"`
}

// Jira reads tickets from the Jira Cloud REST API v3.
type Jira struct {
	cfg    config.JiraConfig
	client *restClient
	logger *zap.Logger
	now    func() time.Time
}

var _ TicketSource = (*Jira)(nil)

// NewJira creates a Jira adapter. httpClient may be nil.
func NewJira(cfg config.JiraConfig, logger *zap.Logger, httpClient *http.Client) *Jira {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := newRESTClient(cfg.BaseURL+jiraAPIPath, httpClient)
	c.auth = func(r *http.Request) { r.SetBasicAuth(cfg.Email, cfg.APIToken.Value()) }
	return &Jira{cfg: cfg, client: c, logger: logger.Named(NameJira), now: time.Now}
}

func (j *Jira) Name() string       { return NameJira }
func (j *Jira) SourceType() string { return model.SourceIssueTracker }

// FetchTicket returns ErrNotFound for unknown keys.
func (j *Jira) FetchTicket(ctx context.Context, id string) (*model.Ticket, error) {
	start := time.Now()
	var issue jiraIssue
	err := j.client.get(ctx, "/issue/"+url.PathEscape(id), url.Values{"fields": {jiraFields}}, &issue)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			j.logger.Warn("jira ticket not found", zap.String("task_id", id))
			return nil, fmt.Errorf("jira ticket %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching jira ticket %s: %w", id, err)
	}
	j.logger.Info("fetched jira ticket", zap.String("task_id", id), zap.Duration("duration", time.Since(start)))
	return parseTicket(issue), nil
}

// FetchComments returns up to 50 comments, newest first.
func (j *Jira) FetchComments(ctx context.Context, id string) ([]model.Comment, error) {
	var resp struct {
		Comments []jiraComment `json:"comments"`
	}
	q := url.Values{"maxResults": {strconv.Itoa(jiraMaxComments)}, "orderBy": {"-created"}}
	if err := j.client.get(ctx, "/issue/"+url.PathEscape(id)+"/comment", q, &resp); err != nil {
		return nil, fmt.Errorf("fetching comments of %s: %w", id, err)
	}
	out := make([]model.Comment, 0, len(resp.Comments))
	for _, c := range resp.Comments {
		author := c.Author.DisplayName
		if author == "" {
			author = "Unknown"
		}
		out = append(out, model.Comment{Author: author, Body: adfText(c.Body), Created: parseJiraTime(c.Created)})
	}
	return out, nil
}

// FetchLinkedIssues reports each link with its direction-specific name,
// such as "blocks" or "is blocked by".
func (j *Jira) FetchLinkedIssues(ctx context.Context, id string) ([]model.LinkedIssue, error) {
	var issue jiraIssue
	if err := j.client.get(ctx, "/issue/"+url.PathEscape(id), url.Values{"fields": {"issuelinks"}}, &issue); err != nil {
		return nil, fmt.Errorf("fetching links of %s: %w", id, err)
	}
	out := []model.LinkedIssue{}
	for _, l := range issue.Fields.IssueLinks {
		other, kind := l.OutwardIssue, l.Type.Outward
		if other == nil {
			other, kind = l.InwardIssue, l.Type.Inward
		}
		if other == nil {
			continue
		}
		if kind == "" {
			kind = l.Type.Name
		}
		status := "Unknown"
		if other.Fields.Status != nil {
			status = other.Fields.Status.Name
		}
		out = append(out, model.LinkedIssue{ID: other.Key, Title: other.Fields.Summary, Status: status, LinkType: kind})
	}
	return out, nil
}

// FetchFullContext runs the three fetches in parallel. Comment and link
// failures degrade to empty lists.
func (j *Jira) FetchFullContext(ctx context.Context, id string) (*model.TicketContext, error) {
	tc := &model.TicketContext{Comments: []model.Comment{}, LinkedIssues: []model.LinkedIssue{}}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := j.FetchTicket(gctx, id)
		tc.Ticket = t
		return err
	})
	g.Go(func() error {
		comments, err := j.FetchComments(gctx, id)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				j.logger.Warn("jira comments unavailable", zap.String("task_id", id), zap.Error(err))
			}
			return nil
		}
		tc.Comments = comments
		return nil
	})
	g.Go(func() error {
		links, err := j.FetchLinkedIssues(gctx, id)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				j.logger.Warn("jira links unavailable", zap.String("task_id", id), zap.Error(err))
			}
			return nil
		}
		tc.LinkedIssues = links
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	j.logger.Info("assembled ticket context",
		zap.String("task_id", id),
		zap.Int("comment_count", len(tc.Comments)),
		zap.Int("linked_count", len(tc.LinkedIssues)))
	return tc, nil
}

// SearchJQL returns matching issue keys in the order Jira reports them.
func (j *Jira) SearchJQL(ctx context.Context, jql string, limit int) ([]string, error) {
	issues, err := j.search(ctx, jql, limit, "key")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(issues))
	for _, is := range issues {
		keys = append(keys, is.Key)
	}
	return keys, nil
}

func (j *Jira) search(ctx context.Context, jql string, limit int, fields string) ([]jiraIssue, error) {
	var resp struct {
		Issues []jiraIssue `json:"issues"`
	}
	q := url.Values{"jql": {jql}, "maxResults": {strconv.Itoa(limit)}, "fields": {fields}}
	if err := j.client.get(ctx, "/search", q, &resp); err != nil {
		return nil, fmt.Errorf("jira search: %w", err)
	}
	return resp.Issues, nil
}

func (j *Jira) FetchTaskContext(ctx context.Context, taskID string, _ *model.Ticket) model.SourceContext {
	tc, err := j.FetchFullContext(ctx, taskID)
	if err != nil {
		j.logger.Warn("jira context unavailable", zap.String("task_id", taskID), zap.Error(err))
		return emptyContext(j, j.now(), map[string]any{"task_id": taskID, "error": err.Error()})
	}
	return model.SourceContext{
		SourceName: NameJira,
		SourceType: model.SourceIssueTracker,
		Data:       tc,
		RawText:    synthesis.FormatTicket(tc),
		Metadata: map[string]any{
			"task_id":            taskID,
			"status":             tc.Ticket.Status,
			"comment_count":      len(tc.Comments),
			"linked_issue_count": len(tc.LinkedIssues),
		},
		FetchedAt: j.now(),
	}
}

// Search runs a full-text JQL query.
func (j *Jira) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	jql := fmt.Sprintf(`text ~ "%s" ORDER BY updated DESC`, strings.ReplaceAll(query, `"`, `\"`))
	issues, err := j.search(ctx, jql, limit, "summary,status,description")
	if err != nil {
		j.logger.Warn("jira search failed", zap.Error(err))
		return []model.SearchResult{}, nil
	}
	out := make([]model.SearchResult, 0, len(issues))
	for _, is := range issues {
		t := parseTicket(is)
		out = append(out, model.SearchResult{
			SourceName: NameJira,
			SourceType: model.SourceIssueTracker,
			Title:      fmt.Sprintf("[%s] %s", t.ID, t.Title),
			Excerpt:    clipRunes(t.Description, 300),
			URL:        j.cfg.BaseURL + "/browse/" + t.ID,
			Metadata:   map[string]any{"status": t.Status},
		})
	}
	return out, nil
}

func (j *Jira) HealthCheck(ctx context.Context) bool {
	if !j.cfg.Configured() {
		j.logger.Warn("jira adapter missing required configuration")
		return false
	}
	if err := j.client.get(ctx, "/myself", nil, nil); err != nil {
		j.logger.Warn("jira health check failed", zap.Error(err))
		return false
	}
	return true
}

func (j *Jira) Close() error {
	j.client.close()
	return nil
}

func parseTicket(is jiraIssue) *model.Ticket {
	f := is.Fields
	desc, criteria := splitAcceptanceCriteria(adfText(f.Description))
	t := &model.Ticket{
		ID:                 is.Key,
		Title:              f.Summary,
		Description:        desc,
		AcceptanceCriteria: criteria,
		Status:             "Unknown",
		IssueType:          "Task",
		Labels:             append([]string{}, f.Labels...),
		Components:         []string{},
		Created:            parseJiraTime(f.Created),
		Updated:            parseJiraTime(f.Updated),
	}
	if f.Status != nil {
		t.Status = f.Status.Name
	}
	if f.Priority != nil {
		t.Priority = f.Priority.Name
	}
	if f.IssueType != nil {
		t.IssueType = f.IssueType.Name
	}
	if f.Assignee != nil {
		t.Assignee = f.Assignee.DisplayName
	}
	for _, c := range f.Components {
		t.Components = append(t.Components, c.Name)
	}
	return t
}

func parseJiraTime(v string) time.Time {
	for _, layout := range jiraTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
