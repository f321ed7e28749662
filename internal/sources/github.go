package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/synthesis"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	githubMaxRecent   = 5
	githubMaxComments = 10
	githubMaxFiles    = 100
	githubExcerpt     = 200
)

// GitHub finds pull requests and issues mentioning a task, plus recently
// merged pull requests touching the ticket's service area.
type GitHub struct {
	cfg    config.GitHubConfig
	client *github.Client
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewGitHub creates the version-control adapter. httpClient is the base
// transport; the token is layered on top of it.
func NewGitHub(cfg config.GitHubConfig, logger *zap.Logger, httpClient *http.Client) (*GitHub, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	hc := httpClient
	if cfg.Token.IsSet() {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()}))
		hc.Timeout = httpClient.Timeout
	}
	client := github.NewClient(hc)
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHub{
		cfg:    cfg,
		client: client,
		http:   hc,
		logger: logger.Named(NameGitHub),
		now:    time.Now,
	}, nil
}

func (g *GitHub) Name() string       { return NameGitHub }
func (g *GitHub) SourceType() string { return model.SourceVCS }

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repo %q, want owner/name", repo)
	}
	return owner, name, nil
}

// scoped appends the repo and type qualifiers unless q already has them.
func scoped(q, repo, kind string) string {
	if !strings.Contains(q, "repo:"+repo) {
		q += " repo:" + repo
	}
	if !strings.Contains(q, "type:"+kind) {
		q += " type:" + kind
	}
	return strings.TrimSpace(q)
}

func (g *GitHub) searchIssues(ctx context.Context, q string, limit int) ([]*github.Issue, error) {
	opts := &github.SearchOptions{Sort: "updated", ListOptions: github.ListOptions{PerPage: limit}}
	res, _, err := g.client.Search.Issues(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("github search %q: %w", q, err)
	}
	return res.Issues, nil
}

func (g *GitHub) searchPRs(ctx context.Context, repo, q string, limit int) []model.PullRequest {
	items, err := g.searchIssues(ctx, scoped(q, repo, "pr"), limit)
	if err != nil {
		g.logger.Warn("github pr search failed", zap.String("repo", repo), zap.Error(err))
		return nil
	}
	var prs []model.PullRequest
	for _, it := range items {
		if pr, err := g.pullRequest(ctx, repo, it.GetNumber()); err == nil {
			prs = append(prs, pr)
		} else {
			g.logger.Warn("github pr details unavailable", zap.String("repo", repo), zap.Int("number", it.GetNumber()), zap.Error(err))
		}
	}
	return prs
}

func (g *GitHub) searchRepoIssues(ctx context.Context, repo, q string, limit int) []model.Issue {
	items, err := g.searchIssues(ctx, scoped(q, repo, "issue"), limit)
	if err != nil {
		g.logger.Warn("github issue search failed", zap.String("repo", repo), zap.Error(err))
		return nil
	}
	var out []model.Issue
	for _, it := range items {
		if it.IsPullRequest() {
			continue
		}
		is := model.Issue{
			Number:    it.GetNumber(),
			Title:     it.GetTitle(),
			Author:    it.GetUser().GetLogin(),
			State:     it.GetState(),
			URL:       it.GetHTMLURL(),
			CreatedAt: it.GetCreatedAt().Time,
			Labels:    []string{},
			Body:      it.GetBody(),
		}
		for _, l := range it.Labels {
			is.Labels = append(is.Labels, l.GetName())
		}
		out = append(out, is)
	}
	return out
}

// pullRequest loads a pull request with its changed files and review
// comments.
func (g *GitHub) pullRequest(ctx context.Context, repo string, number int) (model.PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return model.PullRequest{}, err
	}
	pr, _, err := g.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return model.PullRequest{}, err
	}
	out := model.PullRequest{
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Author:         pr.GetUser().GetLogin(),
		State:          pr.GetState(),
		URL:            pr.GetHTMLURL(),
		CreatedAt:      pr.GetCreatedAt().Time,
		ChangedFiles:   []string{},
		ReviewComments: []model.ReviewComment{},
		Body:           pr.GetBody(),
	}
	if pr.MergedAt != nil {
		t := pr.MergedAt.Time
		out.MergedAt = &t
		out.State = "merged"
	}

	files, _, err := g.client.PullRequests.ListFiles(ctx, owner, name, number, &github.ListOptions{PerPage: githubMaxFiles})
	if err != nil {
		g.logger.Debug("github pr files unavailable", zap.Int("number", number), zap.Error(err))
	}
	for _, f := range files {
		out.ChangedFiles = append(out.ChangedFiles, f.GetFilename())
	}

	comments, _, err := g.client.PullRequests.ListComments(ctx, owner, name, number,
		&github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: githubMaxComments}})
	if err != nil {
		g.logger.Debug("github pr comments unavailable", zap.Int("number", number), zap.Error(err))
	}
	for _, c := range comments {
		out.ReviewComments = append(out.ReviewComments, model.ReviewComment{
			Author:    c.GetUser().GetLogin(),
			Body:      c.GetBody(),
			Path:      c.GetPath(),
			CreatedAt: c.GetCreatedAt().Time,
		})
	}
	return out, nil
}

func (g *GitHub) recentMerged(ctx context.Context, repo string) []model.PullRequest {
	since := g.now().UTC().AddDate(0, 0, -g.cfg.RecentPRDays).Format("2006-01-02")
	return g.searchPRs(ctx, repo, fmt.Sprintf("repo:%s type:pr is:merged merged:>=%s", repo, since), g.cfg.MaxPRs)
}

// FetchTaskContext collects, for every configured repository, the pull
// requests and issues mentioning taskID and recently merged pull requests.
// When the ticket names components or labels, recent pull requests are
// narrowed to those touching matching paths.
func (g *GitHub) FetchTaskContext(ctx context.Context, taskID string, ticket *model.Ticket) model.SourceContext {
	if len(g.cfg.Repos) == 0 {
		g.logger.Debug("github adapter has no repos configured")
		return emptyContext(g, g.now(), map[string]any{"task_id": taskID})
	}

	var related, recent []model.PullRequest
	issues := []model.Issue{}
	for _, repo := range g.cfg.Repos {
		related = append(related, g.searchPRs(ctx, repo, taskID, g.cfg.MaxPRs)...)
		issues = append(issues, g.searchRepoIssues(ctx, repo, taskID, g.cfg.MaxPRs)...)
		recent = append(recent, g.recentMerged(ctx, repo)...)
	}
	if ticket != nil && (len(ticket.Components) > 0 || len(ticket.Labels) > 0) {
		recent = filterByArea(recent, serviceAreaPaths(ticket))
	}

	related = dedupPRs(related)
	related = related[:min(len(related), g.cfg.MaxPRs)]
	taken := make(map[int]bool, len(related))
	for _, pr := range related {
		taken[pr.Number] = true
	}
	var rest []model.PullRequest
	for _, pr := range dedupPRs(recent) {
		if !taken[pr.Number] {
			rest = append(rest, pr)
		}
	}
	rest = rest[:min(len(rest), g.cfg.MaxPRs, githubMaxRecent)]

	vc := &model.VCSContext{RelatedPRs: related, RecentPRs: rest, RelatedIssues: issues}
	if vc.RelatedPRs == nil {
		vc.RelatedPRs = []model.PullRequest{}
	}
	if vc.RecentPRs == nil {
		vc.RecentPRs = []model.PullRequest{}
	}
	meta := map[string]any{
		"task_id":             taskID,
		"related_pr_count":    len(vc.RelatedPRs),
		"recent_pr_count":     len(vc.RecentPRs),
		"related_issue_count": len(vc.RelatedIssues),
	}
	if vc.Empty() {
		return emptyContext(g, g.now(), meta)
	}
	g.logger.Info("github context assembled",
		zap.String("task_id", taskID),
		zap.Int("related_prs", len(vc.RelatedPRs)),
		zap.Int("recent_prs", len(vc.RecentPRs)),
		zap.Int("related_issues", len(vc.RelatedIssues)))
	now := g.now()
	return model.SourceContext{
		SourceName: NameGitHub,
		SourceType: model.SourceVCS,
		Data:       vc,
		RawText:    synthesis.FormatVCS(vc, now),
		Metadata:   meta,
		FetchedAt:  now,
	}
}

// serviceAreaPaths maps components and labels to path fragments, e.g.
// "payments-service" to "payments" and "payment".
func serviceAreaPaths(t *model.Ticket) []string {
	seen := make(map[string]bool)
	var areas []string
	add := func(a string) {
		if a != "" && !seen[a] {
			seen[a] = true
			areas = append(areas, a)
		}
	}
	for _, c := range t.Components {
		clean := strings.ToLower(c)
		clean = strings.ReplaceAll(clean, "-service", "")
		clean = strings.ReplaceAll(clean, "_service", "")
		add(clean)
		if strings.HasSuffix(clean, "s") {
			add(strings.TrimSuffix(clean, "s"))
		} else {
			add(clean + "s")
		}
	}
	for _, l := range t.Labels {
		if hasAnyPrefix(l, "P", "bug", "feature", "enhancement") {
			continue
		}
		add(strings.ReplaceAll(strings.ToLower(l), "-", "/"))
	}
	return areas
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func filterByArea(prs []model.PullRequest, areas []string) []model.PullRequest {
	if len(areas) == 0 {
		return prs
	}
	var out []model.PullRequest
	for _, pr := range prs {
	files:
		for _, f := range pr.ChangedFiles {
			lf := strings.ToLower(f)
			for _, a := range areas {
				if strings.Contains(lf, a) {
					out = append(out, pr)
					break files
				}
			}
		}
	}
	return out
}

func dedupPRs(prs []model.PullRequest) []model.PullRequest {
	seen := make(map[int]bool, len(prs))
	var out []model.PullRequest
	for _, pr := range prs {
		if !seen[pr.Number] {
			seen[pr.Number] = true
			out = append(out, pr)
		}
	}
	return out
}

// Search splits limit between pull requests and issues in each repository.
func (g *GitHub) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	out := []model.SearchResult{}
	half := max(limit/2, 1)
	for _, repo := range g.cfg.Repos {
		items, err := g.searchIssues(ctx, scoped(query, repo, "pr"), half)
		if err != nil {
			g.logger.Warn("github search failed", zap.String("repo", repo), zap.Error(err))
		}
		for _, it := range items {
			out = append(out, githubResult(it, fmt.Sprintf("PR #%d: %s", it.GetNumber(), it.GetTitle()), repo, "pr"))
		}
		for _, is := range g.searchRepoIssues(ctx, repo, query, half) {
			out = append(out, model.SearchResult{
				SourceName: NameGitHub,
				SourceType: model.SourceVCS,
				Title:      fmt.Sprintf("Issue #%d: %s", is.Number, is.Title),
				Excerpt:    clipRunes(is.Body, githubExcerpt),
				URL:        is.URL,
				Metadata:   map[string]any{"repo": repo, "type": "issue", "state": is.State},
			})
		}
		if len(out) >= limit {
			break
		}
	}
	return out[:min(len(out), limit)], nil
}

func githubResult(it *github.Issue, title, repo, kind string) model.SearchResult {
	return model.SearchResult{
		SourceName: NameGitHub,
		SourceType: model.SourceVCS,
		Title:      title,
		Excerpt:    clipRunes(it.GetBody(), githubExcerpt),
		URL:        it.GetHTMLURL(),
		Metadata:   map[string]any{"repo": repo, "type": kind, "state": it.GetState()},
	}
}

func (g *GitHub) HealthCheck(ctx context.Context) bool {
	if !g.cfg.Token.IsSet() {
		g.logger.Warn("github adapter missing token")
		return false
	}
	if _, _, err := g.client.Users.Get(ctx, ""); err != nil {
		g.logger.Warn("github health check failed", zap.Error(err))
		return false
	}
	return true
}

func (g *GitHub) Close() error {
	g.http.CloseIdleConnections()
	return nil
}
