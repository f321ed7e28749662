package sources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/synthesis"
	"github.com/fyrsmithlabs/devscontext/internal/textutil"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	gmailAPIURL        = "https://gmail.googleapis.com/gmail/v1/users/me"
	gmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"
	gmailMaxThreads    = 10
	gmailMaxBody       = 2000
	gmailTitleKeywords = 3
)

var htmlTag = regexp.MustCompile(`<[^>]+>`)

// ErrNoGmailToken means no authorized token has been stored yet.
var ErrNoGmailToken = errors.New("gmail token not found; authorize the application and store the token first")

type gmailPart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

type gmailMessage struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"threadId"`
	LabelIDs     []string  `json:"labelIds"`
	Snippet      string    `json:"snippet"`
	InternalDate string    `json:"internalDate"`
	Payload      gmailPart `json:"payload"`
}

// Gmail reads email threads mentioning a task through the Gmail REST API.
// It authenticates with an OAuth token previously stored at TokenPath;
// refreshed tokens are written back to the same file.
type Gmail struct {
	cfg     config.GmailConfig
	baseURL string
	base    *http.Client
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	client *restClient
}

// NewGmail creates the email adapter. httpClient is the transport used for
// both token refresh and API calls; baseURL may be empty.
func NewGmail(cfg config.GmailConfig, logger *zap.Logger, httpClient *http.Client, baseURL string) *Gmail {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = gmailAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Gmail{
		cfg:     cfg,
		baseURL: baseURL,
		base:    httpClient,
		logger:  logger.Named(NameGmail),
		now:     time.Now,
	}
}

func (g *Gmail) Name() string       { return NameGmail }
func (g *Gmail) SourceType() string { return model.SourceEmail }

// oauthConfig reads the installed-application client credentials.
func (g *Gmail) oauthConfig() (*oauth2.Config, error) {
	data, err := os.ReadFile(g.cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("reading gmail credentials: %w", err)
	}
	var creds map[string]struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		RedirectURIs []string `json:"redirect_uris"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing gmail credentials: %w", err)
	}
	c, ok := creds["installed"]
	if !ok {
		c, ok = creds["web"]
	}
	if !ok || c.ClientID == "" {
		return nil, errors.New("gmail credentials missing client_id")
	}
	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     endpoints.Google,
		Scopes:       []string{gmailReadonlyScope},
	}
	if len(c.RedirectURIs) > 0 {
		conf.RedirectURL = c.RedirectURIs[0]
	}
	return conf, nil
}

func (g *Gmail) connect(ctx context.Context) (*restClient, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	if g.cfg.CredentialsPath == "" {
		return nil, errors.New("gmail credentials_path not configured")
	}
	conf, err := g.oauthConfig()
	if err != nil {
		return nil, err
	}
	tok, err := readToken(g.cfg.TokenPath)
	if err != nil {
		return nil, err
	}

	// The token source outlives ctx, so it gets its own background context
	// carrying the configured transport.
	octx := context.WithValue(context.Background(), oauth2.HTTPClient, g.base)
	ts := &savingTokenSource{
		src:  conf.TokenSource(octx, tok),
		path: g.cfg.TokenPath,
		last: tok.AccessToken,
		log:  g.logger,
	}
	hc := oauth2.NewClient(octx, oauth2.ReuseTokenSource(tok, ts))
	hc.Timeout = g.base.Timeout
	g.client = newRESTClient(g.baseURL, hc)
	return g.client, nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoGmailToken
	}
	if err != nil {
		return nil, fmt.Errorf("reading gmail token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing gmail token: %w", err)
	}
	return &tok, nil
}

// savingTokenSource persists tokens whenever the access token changes.
type savingTokenSource struct {
	src  oauth2.TokenSource
	path string
	log  *zap.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	s.last = tok.AccessToken
	data, err := json.Marshal(tok)
	if err == nil {
		if err = os.MkdirAll(filepath.Dir(s.path), 0o700); err == nil {
			err = os.WriteFile(s.path, data, 0o600)
		}
	}
	if err != nil {
		s.log.Warn("failed to persist refreshed gmail token", zap.Error(err))
	}
	return tok, nil
}

// query scopes q to the configured search window and labels.
func (g *Gmail) query(q string) string {
	full := strings.TrimSpace(q + " " + g.cfg.SearchScope)
	if len(g.cfg.Labels) == 0 {
		return full
	}
	labels := make([]string, len(g.cfg.Labels))
	for i, l := range g.cfg.Labels {
		labels[i] = "label:" + l
	}
	return fmt.Sprintf("(%s) (%s)", full, strings.Join(labels, " OR "))
}

type gmailRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

func (g *Gmail) searchRefs(ctx context.Context, c *restClient, q string, limit int) ([]gmailRef, error) {
	var resp struct {
		Messages []gmailRef `json:"messages"`
	}
	params := url.Values{"q": {g.query(q)}, "maxResults": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/messages", params, &resp); err != nil {
		return nil, fmt.Errorf("gmail search: %w", err)
	}
	return resp.Messages, nil
}

func (g *Gmail) thread(ctx context.Context, c *restClient, id string) ([]gmailMessage, error) {
	var resp struct {
		Messages []gmailMessage `json:"messages"`
	}
	if err := c.get(ctx, "/threads/"+url.PathEscape(id), url.Values{"format": {"full"}}, &resp); err != nil {
		return nil, fmt.Errorf("gmail thread %s: %w", id, err)
	}
	return resp.Messages, nil
}

// FetchTaskContext searches for the task id and title keywords, then
// loads each matching thread in full.
func (g *Gmail) FetchTaskContext(ctx context.Context, taskID string, ticket *model.Ticket) model.SourceContext {
	c, err := g.connect(ctx)
	if err != nil {
		g.logger.Warn("gmail unavailable", zap.String("task_id", taskID), zap.Error(err))
		return emptyContext(g, g.now(), nil)
	}

	terms := []string{taskID}
	if ticket != nil {
		terms = append(terms, textutil.TopKeywords(ticket.Title, gmailTitleKeywords)...)
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = strconv.Quote(t)
	}
	refs, err := g.searchRefs(ctx, c, strings.Join(quoted, " OR "), g.cfg.MaxResults)
	if err != nil {
		g.logger.Warn("gmail search failed", zap.String("task_id", taskID), zap.Error(err))
		return emptyContext(g, g.now(), map[string]any{"task_id": taskID})
	}

	var threadIDs []string
	seen := make(map[string]bool)
	for _, r := range refs {
		if r.ThreadID != "" && !seen[r.ThreadID] {
			seen[r.ThreadID] = true
			threadIDs = append(threadIDs, r.ThreadID)
		}
	}

	ec := &model.EmailContext{Threads: []model.EmailThread{}}
	msgCount := 0
	for _, id := range threadIDs[:min(len(threadIDs), gmailMaxThreads)] {
		raw, err := g.thread(ctx, c, id)
		if err != nil {
			g.logger.Warn("gmail thread unavailable", zap.String("thread_id", id), zap.Error(err))
			continue
		}
		if len(raw) == 0 {
			continue
		}
		th := model.EmailThread{ID: id}
		participants := make(map[string]bool)
		for _, m := range raw {
			msg := g.parseMessage(m)
			th.Messages = append(th.Messages, msg)
			participants[msg.Sender] = true
			for _, r := range msg.Recipients {
				participants[r] = true
			}
			if msg.Date.After(th.LatestDate) {
				th.LatestDate = msg.Date
			}
		}
		th.Subject = th.Messages[0].Subject
		for p := range participants {
			if p != "" {
				th.Participants = append(th.Participants, p)
			}
		}
		sort.Strings(th.Participants)
		msgCount += len(th.Messages)
		ec.Threads = append(ec.Threads, th)
	}
	sort.SliceStable(ec.Threads, func(i, j int) bool {
		return ec.Threads[i].LatestDate.After(ec.Threads[j].LatestDate)
	})

	meta := map[string]any{"task_id": taskID, "thread_count": len(ec.Threads), "message_count": msgCount}
	if len(ec.Threads) == 0 {
		return emptyContext(g, g.now(), meta)
	}
	g.logger.Info("gmail context assembled",
		zap.String("task_id", taskID),
		zap.Int("thread_count", len(ec.Threads)),
		zap.Int("message_count", msgCount))
	return model.SourceContext{
		SourceName: NameGmail,
		SourceType: model.SourceEmail,
		Data:       ec,
		RawText:    synthesis.FormatEmail(ec),
		Metadata:   meta,
		FetchedAt:  g.now(),
	}
}

func (g *Gmail) parseMessage(m gmailMessage) model.EmailMessage {
	headers := make(map[string]string, len(m.Payload.Headers))
	for _, h := range m.Payload.Headers {
		headers[strings.ToLower(h.Name)] = h.Value
	}

	msg := model.EmailMessage{
		ID:         m.ID,
		ThreadID:   m.ThreadID,
		Subject:    headers["subject"],
		Sender:     headers["from"],
		Recipients: splitAddresses(headers["to"]),
		CC:         splitAddresses(headers["cc"]),
		Snippet:    m.Snippet,
		Body:       textutil.TruncateText(extractBody(m.Payload), gmailMaxBody),
		Labels:     m.LabelIDs,
	}
	if msg.Subject == "" {
		msg.Subject = "(no subject)"
	}
	if addr, err := mail.ParseAddress(headers["from"]); err == nil {
		msg.Sender = addr.Address
		msg.SenderName = addr.Name
	}
	if d, err := mail.ParseDate(headers["date"]); err == nil {
		msg.Date = d.UTC()
	} else if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil {
		msg.Date = time.UnixMilli(ms).UTC()
	} else {
		msg.Date = g.now().UTC()
	}
	return msg
}

func splitAddresses(v string) []string {
	var out []string
	for _, a := range strings.Split(v, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// extractBody prefers a text/plain part anywhere in the tree and falls
// back to a tag-stripped text/html part.
func extractBody(p gmailPart) string {
	if data := findPart(p, "text/plain"); data != "" {
		return decodeBase64URL(data)
	}
	if data := findPart(p, "text/html"); data != "" {
		return strings.TrimSpace(htmlTag.ReplaceAllString(decodeBase64URL(data), " "))
	}
	return ""
}

func findPart(p gmailPart, mimeType string) string {
	if p.MimeType == mimeType && p.Body.Data != "" {
		return p.Body.Data
	}
	for _, part := range p.Parts {
		if data := findPart(part, mimeType); data != "" {
			return data
		}
	}
	return ""
}

func decodeBase64URL(s string) string {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return ""
		}
	}
	return strings.ToValidUTF8(string(data), "�")
}

func (g *Gmail) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	out := []model.SearchResult{}
	c, err := g.connect(ctx)
	if err != nil {
		g.logger.Warn("gmail unavailable", zap.Error(err))
		return out, nil
	}
	refs, err := g.searchRefs(ctx, c, query, limit)
	if err != nil {
		g.logger.Warn("gmail search failed", zap.Error(err))
		return out, nil
	}
	for _, r := range refs {
		var m gmailMessage
		q := url.Values{"format": {"metadata"}, "metadataHeaders": {"Subject", "From", "Date"}}
		if err := c.get(ctx, "/messages/"+url.PathEscape(r.ID), q, &m); err != nil {
			g.logger.Debug("gmail message unavailable", zap.String("message_id", r.ID), zap.Error(err))
			continue
		}
		msg := g.parseMessage(m)
		out = append(out, model.SearchResult{
			SourceName: NameGmail,
			SourceType: model.SourceEmail,
			Title:      msg.Subject,
			Excerpt:    msg.Snippet,
			URL:        "https://mail.google.com/mail/u/0/#inbox/" + msg.ThreadID,
			Metadata: map[string]any{
				"thread_id": msg.ThreadID,
				"sender":    msg.Sender,
				"date":      msg.Date.Format(time.RFC3339),
			},
		})
	}
	return out, nil
}

func (g *Gmail) HealthCheck(ctx context.Context) bool {
	c, err := g.connect(ctx)
	if err != nil {
		g.logger.Warn("gmail health check failed", zap.Error(err))
		return false
	}
	var resp struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := c.get(ctx, "/profile", nil, &resp); err != nil {
		g.logger.Warn("gmail health check failed", zap.Error(err))
		return false
	}
	return resp.EmailAddress != ""
}

func (g *Gmail) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		g.client.close()
		g.client = nil
	}
	return nil
}
