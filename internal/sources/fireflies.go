package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/synthesis"
	"github.com/fyrsmithlabs/devscontext/internal/textutil"
	"go.uber.org/zap"
)

const (
	firefliesURL          = "https://api.fireflies.ai/graphql"
	firefliesSearchLimit  = 5
	firefliesWindow       = 2
	firefliesExcerptChars = 1500
	firefliesKeywords     = 3
)

const firefliesTranscriptsQuery = `query Transcripts($keyword: String, $limit: Int) {
  transcripts(keyword: $keyword, limit: $limit) {
    id
    title
    date
    participants
    sentences { index speaker_name text }
    summary { action_items }
  }
}`

type firefliesTranscript struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Date         float64  `json:"date"`
	Participants []string `json:"participants"`
	Sentences    []struct {
		Index       int    `json:"index"`
		SpeakerName string `json:"speaker_name"`
		Text        string `json:"text"`
	} `json:"sentences"`
	Summary *struct {
		ActionItems string `json:"action_items"`
	} `json:"summary"`
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// Fireflies searches meeting transcripts through the Fireflies GraphQL
// API and cuts excerpts around the sentences that mention the task.
type Fireflies struct {
	cfg    config.FirefliesConfig
	client *restClient
	logger *zap.Logger
	now    func() time.Time
}

// NewFireflies creates the meeting adapter. endpoint may be empty.
func NewFireflies(cfg config.FirefliesConfig, logger *zap.Logger, httpClient *http.Client, endpoint string) *Fireflies {
	if logger == nil {
		logger = zap.NewNop()
	}
	if endpoint == "" {
		endpoint = firefliesURL
	}
	c := newRESTClient(endpoint, httpClient)
	c.auth = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+cfg.APIKey.Value()) }
	return &Fireflies{cfg: cfg, client: c, logger: logger.Named(NameFireflies), now: time.Now}
}

func (f *Fireflies) Name() string       { return NameFireflies }
func (f *Fireflies) SourceType() string { return model.SourceMeeting }

func (f *Fireflies) transcripts(ctx context.Context, keyword string, limit int) ([]firefliesTranscript, error) {
	var resp struct {
		Data struct {
			Transcripts []firefliesTranscript `json:"transcripts"`
		} `json:"data"`
		Errors []graphQLError `json:"errors"`
	}
	req := graphQLRequest{
		Query:     firefliesTranscriptsQuery,
		Variables: map[string]any{"keyword": keyword, "limit": limit},
	}
	if err := f.client.post(ctx, "", req, &resp); err != nil {
		return nil, fmt.Errorf("fireflies transcripts: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("fireflies transcripts: %s", resp.Errors[0].Message)
	}
	return resp.Data.Transcripts, nil
}

// FetchTaskContext searches by task id and then by the three strongest
// title keywords. Meetings found by several terms are kept once.
func (f *Fireflies) FetchTaskContext(ctx context.Context, taskID string, ticket *model.Ticket) model.SourceContext {
	terms := []string{taskID}
	if ticket != nil {
		terms = append(terms, textutil.TopKeywords(ticket.Title, firefliesKeywords)...)
	}

	type meetingKey struct {
		title string
		date  time.Time
	}
	seen := make(map[meetingKey]bool)
	mc := &model.MeetingContext{Meetings: []model.MeetingExcerpt{}}
	for _, term := range terms {
		found, err := f.transcripts(ctx, term, firefliesSearchLimit)
		if err != nil {
			f.logger.Warn("fireflies search failed", zap.String("task_id", taskID), zap.String("term", term), zap.Error(err))
			continue
		}
		for _, tr := range found {
			m := toExcerpt(tr, term)
			k := meetingKey{m.Title, m.Date}
			if seen[k] || m.Excerpt == "" {
				continue
			}
			seen[k] = true
			mc.Meetings = append(mc.Meetings, m)
		}
	}

	meta := map[string]any{"task_id": taskID, "meeting_count": len(mc.Meetings)}
	if len(mc.Meetings) == 0 {
		return emptyContext(f, f.now(), meta)
	}
	f.logger.Info("fireflies context assembled", zap.String("task_id", taskID), zap.Int("meeting_count", len(mc.Meetings)))
	return model.SourceContext{
		SourceName: NameFireflies,
		SourceType: model.SourceMeeting,
		Data:       mc,
		RawText:    synthesis.FormatMeetings(mc),
		Metadata:   meta,
		FetchedAt:  f.now(),
	}
}

// toExcerpt keeps the sentences within two of any sentence mentioning
// term, attributed to their speakers.
func toExcerpt(tr firefliesTranscript, term string) model.MeetingExcerpt {
	m := model.MeetingExcerpt{
		Title:        tr.Title,
		Date:         time.UnixMilli(int64(tr.Date)).UTC(),
		Participants: append([]string{}, tr.Participants...),
		ActionItems:  []string{},
		Decisions:    []string{},
	}

	needle := strings.ToLower(term)
	keep := make([]bool, len(tr.Sentences))
	for i, s := range tr.Sentences {
		if !strings.Contains(strings.ToLower(s.Text), needle) {
			continue
		}
		for j := max(0, i-firefliesWindow); j <= min(len(keep)-1, i+firefliesWindow); j++ {
			keep[j] = true
		}
	}
	var lines []string
	for i, s := range tr.Sentences {
		if !keep[i] {
			if len(lines) > 0 && lines[len(lines)-1] != "..." {
				lines = append(lines, "...")
			}
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", s.SpeakerName, s.Text))
	}
	if n := len(lines); n > 0 && lines[n-1] == "..." {
		lines = lines[:n-1]
	}
	m.Excerpt = textutil.TruncateText(strings.Join(lines, "\n"), firefliesExcerptChars)
	m.Decisions = append(m.Decisions, textutil.ExtractDecisions(m.Excerpt)...)

	if tr.Summary != nil {
		for _, line := range strings.Split(tr.Summary.ActionItems, "\n") {
			if item := strings.TrimSpace(strings.TrimLeft(line, "-*• ")); item != "" {
				m.ActionItems = append(m.ActionItems, item)
			}
		}
	}
	if len(m.ActionItems) == 0 {
		m.ActionItems = append(m.ActionItems, textutil.ExtractActionItems(m.Excerpt)...)
	}
	return m
}

func (f *Fireflies) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	found, err := f.transcripts(ctx, query, limit)
	if err != nil {
		f.logger.Warn("fireflies search failed", zap.Error(err))
		return []model.SearchResult{}, nil
	}
	out := make([]model.SearchResult, 0, len(found))
	for _, tr := range found {
		m := toExcerpt(tr, query)
		out = append(out, model.SearchResult{
			SourceName: NameFireflies,
			SourceType: model.SourceMeeting,
			Title:      fmt.Sprintf("%s (%s)", m.Title, m.Date.Format("2006-01-02")),
			Excerpt:    clipRunes(m.Excerpt, 300),
			Metadata:   map[string]any{"transcript_id": tr.ID},
		})
	}
	return out, nil
}

func (f *Fireflies) HealthCheck(ctx context.Context) bool {
	if !f.cfg.APIKey.IsSet() {
		f.logger.Warn("fireflies adapter missing api key")
		return false
	}
	var resp struct {
		Errors []graphQLError `json:"errors"`
	}
	if err := f.client.post(ctx, "", graphQLRequest{Query: "query { user { user_id } }"}, &resp); err != nil || len(resp.Errors) > 0 {
		f.logger.Warn("fireflies health check failed", zap.Error(err))
		return false
	}
	return true
}

func (f *Fireflies) Close() error {
	f.client.close()
	return nil
}
