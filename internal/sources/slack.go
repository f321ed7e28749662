package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/cache"
	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/synthesis"
	"github.com/fyrsmithlabs/devscontext/internal/textutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	slackAPIURL         = "https://slack.com/api"
	slackHistoryLimit   = 200
	slackThreadLimit    = 50
	slackHistoryTTL     = 5 * time.Minute
	slackMaxRetries     = 3
	slackMaxRetryWait   = 30 * time.Second
	slackTitleKeywords  = 5
	slackMaxAnnotations = 10
)

type slackChannelRef struct {
	ID   string
	Name string
}

// UnmarshalJSON accepts a bare channel id or a {id, name} object.
func (c *slackChannelRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		c.ID = id
		return nil
	}
	var obj struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.ID, c.Name = obj.ID, obj.Name
	return nil
}

type slackMessage struct {
	TS         string          `json:"ts"`
	ThreadTS   string          `json:"thread_ts"`
	Text       string          `json:"text"`
	User       string          `json:"user"`
	Channel    slackChannelRef `json:"channel"`
	Permalink  string          `json:"permalink"`
	ReplyCount int             `json:"reply_count"`
	Reactions  []struct {
		Name string `json:"name"`
	} `json:"reactions"`
}

type slackResponse struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
}

// Slack searches the Slack Web API for messages about a task. When
// search.messages is unavailable (bot tokens on some plans) it scans the
// configured channels' recent history instead.
type Slack struct {
	cfg     config.SlackConfig
	client  *restClient
	logger  *zap.Logger
	now     func() time.Time
	history *cache.Cache[[]slackMessage]
	// minWait is the shortest rate-limit pause.
	minWait time.Duration

	mu       sync.Mutex
	channels map[string]string // name -> id
	users    map[string]string // id -> display name
}

// NewSlack creates the chat adapter. baseURL may be empty.
func NewSlack(cfg config.SlackConfig, logger *zap.Logger, httpClient *http.Client, baseURL string) *Slack {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = slackAPIURL
	}
	c := newRESTClient(baseURL, httpClient)
	c.auth = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+cfg.BotToken.Value()) }
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
	return &Slack{
		cfg:      cfg,
		client:   c,
		logger:   logger.Named(NameSlack),
		now:      time.Now,
		history:  cache.New[[]slackMessage](slackHistoryTTL, 100),
		minWait:  time.Second,
		channels: make(map[string]string),
		users:    make(map[string]string),
	}
}

func (s *Slack) Name() string       { return NameSlack }
func (s *Slack) SourceType() string { return model.SourceCommunication }

// call issues a GET and decodes into out, which must embed slackResponse
// fields via ok(). Rate-limit responses are retried after the advertised
// delay.
func (s *Slack) call(ctx context.Context, method string, q url.Values, out any, ok func() slackResponse) error {
	for attempt := 0; ; attempt++ {
		err := s.client.get(ctx, "/"+method, q, out)
		wait := time.Duration(0)
		switch {
		case err == nil:
			r := ok()
			if r.OK {
				return nil
			}
			if r.Error != "ratelimited" {
				return fmt.Errorf("slack %s: %s", method, r.Error)
			}
			wait = time.Duration(r.RetryAfter) * time.Second
		case statusCode(err) == http.StatusTooManyRequests:
			var se *StatusError
			if errors.As(err, &se) {
				wait = se.RetryAfter
			}
		default:
			return fmt.Errorf("slack %s: %w", method, err)
		}
		if attempt+1 >= slackMaxRetries {
			return fmt.Errorf("slack %s: rate limited", method)
		}
		wait = min(max(wait, s.minWait), slackMaxRetryWait)
		s.logger.Info("slack rate limited, waiting", zap.String("method", method), zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Slack) searchMessages(ctx context.Context, query string, count int) ([]slackMessage, error) {
	var resp struct {
		slackResponse
		Messages struct {
			Matches []slackMessage `json:"matches"`
		} `json:"messages"`
	}
	q := url.Values{
		"query":    {query},
		"count":    {strconv.Itoa(count)},
		"sort":     {"timestamp"},
		"sort_dir": {"desc"},
	}
	err := s.call(ctx, "search.messages", q, &resp, func() slackResponse { return resp.slackResponse })
	if err == nil && len(resp.Messages.Matches) > 0 {
		return resp.Messages.Matches, nil
	}
	if err != nil {
		s.logger.Debug("slack search unavailable, scanning channel history", zap.Error(err))
	}
	return s.searchHistory(ctx, query, count)
}

func (s *Slack) resolveChannels(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	if len(s.channels) > 0 {
		defer s.mu.Unlock()
		return s.channels, nil
	}
	s.mu.Unlock()

	var resp struct {
		slackResponse
		Channels []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"channels"`
	}
	q := url.Values{"types": {"public_channel,private_channel"}, "limit": {"200"}}
	if err := s.call(ctx, "conversations.list", q, &resp, func() slackResponse { return resp.slackResponse }); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range resp.Channels {
		if c.ID != "" && c.Name != "" {
			s.channels[c.Name] = c.ID
		}
	}
	return s.channels, nil
}

func (s *Slack) searchHistory(ctx context.Context, query string, count int) ([]slackMessage, error) {
	ids, err := s.resolveChannels(ctx)
	if err != nil {
		return nil, err
	}
	oldest := s.now().AddDate(0, 0, -s.cfg.LookbackDays)
	needle := strings.ToLower(query)

	var out []slackMessage
	for _, name := range s.cfg.Channels {
		name = strings.TrimPrefix(name, "#")
		id, ok := ids[name]
		if !ok {
			continue
		}
		msgs, ok := s.history.Get(id)
		if !ok {
			var resp struct {
				slackResponse
				Messages []slackMessage `json:"messages"`
			}
			q := url.Values{
				"channel": {id},
				"oldest":  {strconv.FormatInt(oldest.Unix(), 10)},
				"limit":   {strconv.Itoa(slackHistoryLimit)},
			}
			if err := s.call(ctx, "conversations.history", q, &resp, func() slackResponse { return resp.slackResponse }); err != nil {
				s.logger.Warn("slack history unavailable", zap.String("channel", name), zap.Error(err))
				continue
			}
			msgs = resp.Messages
			s.history.Set(id, msgs)
		}
		for _, m := range msgs {
			if !strings.Contains(strings.ToLower(m.Text), needle) {
				continue
			}
			m.Channel = slackChannelRef{ID: id, Name: name}
			out = append(out, m)
			if len(out) >= count {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *Slack) thread(ctx context.Context, channelID, ts string) ([]slackMessage, error) {
	var resp struct {
		slackResponse
		Messages []slackMessage `json:"messages"`
	}
	q := url.Values{"channel": {channelID}, "ts": {ts}, "limit": {strconv.Itoa(slackThreadLimit)}}
	if err := s.call(ctx, "conversations.replies", q, &resp, func() slackResponse { return resp.slackResponse }); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (s *Slack) userName(ctx context.Context, id string) string {
	if id == "" {
		return "unknown"
	}
	s.mu.Lock()
	name, ok := s.users[id]
	s.mu.Unlock()
	if ok {
		return name
	}

	var resp struct {
		slackResponse
		User struct {
			Name    string `json:"name"`
			Profile struct {
				DisplayName string `json:"display_name"`
				RealName    string `json:"real_name"`
			} `json:"profile"`
		} `json:"user"`
	}
	name = id
	if err := s.call(ctx, "users.info", url.Values{"user": {id}}, &resp, func() slackResponse { return resp.slackResponse }); err == nil {
		for _, n := range []string{resp.User.Profile.DisplayName, resp.User.Profile.RealName, resp.User.Name} {
			if n != "" {
				name = n
				break
			}
		}
	}
	s.mu.Lock()
	s.users[id] = name
	s.mu.Unlock()
	return name
}

func (s *Slack) toMessage(ctx context.Context, m slackMessage, channel slackChannelRef) model.ChatMessage {
	msg := model.ChatMessage{
		ID:          m.TS,
		ChannelID:   channel.ID,
		ChannelName: channel.Name,
		UserID:      m.User,
		UserName:    s.userName(ctx, m.User),
		Text:        m.Text,
		Timestamp:   parseSlackTS(m.TS),
		Permalink:   m.Permalink,
	}
	if m.ThreadTS != m.TS {
		msg.ThreadTS = m.ThreadTS
	}
	for _, r := range m.Reactions {
		msg.Reactions = append(msg.Reactions, r.Name)
	}
	return msg
}

// FetchTaskContext searches by task id and the ticket's title keywords,
// expands threads when configured, and annotates decisions and action
// items heuristically.
func (s *Slack) FetchTaskContext(ctx context.Context, taskID string, ticket *model.Ticket) model.SourceContext {
	queries := []string{taskID}
	if ticket != nil {
		queries = append(queries, textutil.TopKeywords(ticket.Title, slackTitleKeywords)...)
	}
	perQuery := max(s.cfg.MaxMessages/len(queries), 1)

	var matches []slackMessage
	seen := make(map[string]bool)
	for _, q := range queries {
		found, err := s.searchMessages(ctx, q, perQuery)
		if err != nil {
			s.logger.Warn("slack search failed", zap.String("task_id", taskID), zap.String("query", q), zap.Error(err))
			continue
		}
		for _, m := range found {
			if m.TS != "" && !seen[m.TS] {
				seen[m.TS] = true
				matches = append(matches, m)
			}
		}
	}
	if len(matches) == 0 {
		return emptyContext(s, s.now(), map[string]any{"task_id": taskID, "thread_count": 0})
	}

	byID := make(map[string]string)
	if ids, err := s.resolveChannels(ctx); err == nil {
		for name, id := range ids {
			byID[id] = name
		}
	}

	cc := &model.CommunicationContext{Threads: []model.ChatThread{}, Standalone: []model.ChatMessage{}}
	done := make(map[string]bool)
	for _, m := range matches {
		ch := m.Channel
		if ch.Name == "" {
			ch.Name = byID[ch.ID]
		}
		if ch.Name == "" {
			ch.Name = ch.ID
		}
		root := m.ThreadTS
		if root == "" {
			root = m.TS
		}
		key := ch.ID + ":" + root
		if done[key] {
			continue
		}
		done[key] = true

		if s.cfg.IncludeThreads && (m.ReplyCount > 0 || m.ThreadTS != "") {
			msgs, err := s.thread(ctx, ch.ID, root)
			if err == nil && len(msgs) > 0 {
				cc.Threads = append(cc.Threads, s.buildThread(ctx, msgs, ch))
				continue
			}
			if err != nil {
				s.logger.Warn("slack thread unavailable", zap.String("channel", ch.Name), zap.Error(err))
			}
		}
		cc.Standalone = append(cc.Standalone, s.toMessage(ctx, m, ch))
	}

	s.logger.Info("slack context assembled",
		zap.String("task_id", taskID),
		zap.Int("thread_count", len(cc.Threads)),
		zap.Int("standalone_count", len(cc.Standalone)))
	return model.SourceContext{
		SourceName: NameSlack,
		SourceType: model.SourceCommunication,
		Data:       cc,
		RawText:    synthesis.FormatChat(cc),
		Metadata: map[string]any{
			"task_id":          taskID,
			"thread_count":     len(cc.Threads),
			"standalone_count": len(cc.Standalone),
		},
		FetchedAt: s.now(),
	}
}

func (s *Slack) buildThread(ctx context.Context, msgs []slackMessage, ch slackChannelRef) model.ChatThread {
	th := model.ChatThread{
		Parent:      s.toMessage(ctx, msgs[0], ch),
		Replies:     []model.ChatMessage{},
		Decisions:   []string{},
		ActionItems: []string{},
	}
	participants := map[string]bool{th.Parent.UserName: true}
	all := []model.ChatMessage{th.Parent}
	for _, r := range msgs[1:] {
		reply := s.toMessage(ctx, r, ch)
		th.Replies = append(th.Replies, reply)
		participants[reply.UserName] = true
		all = append(all, reply)
	}
	for _, m := range all {
		th.Decisions = append(th.Decisions, textutil.ExtractDecisions(m.Text)...)
		th.ActionItems = append(th.ActionItems, textutil.ExtractActionItems(m.Text)...)
	}
	th.Decisions = th.Decisions[:min(len(th.Decisions), slackMaxAnnotations)]
	th.ActionItems = th.ActionItems[:min(len(th.ActionItems), slackMaxAnnotations)]
	for p := range participants {
		th.Participants = append(th.Participants, p)
	}
	sort.Strings(th.Participants)
	return th
}

func (s *Slack) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	found, err := s.searchMessages(ctx, query, limit)
	if err != nil {
		s.logger.Warn("slack search failed", zap.Error(err))
		return []model.SearchResult{}, nil
	}
	out := make([]model.SearchResult, 0, len(found))
	for _, m := range found {
		title := "Slack message"
		if m.Channel.Name != "" {
			title = "Slack: #" + m.Channel.Name
		}
		out = append(out, model.SearchResult{
			SourceName: NameSlack,
			SourceType: model.SourceCommunication,
			Title:      title,
			Excerpt:    clipRunes(m.Text, 300),
			URL:        m.Permalink,
			Metadata:   map[string]any{"channel": m.Channel.Name, "ts": m.TS},
		})
	}
	return out, nil
}

func (s *Slack) HealthCheck(ctx context.Context) bool {
	if !s.cfg.BotToken.IsSet() {
		s.logger.Warn("slack adapter missing bot token")
		return false
	}
	var resp slackResponse
	if err := s.call(ctx, "auth.test", nil, &resp, func() slackResponse { return resp }); err != nil {
		s.logger.Warn("slack health check failed", zap.Error(err))
		return false
	}
	return true
}

func (s *Slack) Close() error {
	s.client.close()
	s.history.Clear()
	s.mu.Lock()
	clear(s.channels)
	clear(s.users)
	s.mu.Unlock()
	return nil
}

// parseSlackTS converts "1712345678.123456" to a time.
func parseSlackTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var ns int64
	if frac != "" {
		frac = (frac + "000000000")[:9]
		ns, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, ns).UTC()
}
