// Package model defines the records that flow between source adapters,
// document matching, synthesis, scoring and storage.
package model

import (
	"time"
)

// Source types reported by adapters.
const (
	SourceIssueTracker  = "issue_tracker"
	SourceMeeting       = "meeting"
	SourceCommunication = "communication"
	SourceEmail         = "email"
	SourceVCS           = "vcs"
	SourceDocumentation = "documentation"
)

// DocType classifies a documentation file.
type DocType string

const (
	DocArchitecture DocType = "architecture"
	DocStandards    DocType = "standards"
	DocADR          DocType = "adr"
	DocOther        DocType = "other"
)

// Valid reports whether t is one of the known document types.
func (t DocType) Valid() bool {
	switch t {
	case DocArchitecture, DocStandards, DocADR, DocOther:
		return true
	}
	return false
}

// DocumentSection is one heading-delimited chunk of a documentation file.
// SectionTitle is nil for the preamble before the first heading and for
// files without headings.
type DocumentSection struct {
	FilePath     string  `json:"file_path"`
	SectionTitle *string `json:"section_title,omitempty"`
	Content      string  `json:"content"`
	DocType      DocType `json:"doc_type"`
	HeadingLevel int     `json:"heading_level"`
}

// SectionKey identifies a section for deduplication.
type SectionKey struct {
	FilePath string
	Title    string
	HasTitle bool
}

// Key returns the (file path, section title) identity of s.
func (s DocumentSection) Key() SectionKey {
	if s.SectionTitle == nil {
		return SectionKey{FilePath: s.FilePath}
	}
	return SectionKey{FilePath: s.FilePath, Title: *s.SectionTitle, HasTitle: true}
}

// Title returns the section title or the empty string.
func (s DocumentSection) Title() string {
	if s.SectionTitle == nil {
		return ""
	}
	return *s.SectionTitle
}

// StringPtr is a small helper for optional titles.
func StringPtr(s string) *string {
	return &s
}

// Ticket is an issue tracker work item.
type Ticket struct {
	ID                 string    `json:"ticket_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Status             string    `json:"status"`
	Assignee           string    `json:"assignee,omitempty"`
	Priority           string    `json:"priority,omitempty"`
	IssueType          string    `json:"issue_type,omitempty"`
	Labels             []string  `json:"labels"`
	Components         []string  `json:"components"`
	AcceptanceCriteria string    `json:"acceptance_criteria,omitempty"`
	StoryPoints        *float64  `json:"story_points,omitempty"`
	Sprint             string    `json:"sprint,omitempty"`
	Created            time.Time `json:"created"`
	Updated            time.Time `json:"updated"`
}

// Comment is a ticket comment.
type Comment struct {
	Author  string    `json:"author"`
	Body    string    `json:"body"`
	Created time.Time `json:"created"`
}

// LinkedIssue is a ticket related to the root ticket.
type LinkedIssue struct {
	ID       string `json:"ticket_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	LinkType string `json:"link_type"`
}

// TicketContext is a ticket with its discussion and relations.
type TicketContext struct {
	Ticket       *Ticket       `json:"ticket"`
	Comments     []Comment     `json:"comments"`
	LinkedIssues []LinkedIssue `json:"linked_issues"`
}

// MeetingExcerpt is the relevant part of one meeting transcript.
type MeetingExcerpt struct {
	Title        string    `json:"meeting_title"`
	Date         time.Time `json:"meeting_date"`
	Participants []string  `json:"participants"`
	Excerpt      string    `json:"excerpt"`
	ActionItems  []string  `json:"action_items"`
	Decisions    []string  `json:"decisions"`
}

// MeetingContext groups meeting excerpts for a task.
type MeetingContext struct {
	Meetings []MeetingExcerpt `json:"meetings"`
}

// ChatMessage is one chat message.
type ChatMessage struct {
	ID          string    `json:"message_id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	ThreadTS    string    `json:"thread_ts,omitempty"`
	Permalink   string    `json:"permalink,omitempty"`
	Reactions   []string  `json:"reactions,omitempty"`
}

// ChatThread is a parent message with its replies and annotations.
type ChatThread struct {
	Parent       ChatMessage   `json:"parent_message"`
	Replies      []ChatMessage `json:"replies"`
	Participants []string      `json:"participant_names"`
	Decisions    []string      `json:"decisions"`
	ActionItems  []string      `json:"action_items"`
}

// CommunicationContext is chat context for a task.
type CommunicationContext struct {
	Threads    []ChatThread  `json:"threads"`
	Standalone []ChatMessage `json:"standalone_messages"`
}

// EmailMessage is one message of an email thread.
type EmailMessage struct {
	ID         string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"sender_name,omitempty"`
	Recipients []string  `json:"recipients"`
	CC         []string  `json:"cc,omitempty"`
	Date       time.Time `json:"date"`
	Snippet    string    `json:"snippet"`
	Body       string    `json:"body_text,omitempty"`
	Labels     []string  `json:"labels,omitempty"`
}

// EmailThread groups messages sharing a thread id.
type EmailThread struct {
	ID           string         `json:"thread_id"`
	Subject      string         `json:"subject"`
	Messages     []EmailMessage `json:"messages"`
	Participants []string       `json:"participants"`
	LatestDate   time.Time      `json:"latest_date"`
}

// EmailContext is email context for a task.
type EmailContext struct {
	Threads []EmailThread `json:"threads"`
}

// ReviewComment is a pull request review comment.
type ReviewComment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PullRequest is a version-control change request.
type PullRequest struct {
	Number         int             `json:"number"`
	Title          string          `json:"title"`
	Author         string          `json:"author"`
	State          string          `json:"state"`
	URL            string          `json:"url"`
	CreatedAt      time.Time       `json:"created_at"`
	MergedAt       *time.Time      `json:"merged_at,omitempty"`
	ChangedFiles   []string        `json:"changed_files"`
	ReviewComments []ReviewComment `json:"review_comments"`
	Body           string          `json:"body,omitempty"`
}

// Issue is a version-control issue.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	State     string    `json:"state"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	Labels    []string  `json:"labels"`
	Body      string    `json:"body,omitempty"`
}

// VCSContext is version-control context for a task.
type VCSContext struct {
	RelatedPRs    []PullRequest `json:"related_prs"`
	RecentPRs     []PullRequest `json:"recent_prs"`
	RelatedIssues []Issue       `json:"related_issues"`
}

// Empty reports whether no PRs or issues were found.
func (v VCSContext) Empty() bool {
	return len(v.RelatedPRs) == 0 && len(v.RecentPRs) == 0 && len(v.RelatedIssues) == 0
}

// DocsContext is the documentation matched for a task.
type DocsContext struct {
	Sections []DocumentSection `json:"sections"`
}

// SourceContext is what an adapter returns for a task. Data holds one of
// the *Context types above; RawText is a plain rendering for plugins that
// do not understand Data.
type SourceContext struct {
	SourceName string         `json:"source_name"`
	SourceType string         `json:"source_type"`
	Data       any            `json:"data,omitempty"`
	RawText    string         `json:"raw_text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

// IsEmpty reports whether the adapter found nothing.
func (c SourceContext) IsEmpty() bool {
	return c.Data == nil && c.RawText == ""
}

// SearchResult is one hit from an adapter search.
type SearchResult struct {
	SourceName     string         `json:"source_name"`
	SourceType     string         `json:"source_type"`
	Title          string         `json:"title"`
	Excerpt        string         `json:"excerpt"`
	URL            string         `json:"url,omitempty"`
	RelevanceScore float64        `json:"relevance_score,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SynthesizedResult is a persisted, prebuilt context for one task.
type SynthesizedResult struct {
	TaskID         string    `json:"task_id"`
	Synthesized    string    `json:"synthesized"`
	SourcesUsed    []string  `json:"sources_used"`
	QualityScore   float64   `json:"context_quality_score"`
	Gaps           []string  `json:"gaps"`
	BuiltAt        time.Time `json:"built_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	SourceDataHash string    `json:"source_data_hash,omitempty"`
}

// IsExpired reports whether the result is past its expiry at now.
func (r *SynthesizedResult) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// TaskContext is the response to an on-demand context request.
type TaskContext struct {
	TaskID          string    `json:"task_id"`
	Synthesized     string    `json:"synthesized"`
	SourcesUsed     []string  `json:"sources_used"`
	FetchDurationMS int64     `json:"fetch_duration_ms"`
	SynthesizedAt   time.Time `json:"synthesized_at"`
	Cached          bool      `json:"cached"`
	Prebuilt        bool      `json:"prebuilt"`
	QualityScore    *float64  `json:"context_quality_score,omitempty"`
	Gaps            []string  `json:"gaps,omitempty"`
}
