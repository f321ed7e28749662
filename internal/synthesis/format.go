package synthesis

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/model"
)

const (
	blockSeparator = "\n\n---\n\n"
	dateLayout     = "2006-01-02"

	maxComments        = 10
	maxThreadReplies   = 5
	maxStandalone      = 5
	maxEmailMessages   = 3
	maxEmailBody       = 500
	maxChangedFiles    = 5
	maxReviewComments  = 3
	maxReviewBody      = 200
	maxRecentPRs       = 5
	maxEmailRecipients = 5
)

// NoContext is returned when no source contributed anything.
func NoContext(taskID string) string {
	return fmt.Sprintf("## Task: %s\n\nNo context found for this task.", taskID)
}

// Fallback wraps raw data when generation is unavailable.
func Fallback(taskID, raw string) string {
	return fmt.Sprintf("## Task: %s\n\n*Note: LLM synthesis unavailable, showing raw context.*\n\n%s", taskID, raw)
}

// BuildRawData renders every contributing source into its block and joins
// the blocks. It returns "" when s is empty. now is used for relative
// dates in the version-control block.
func BuildRawData(s Sources, now time.Time) string {
	var blocks []string
	if s.Ticket != nil {
		blocks = append(blocks, FormatTicket(s.Ticket))
	}
	if s.Meetings != nil {
		blocks = append(blocks, FormatMeetings(s.Meetings))
	}
	if s.Chat != nil {
		blocks = append(blocks, FormatChat(s.Chat))
	}
	if s.Email != nil {
		blocks = append(blocks, FormatEmail(s.Email))
	}
	if s.VCS != nil {
		blocks = append(blocks, FormatVCS(s.VCS, now))
	}
	if s.Docs != nil {
		for _, b := range []string{
			FormatArchitecture(s.Docs),
			FormatStandards(s.Docs),
			FormatOtherDocs(s.Docs),
		} {
			if b != "" {
				blocks = append(blocks, b)
			}
		}
	}
	return strings.Join(blocks, blockSeparator)
}

// FormatTicket renders the ticket with its ten most recent comments and
// every linked issue.
func FormatTicket(tc *model.TicketContext) string {
	t := tc.Ticket
	parts := []string{
		"## JIRA TICKET",
		"**ID:** " + t.ID,
		"**Title:** " + t.Title,
		"**Status:** " + t.Status,
	}
	if t.Assignee != "" {
		parts = append(parts, "**Assignee:** "+t.Assignee)
	}
	if len(t.Labels) > 0 {
		parts = append(parts, "**Labels:** "+strings.Join(t.Labels, ", "))
	}
	if len(t.Components) > 0 {
		parts = append(parts, "**Components:** "+strings.Join(t.Components, ", "))
	}
	if t.Sprint != "" {
		parts = append(parts, "**Sprint:** "+t.Sprint)
	}
	if t.Priority != "" {
		parts = append(parts, "**Priority:** "+t.Priority)
	}
	if t.Description != "" {
		parts = append(parts, "\n**Description:**\n"+t.Description)
	}
	if t.AcceptanceCriteria != "" {
		parts = append(parts, "\n**Acceptance Criteria:**\n"+t.AcceptanceCriteria)
	}

	if n := len(tc.Comments); n > 0 {
		parts = append(parts, fmt.Sprintf("\n### Comments (%d)", n))
		for _, c := range tc.Comments[:min(n, maxComments)] {
			parts = append(parts, fmt.Sprintf("\n**%s** (%s):\n%s", c.Author, c.Created.Format(dateLayout), c.Body))
		}
	}
	if n := len(tc.LinkedIssues); n > 0 {
		parts = append(parts, fmt.Sprintf("\n### Linked Issues (%d)", n))
		for _, l := range tc.LinkedIssues {
			parts = append(parts, fmt.Sprintf("- [%s] %s (%s) - %s", l.ID, l.Title, l.Status, l.LinkType))
		}
	}
	return strings.Join(parts, "\n")
}

// FormatMeetings renders each meeting with its excerpt, action items and
// decisions.
func FormatMeetings(mc *model.MeetingContext) string {
	if len(mc.Meetings) == 0 {
		return ""
	}
	parts := []string{"## MEETING TRANSCRIPTS"}
	for _, m := range mc.Meetings {
		parts = append(parts, fmt.Sprintf("\n### %s (%s)", m.Title, m.Date.Format(dateLayout)))
		if len(m.Participants) > 0 {
			parts = append(parts, "**Participants:** "+strings.Join(m.Participants, ", "))
		}
		parts = append(parts, "\n**Relevant Excerpt:**\n"+m.Excerpt)
		parts = appendList(parts, "\n**Action Items:**", m.ActionItems)
		parts = appendList(parts, "\n**Decisions:**", m.Decisions)
	}
	return strings.Join(parts, "\n")
}

// FormatChat renders threads and standalone chat messages.
func FormatChat(cc *model.CommunicationContext) string {
	if len(cc.Threads) == 0 && len(cc.Standalone) == 0 {
		return ""
	}
	parts := []string{"## SLACK DISCUSSIONS", "*Informal team communications and discussions.*\n"}
	for _, th := range cc.Threads {
		p := th.Parent
		parts = append(parts,
			fmt.Sprintf("\n### Thread in #%s (%s)", p.ChannelName, p.Timestamp.Format(dateLayout)),
			"**Participants:** "+strings.Join(th.Participants, ", "),
			fmt.Sprintf("\n**%s:** %s", p.UserName, p.Text),
		)
		for _, r := range th.Replies[:min(len(th.Replies), maxThreadReplies)] {
			parts = append(parts, fmt.Sprintf("**%s:** %s", r.UserName, r.Text))
		}
		parts = appendList(parts, "\n**Informal Decisions:**", th.Decisions)
		parts = appendList(parts, "\n**Action Items:**", th.ActionItems)
	}
	for _, m := range cc.Standalone[:min(len(cc.Standalone), maxStandalone)] {
		parts = append(parts,
			fmt.Sprintf("\n**#%s** (%s)", m.ChannelName, m.Timestamp.Format(dateLayout)),
			fmt.Sprintf("**%s:** %s", m.UserName, m.Text),
		)
	}
	return strings.Join(parts, "\n")
}

// FormatEmail renders email threads with their first messages.
func FormatEmail(ec *model.EmailContext) string {
	if len(ec.Threads) == 0 {
		return ""
	}
	parts := []string{"## EMAIL CONTEXT", "*External communications with stakeholders, customers, etc.*\n"}
	for _, th := range ec.Threads {
		parts = append(parts,
			"\n### Email Thread: "+th.Subject,
			"**Participants:** "+strings.Join(th.Participants[:min(len(th.Participants), maxEmailRecipients)], ", "),
			"**Latest:** "+th.LatestDate.Format(dateLayout),
		)
		for _, m := range th.Messages[:min(len(th.Messages), maxEmailMessages)] {
			sender := m.SenderName
			if sender == "" {
				sender = m.Sender
			}
			body := m.Body
			if body == "" {
				body = m.Snippet
			}
			parts = append(parts, fmt.Sprintf("\n**%s** (%s):", sender, m.Date.Format(dateLayout)), clip(body, maxEmailBody))
		}
	}
	return strings.Join(parts, "\n")
}

// FormatVCS renders related pull requests, recent ones in the same area,
// and related issues.
func FormatVCS(vc *model.VCSContext, now time.Time) string {
	if vc.Empty() {
		return ""
	}
	parts := []string{"## GITHUB CONTEXT", "*Recent PRs and changes in the same service area.*\n"}

	if len(vc.RelatedPRs) > 0 {
		parts = append(parts, "### Related PRs")
		for _, pr := range vc.RelatedPRs {
			status := pr.State
			if pr.MergedAt != nil {
				status = "merged"
			}
			parts = append(parts,
				fmt.Sprintf("\n**PR #%d**: %s (%s)", pr.Number, pr.Title, status),
				"Author: @"+pr.Author,
			)
			if n := len(pr.ChangedFiles); n > 0 {
				files := strings.Join(pr.ChangedFiles[:min(n, maxChangedFiles)], ", ")
				if n > maxChangedFiles {
					files += fmt.Sprintf(" (+%d more)", n-maxChangedFiles)
				}
				parts = append(parts, "Changed: "+files)
			}
			for _, c := range pr.ReviewComments[:min(len(pr.ReviewComments), maxReviewComments)] {
				parts = append(parts, fmt.Sprintf("Review (@%s): %s", c.Author, clip(c.Body, maxReviewBody)))
			}
		}
	}

	if len(vc.RecentPRs) > 0 {
		parts = append(parts, "\n### Recent PRs in Service Area")
		for _, pr := range vc.RecentPRs[:min(len(vc.RecentPRs), maxRecentPRs)] {
			at := pr.CreatedAt
			if pr.MergedAt != nil {
				at = *pr.MergedAt
			}
			days := int(now.Sub(at).Hours() / 24)
			parts = append(parts, fmt.Sprintf("- PR #%d: %s (%dd ago)", pr.Number, pr.Title, days))
		}
	}

	if len(vc.RelatedIssues) > 0 {
		parts = append(parts, "\n### Related Issues")
		for _, is := range vc.RelatedIssues {
			labels := ""
			if len(is.Labels) > 0 {
				labels = " [" + strings.Join(is.Labels, ", ") + "]"
			}
			parts = append(parts, fmt.Sprintf("- #%d: %s (%s)%s", is.Number, is.Title, is.State, labels))
		}
	}
	return strings.Join(parts, "\n")
}

// FormatArchitecture renders architecture sections.
func FormatArchitecture(dc *model.DocsContext) string {
	return formatDocs(dc, "## ARCHITECTURE DOCS",
		"*Focus on file paths, data flow, integration points, and infrastructure.*\n",
		func(t model.DocType) (string, bool) { return "", t == model.DocArchitecture })
}

// FormatStandards renders coding standards sections.
func FormatStandards(dc *model.DocsContext) string {
	return formatDocs(dc, "## CODING STANDARDS",
		"*Specific rules and patterns to follow in this codebase.*\n",
		func(t model.DocType) (string, bool) { return "", t == model.DocStandards })
}

// FormatOtherDocs renders ADRs and uncategorized documentation.
func FormatOtherDocs(dc *model.DocsContext) string {
	return formatDocs(dc, "## OTHER DOCUMENTATION", "",
		func(t model.DocType) (string, bool) {
			switch t {
			case model.DocADR:
				return "[ADR] ", true
			case model.DocOther:
				return "[Doc] ", true
			}
			return "", false
		})
}

func formatDocs(dc *model.DocsContext, heading, note string, include func(model.DocType) (string, bool)) string {
	parts := []string{heading}
	if note != "" {
		parts = append(parts, note)
	}
	found := false
	for _, s := range dc.Sections {
		prefix, ok := include(s.DocType)
		if !ok {
			continue
		}
		found = true
		title := s.Title()
		if title == "" {
			title = s.FilePath
		}
		parts = append(parts,
			"\n### "+prefix+title,
			"**Source:** "+s.FilePath,
			"\n"+s.Content,
		)
	}
	if !found {
		return ""
	}
	return strings.Join(parts, "\n")
}

func appendList(parts []string, heading string, items []string) []string {
	if len(items) == 0 {
		return parts
	}
	parts = append(parts, heading)
	for _, it := range items {
		parts = append(parts, "- "+it)
	}
	return parts
}

// clip cuts s to n runes and marks the cut with an ellipsis.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
