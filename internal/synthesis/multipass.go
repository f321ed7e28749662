package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/devscontext/internal/llm"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const extractionTokens = 1500

// ProviderSource is implemented by plugins backed by a generation
// provider, which makes them eligible for multi-pass synthesis.
type ProviderSource interface {
	Provider() (llm.Provider, error)
	MaxOutputTokens() int
}

// MultiPass extracts facts from the ticket, meetings and docs separately,
// then combines the summaries. Any backend error aborts the whole run so
// the caller can fall back to single-pass synthesis.
func MultiPass(ctx context.Context, prov llm.Provider, taskID string, ticket *model.TicketContext,
	meetings *model.MeetingContext, docs *model.DocsContext, maxTokens int) (string, error) {
	if ticket == nil || ticket.Ticket == nil {
		return "", errors.New("multi-pass synthesis needs a ticket")
	}
	ctx, span := tracer.Start(ctx, "synthesis.multipass", trace.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.String("provider", prov.Name()),
	))
	defer span.End()

	ticketSummary, err := prov.Generate(ctx, RenderPrompt(extractTicketPrompt, map[string]string{
		"data": formatTicketForExtraction(ticket),
	}), extractionTokens)
	if err != nil {
		return "", fmt.Errorf("ticket extraction: %w", err)
	}

	meetingSummary := "No meeting discussions found."
	if meetings != nil && len(meetings.Meetings) > 0 {
		meetingSummary, err = prov.Generate(ctx, RenderPrompt(extractMeetingsPrompt, map[string]string{
			"data": FormatMeetings(meetings),
		}), extractionTokens)
		if err != nil {
			return "", fmt.Errorf("meeting extraction: %w", err)
		}
	}

	docsSummary := "No relevant documentation found."
	if docs != nil && len(docs.Sections) > 0 {
		docsSummary, err = prov.Generate(ctx, RenderPrompt(extractDocsPrompt, map[string]string{
			"data": formatDocsForExtraction(docs),
		}), extractionTokens)
		if err != nil {
			return "", fmt.Errorf("docs extraction: %w", err)
		}
	}

	out, err := prov.Generate(ctx, RenderPrompt(combinePrompt, map[string]string{
		"task_id":         taskID,
		"title":           ticket.Ticket.Title,
		"ticket_summary":  ticketSummary,
		"meeting_summary": meetingSummary,
		"docs_summary":    docsSummary,
	}), maxTokens)
	if err != nil {
		return "", fmt.Errorf("combination: %w", err)
	}
	return out, nil
}

// formatTicketForExtraction includes every comment, unlike FormatTicket.
func formatTicketForExtraction(tc *model.TicketContext) string {
	t := tc.Ticket
	parts := []string{
		"## Ticket: " + t.ID,
		"**Title:** " + t.Title,
		"**Status:** " + t.Status,
	}
	if t.Description != "" {
		parts = append(parts, "\n**Description:**\n"+t.Description)
	}
	if t.AcceptanceCriteria != "" {
		parts = append(parts, "\n**Acceptance Criteria:**\n"+t.AcceptanceCriteria)
	}
	if len(t.Labels) > 0 {
		parts = append(parts, "\n**Labels:** "+strings.Join(t.Labels, ", "))
	}
	if len(t.Components) > 0 {
		parts = append(parts, "\n**Components:** "+strings.Join(t.Components, ", "))
	}
	if len(tc.Comments) > 0 {
		parts = append(parts, "\n**Comments:**")
		for _, c := range tc.Comments {
			parts = append(parts, fmt.Sprintf("\n*%s (%s):*\n%s", c.Author, c.Created.Format(dateLayout), c.Body))
		}
	}
	if len(tc.LinkedIssues) > 0 {
		parts = append(parts, "\n**Linked Issues:**")
		for _, l := range tc.LinkedIssues {
			parts = append(parts, fmt.Sprintf("- %s: %s (%s) - %s", l.LinkType, l.ID, l.Status, l.Title))
		}
	}
	return strings.Join(parts, "\n")
}

func formatDocsForExtraction(dc *model.DocsContext) string {
	var parts []string
	for _, s := range dc.Sections {
		title := s.Title()
		if title == "" {
			title = s.FilePath
		}
		parts = append(parts,
			"## "+title,
			fmt.Sprintf("*Source: %s* [%s]", s.FilePath, s.DocType),
			"\n"+s.Content,
			"",
		)
	}
	return strings.Join(parts, "\n")
}
