// Package synthesis turns the per-source contexts of a task into one
// Markdown brief. Plugins decide how: an LLM backend, a user template, or
// a plain dump. Every path degrades to deterministic Markdown rather than
// returning nothing.
package synthesis

import (
	"sort"

	"github.com/fyrsmithlabs/devscontext/internal/model"
)

// Sources holds the typed payloads found among a task's source contexts.
// A nil field means that source contributed nothing.
type Sources struct {
	Ticket   *model.TicketContext
	Meetings *model.MeetingContext
	Chat     *model.CommunicationContext
	Email    *model.EmailContext
	VCS      *model.VCSContext
	Docs     *model.DocsContext
}

// ExtractSources picks typed payloads out of contexts. When two contexts
// carry the same type, the one with the later source name wins.
func ExtractSources(contexts map[string]model.SourceContext) Sources {
	var s Sources
	for _, name := range sortedNames(contexts) {
		ctx := contexts[name]
		if ctx.IsEmpty() {
			continue
		}
		switch d := ctx.Data.(type) {
		case *model.TicketContext:
			if d != nil && d.Ticket != nil {
				s.Ticket = d
			}
		case *model.MeetingContext:
			if d != nil && len(d.Meetings) > 0 {
				s.Meetings = d
			}
		case *model.CommunicationContext:
			if d != nil && (len(d.Threads) > 0 || len(d.Standalone) > 0) {
				s.Chat = d
			}
		case *model.EmailContext:
			if d != nil && len(d.Threads) > 0 {
				s.Email = d
			}
		case *model.VCSContext:
			if d != nil && !d.Empty() {
				s.VCS = d
			}
		case *model.DocsContext:
			if d != nil && len(d.Sections) > 0 {
				s.Docs = d
			}
		}
	}
	return s
}

// Empty reports whether no source contributed data.
func (s Sources) Empty() bool {
	return s.Ticket == nil && s.Meetings == nil && s.Chat == nil &&
		s.Email == nil && s.VCS == nil && s.Docs == nil
}

// Title returns the ticket title, if a ticket was found.
func (s Sources) Title() string {
	if s.Ticket == nil || s.Ticket.Ticket == nil {
		return ""
	}
	return s.Ticket.Ticket.Title
}

func sortedNames(contexts map[string]model.SourceContext) []string {
	names := make([]string, 0, len(contexts))
	for name := range contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
