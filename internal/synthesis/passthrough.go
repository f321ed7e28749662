package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/model"
	"go.uber.org/zap"
)

// PassthroughPlugin dumps every source as Markdown without a backend.
// Useful for checking what the adapters collected.
type PassthroughPlugin struct {
	logger *zap.Logger
	now    func() time.Time
}

func newPassthroughPlugin(o options) *PassthroughPlugin {
	return &PassthroughPlugin{logger: o.logger, now: o.now}
}

func (p *PassthroughPlugin) Name() string { return "passthrough" }

// Synthesize writes one block per non-empty source in source-name order.
func (p *PassthroughPlugin) Synthesize(ctx context.Context, taskID string, contexts map[string]model.SourceContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	parts := []string{"## Task: " + taskID, ""}
	wrote := false
	for _, name := range sortedNames(contexts) {
		sc := contexts[name]
		if sc.IsEmpty() {
			continue
		}
		wrote = true
		parts = append(parts,
			fmt.Sprintf("### Source: %s (%s)", name, sc.SourceType),
			fmt.Sprintf("*Fetched at: %s*", sc.FetchedAt.Format(time.RFC3339)),
			"",
			p.format(sc),
			"",
		)
	}
	if !wrote {
		parts = append(parts, "No context data available.")
	}
	return strings.Join(parts, "\n"), nil
}

func (p *PassthroughPlugin) format(sc model.SourceContext) string {
	var block string
	switch d := sc.Data.(type) {
	case *model.TicketContext:
		if d != nil && d.Ticket != nil {
			block = FormatTicket(d)
		}
	case *model.MeetingContext:
		if d != nil {
			block = FormatMeetings(d)
		}
	case *model.CommunicationContext:
		if d != nil {
			block = FormatChat(d)
		}
	case *model.EmailContext:
		if d != nil {
			block = FormatEmail(d)
		}
	case *model.VCSContext:
		if d != nil {
			block = FormatVCS(d, p.now())
		}
	case *model.DocsContext:
		if d != nil {
			block = formatAllDocs(d)
		}
	}
	if block != "" {
		return block
	}
	if sc.RawText != "" {
		return sc.RawText
	}
	return fmt.Sprintf("*Data type: %T*", sc.Data)
}

func formatAllDocs(dc *model.DocsContext) string {
	var blocks []string
	for _, b := range []string{FormatArchitecture(dc), FormatStandards(dc), FormatOtherDocs(dc)} {
		if b != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func (p *PassthroughPlugin) Close() error { return nil }
