// Package quality scores how complete a task's assembled context is and
// names what is missing.
package quality

import (
	"fmt"
	"math"
	"strings"

	"github.com/fyrsmithlabs/devscontext/internal/model"
)

// indicatorCount is the number of weighted signals; each is worth 0.2.
const indicatorCount = 5

// Indicators records which completeness signals are present.
type Indicators struct {
	Description        bool
	AcceptanceCriteria bool
	Meetings           bool
	Architecture       bool
	Standards          bool
}

// Count returns how many indicators are satisfied.
func (in Indicators) Count() int {
	n := 0
	for _, ok := range []bool{in.Description, in.AcceptanceCriteria, in.Meetings, in.Architecture, in.Standards} {
		if ok {
			n++
		}
	}
	return n
}

// Evaluate computes the indicators. A nil ticket context satisfies
// neither ticket signal.
func Evaluate(ticket *model.TicketContext, meetings model.MeetingContext, docs model.DocsContext) Indicators {
	var in Indicators
	if ticket != nil && ticket.Ticket != nil {
		in.Description = strings.TrimSpace(ticket.Ticket.Description) != ""
		in.AcceptanceCriteria = strings.TrimSpace(ticket.Ticket.AcceptanceCriteria) != ""
	}
	in.Meetings = len(meetings.Meetings) > 0
	for _, s := range docs.Sections {
		switch s.DocType {
		case model.DocArchitecture:
			in.Architecture = true
		case model.DocStandards:
			in.Standards = true
		}
	}
	return in
}

// Score returns 0.2 per satisfied indicator. It divides the integer
// count so the result is the nearest float to an exact fifth.
func Score(ticket *model.TicketContext, meetings model.MeetingContext, docs model.DocsContext) float64 {
	return float64(Evaluate(ticket, meetings, docs).Count()) / indicatorCount
}

// DetectGaps describes each missing indicator in a sentence, plus a note
// when the ticket links no related work. Gaps follow indicator order.
func DetectGaps(ticket *model.TicketContext, meetings model.MeetingContext, docs model.DocsContext) []string {
	in := Evaluate(ticket, meetings, docs)
	gaps := []string{}

	if !in.Description {
		gaps = append(gaps, "No ticket description: the problem statement and scope are undocumented")
	}
	if !in.AcceptanceCriteria {
		gaps = append(gaps, "No acceptance criteria defined in the ticket: unclear how to know when the work is done")
	}
	if !in.Meetings {
		gaps = append(gaps, "No meeting discussions found: the design may not have been reviewed")
	}
	if !in.Architecture {
		if areas := ServiceAreas(ticket); len(areas) > 0 {
			gaps = append(gaps, fmt.Sprintf("No architecture docs found for %s: where this code goes is unclear", strings.Join(areas, ", ")))
		} else {
			gaps = append(gaps, "No architecture docs found: where this code goes is unclear")
		}
	}
	if !in.Standards {
		gaps = append(gaps, "No coding standards found: patterns to follow are unknown")
	}
	if ticket == nil || len(ticket.LinkedIssues) == 0 {
		gaps = append(gaps, "No linked issues: dependencies and related work are not recorded")
	}
	return gaps
}

// ServiceAreas derives service names from the ticket components by
// stripping a "-service" or "_service" suffix. Duplicates are dropped.
func ServiceAreas(ticket *model.TicketContext) []string {
	if ticket == nil || ticket.Ticket == nil {
		return nil
	}
	var areas []string
	seen := make(map[string]bool)
	for _, c := range ticket.Ticket.Components {
		a := strings.ToLower(strings.TrimSpace(c))
		a = strings.TrimSuffix(a, "-service")
		a = strings.TrimSuffix(a, "_service")
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		areas = append(areas, a)
	}
	return areas
}

// Label maps a score to a human-readable grade.
func Label(score float64) string {
	switch {
	case score >= 0.8:
		return "Good"
	case score >= 0.6:
		return "Moderate"
	case score >= 0.4:
		return "Limited"
	default:
		return "Incomplete"
	}
}

// AppendGaps adds a quality section listing gaps to text. text is
// returned unchanged when there are no gaps.
func AppendGaps(text string, gaps []string, score float64) string {
	if len(gaps) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(text, "\n"))
	fmt.Fprintf(&b, "\n\n## Context Quality: %s (%d%%)\n\n", Label(score), int(math.Round(score*100)))
	b.WriteString("The following context may be missing:\n")
	for _, g := range gaps {
		b.WriteString("- " + g + "\n")
	}
	return b.String()
}
