package synthesis

import (
	"fmt"
	"os"
	"strings"
)

// DefaultPrompt is the single-pass synthesis prompt. Placeholders:
// {task_id}, {title}, {raw_data}.
const DefaultPrompt = `
You are a senior engineer preparing context for a colleague about to start
working on a task with an AI coding assistant.

Your job: combine the raw data below into a concise, structured context block
that gives the AI agent everything it needs to write correct, well-integrated code.

Rules:
- Target 2000-3000 tokens. Be concise but don't omit important details.
- Use these sections (skip any section with no relevant data):
  ## Task: {task_id} - {title}
  ### Requirements
  ### Key Decisions
  ### Team Discussions
  ### External Context
  ### Architecture Context
  ### Coding Standards
  ### Recent Changes
  ### Related Work
- For each fact, note the source in [brackets] at the end of the paragraph.
- If sources conflict, note the conflict explicitly.
- Extract acceptance criteria clearly as a checklist if available.
- For decisions from meetings, include WHO decided and WHEN.
- Do NOT include generic advice. Only include specific, actionable context.

Section guidance:

### Requirements
- From the ticket description, acceptance criteria and constraints in comments.
- Numbered list or checklist.

### Key Decisions
- From meeting transcripts and decision records: who, when, why.
- Technical decisions that affect implementation only.

### Team Discussions
- From chat threads: clarifications, informal agreements, open questions,
  action items. Mark as [Slack].

### External Context
- From email threads with stakeholders: requirement clarifications,
  customer constraints, deadlines. Mark as [Email].

### Architecture Context
- Exact file paths, data flow, integration points, tables, queues,
  endpoints. No general overview.

### Coding Standards
- Specific rules that apply to this task: error handling, naming, tests,
  async patterns. No generic advice.

### Recent Changes
- Pull requests touching the same files or service area, relevant review
  comments, recently changed files. Mark as [GitHub PR #N].

### Related Work
- Linked tickets and their status, similar past implementations.

Raw data:
---
{raw_data}
---
`

const extractTicketPrompt = `
Extract the key facts from this Jira ticket for a developer about to implement it.

Focus on:
- What needs to be done (requirements)
- Any acceptance criteria
- Technical constraints or dependencies
- Key decisions made in comments

Return a structured summary in markdown format. Be concise but don't omit important details.

Jira Ticket Data:
---
{data}
---
`

const extractMeetingsPrompt = `
Extract relevant decisions, action items, and discussions from these meeting excerpts.

Focus on:
- Technical decisions that affect implementation
- WHO made each decision and WHEN
- Any unresolved questions or debates
- Action items assigned to the team

Return a structured summary in markdown format. Include speaker names where available.

Meeting Excerpts:
---
{data}
---
`

const extractDocsPrompt = `
Extract relevant technical context from these documentation sections.

Focus on:
- Architecture patterns to follow
- Coding standards that apply
- File paths and integration points
- Any ADRs (Architecture Decision Records) that apply

Return a structured summary in markdown format. Be specific and actionable.

Documentation:
---
{data}
---
`

const combinePrompt = `
Combine these extracted facts into a unified context block for an AI coding assistant.

Use this structure:
## Task: {task_id} - {title}
### Requirements
### Key Decisions
### Architecture Context
### Coding Standards
### Related Work

Rules:
- Target 2000-3000 tokens. Be concise but complete.
- For each fact, note the source in [brackets] at the end.
- If sources conflict, note the conflict explicitly.
- Do NOT include generic advice. Only include specific, actionable context.

Extracted from Jira:
---
{ticket_summary}
---

Extracted from Meetings:
---
{meeting_summary}
---

Extracted from Documentation:
---
{docs_summary}
---
`

// RenderPrompt substitutes {name} placeholders. Unknown placeholders are
// left untouched so custom templates can contain literal braces.
func RenderPrompt(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// loadPromptFile reads a custom prompt template.
func loadPromptFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt template: %w", err)
	}
	return string(data), nil
}
