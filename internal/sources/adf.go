package sources

import (
	"encoding/json"
	"regexp"
	"strings"
)

// adfNode is a node of an Atlassian Document Format tree.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

var adfBlocks = map[string]bool{
	"paragraph":   true,
	"heading":     true,
	"listItem":    true,
	"codeBlock":   true,
	"blockquote":  true,
	"tableRow":    true,
	"mediaSingle": true,
}

// adfText flattens an ADF document to plain text. Jira fields may also
// hold a plain string or null.
func adfText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var root adfNode
	if err := json.Unmarshal(raw, &root); err != nil {
		return ""
	}
	var b strings.Builder
	writeADF(&b, root)
	return strings.TrimSpace(b.String())
}

func writeADF(b *strings.Builder, n adfNode) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
		return
	case "hardBreak":
		b.WriteString("\n")
		return
	}
	if n.Type == "listItem" {
		b.WriteString("- ")
	}
	for _, c := range n.Content {
		writeADF(b, c)
	}
	if adfBlocks[n.Type] && !strings.HasSuffix(b.String(), "\n") {
		b.WriteString("\n")
	}
}

var acceptanceHeading = regexp.MustCompile(`(?im)^[#*\s]*acceptance criteria[*:\s]*$`)

// splitAcceptanceCriteria separates an "Acceptance Criteria" section
// written into the description body.
func splitAcceptanceCriteria(desc string) (body, criteria string) {
	loc := acceptanceHeading.FindStringIndex(desc)
	if loc == nil {
		return desc, ""
	}
	return strings.TrimSpace(desc[:loc[0]]), strings.TrimSpace(desc[loc[1]:])
}
