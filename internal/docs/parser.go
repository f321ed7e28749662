package docs

import (
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/model"
)

// headingPattern matches level 2 and 3 Markdown headings. Level 1 is the
// document title and level 4+ is too fine-grained to be useful on its own.
var headingPattern = regexp.MustCompile(`(?m)^(#{2,3})[ \t]+(.+)$`)

// ParsedDocument is one documentation file split into sections.
type ParsedDocument struct {
	Path     string
	DocType  model.DocType
	Sections []model.DocumentSection
	ModTime  time.Time
	Size     int64
}

// SplitIntoSections splits Markdown content into heading-delimited
// sections in document order.
func SplitIntoSections(path, content string) []model.DocumentSection {
	docType := ClassifyDocType(path)
	matches := headingPattern.FindAllStringSubmatchIndex(content, -1)

	if len(matches) == 0 {
		body := strings.TrimSpace(content)
		if body == "" {
			return nil
		}
		return []model.DocumentSection{{
			FilePath: path,
			Content:  body,
			DocType:  docType,
		}}
	}

	sections := make([]model.DocumentSection, 0, len(matches)+1)
	if preamble := strings.TrimSpace(content[:matches[0][0]]); preamble != "" {
		sections = append(sections, model.DocumentSection{
			FilePath: path,
			Content:  preamble,
			DocType:  docType,
		})
	}

	for i, m := range matches {
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		title := strings.TrimSpace(content[m[4]:m[5]])
		sections = append(sections, model.DocumentSection{
			FilePath:     path,
			SectionTitle: model.StringPtr(title),
			Content:      strings.TrimSpace(content[m[1]:end]),
			DocType:      docType,
			HeadingLevel: m[3] - m[2],
		})
	}
	return sections
}
