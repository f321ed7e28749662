// Package docs parses local Markdown documentation into heading sections and
// selects the sections most relevant to a ticket, either by keyword
// matching or by semantic similarity against a prebuilt vector index.
package docs

import (
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/devscontext/internal/model"
)

// Files that always hold coding standards regardless of location.
var standardsFiles = map[string]struct{}{
	"claude.md":    {},
	".cursorrules": {},
}

// ClassifyDocType decides a document's type from its path. Filenames win
// over directories; among directories the first rule that matches any
// segment wins, in the order adr, architecture, standards.
func ClassifyDocType(path string) model.DocType {
	clean := filepath.ToSlash(filepath.Clean(path))
	base := strings.ToLower(filepath.Base(clean))
	if _, ok := standardsFiles[base]; ok {
		return model.DocStandards
	}

	segments := strings.Split(strings.ToLower(filepath.ToSlash(filepath.Dir(clean))), "/")
	has := func(names ...string) bool {
		for _, seg := range segments {
			for _, n := range names {
				if seg == n {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("adr", "adrs"):
		return model.DocADR
	case has("architecture", "arch"):
		return model.DocArchitecture
	case has("standards", "style", "coding"):
		return model.DocStandards
	default:
		return model.DocOther
	}
}

// isDocFile reports whether the scanner should pick up name.
func isDocFile(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := standardsFiles[lower]; ok {
		return true
	}
	ext := filepath.Ext(lower)
	return ext == ".md" || ext == ".markdown"
}
