package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Allowlist holds content patterns and literal stop words that are never
// treated as secrets. The file format is the [allowlist] table of a
// .gitleaks.toml:
//
//	[allowlist]
//	regexes = ['''EXAMPLE_[A-Z]+''']
//	stopwords = ["dummy"]
type Allowlist struct {
	Regexes   []string
	StopWords []string

	compiled []*regexp.Regexp
}

// Empty reports whether the allowlist excludes nothing.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.Regexes) == 0 && len(a.StopWords) == 0)
}

// LoadAllowlist reads the allowlist at path. An empty path or a missing
// file yields an empty allowlist; a malformed file or pattern is an error.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}

	var doc struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	a := &Allowlist{
		Regexes:   doc.Allowlist.Regexes,
		StopWords: doc.Allowlist.StopWords,
	}
	for _, p := range a.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, p, path, err)
		}
		a.compiled = append(a.compiled, re)
	}
	return a, nil
}

// Allows reports whether secret matches an allowlist pattern or contains
// a stop word. Stop words match case-insensitively.
func (a *Allowlist) Allows(secret string) bool {
	if a.Empty() {
		return false
	}
	lower := strings.ToLower(secret)
	for _, w := range a.StopWords {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	for _, re := range a.compiled {
		if re.MatchString(secret) {
			return true
		}
	}
	return false
}
