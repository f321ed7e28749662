// Package textutil holds the small text helpers shared by document
// matching, source adapters and synthesis: keyword extraction, truncation
// at natural boundaries, and best-effort decision/action annotation.
package textutil

import (
	"regexp"
	"sort"
	"strings"
)

// MaxKeywords caps ExtractKeywords output.
const MaxKeywords = 10

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

var stopWords = toSet(`a an the and or but in on at to for of with by from as is was
are were been be have has had do does did will would could should may might must
shall can need it its this that these those i you he she we they what which who
when where why how all each every both few more most other some such no nor not
only own same so than too very just also now here there then if else because
about into through during before after above below between under again further
once any out up down off over our your`)

// Ticket titles are dominated by these; they never help find a document.
var actionVerbs = toSet(`add fix update implement create remove delete change
modify refactor improve enhance optimize handle support enable disable configure
setup make get set use move rename replace resolve ensure allow prevent check
verify validate test debug investigate review clean cleanup simplify`)

func toSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// IsStopWord reports whether w is filtered as a stop word or action verb.
func IsStopWord(w string) bool {
	w = strings.ToLower(w)
	_, stop := stopWords[w]
	_, verb := actionVerbs[w]
	return stop || verb
}

// ExtractKeywords returns up to MaxKeywords distinctive terms from text,
// longest first with alphabetical tie-breaks.
//
//	ExtractKeywords("Add retry logic to payment webhook handler")
//	// [handler payment webhook logic retry]
func ExtractKeywords(text string) []string {
	if text == "" {
		return []string{}
	}

	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	keywords := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) < 3 || IsStopWord(w) {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
	}

	sort.SliceStable(keywords, func(i, j int) bool {
		if len(keywords[i]) != len(keywords[j]) {
			return len(keywords[i]) > len(keywords[j])
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > MaxKeywords {
		keywords = keywords[:MaxKeywords]
	}
	return keywords
}

// TopKeywords returns at most n keywords of text.
func TopKeywords(text string, n int) []string {
	kw := ExtractKeywords(text)
	if len(kw) > n {
		kw = kw[:n]
	}
	return kw
}
