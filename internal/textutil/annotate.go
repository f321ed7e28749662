package textutil

import (
	"regexp"
	"strings"
)

// The annotators below are best-effort heuristics. They surface phrases
// that look like decisions or commitments in chat and meeting text; they
// make no claim of completeness and callers present their output as hints.

const maxAnnotations = 10

var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:we(?:'ve|'ll| will| have)?\s+)?decided\s+(?:to\s+)?(.+)`),
	regexp.MustCompile(`(?i)let's\s+(?:go\s+with|use|do)\s+(.+)`),
	regexp.MustCompile(`(?i)agreed[:\s]+(.+)`),
	regexp.MustCompile(`(?i)decision[:\s]+(.+)`),
	regexp.MustCompile(`(?i)we(?:'re| are)\s+going\s+(?:to|with)\s+(.+)`),
}

var actionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:i(?:'ll| will|'m going to)\s+)(.+)`),
	regexp.MustCompile(`(?i)@\w+\s+(?:can you|please|will you|could you)\s+(.+)`),
	regexp.MustCompile(`(?i)action item[:\s]+(.+)`),
	regexp.MustCompile(`(?i)todo[:\s]+(.+)`),
	regexp.MustCompile(`(?i)needs? to\s+(.+)`),
}

// ExtractDecisions returns phrases that read like a decision, each between
// 11 and 199 bytes, at most 10.
func ExtractDecisions(text string) []string {
	return annotate(text, decisionPatterns, 10)
}

// ExtractActionItems returns phrases that read like a commitment or
// request, each between 6 and 199 bytes, at most 10.
func ExtractActionItems(text string) []string {
	return annotate(text, actionPatterns, 5)
}

func annotate(text string, patterns []*regexp.Regexp, minLen int) []string {
	var out []string
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			phrase := strings.TrimSpace(m[1])
			if len(phrase) > minLen && len(phrase) < 200 {
				out = append(out, phrase)
			}
		}
	}
	if len(out) > maxAnnotations {
		out = out[:maxAnnotations]
	}
	return out
}
