package textutil

import (
	"strings"
	"unicode/utf8"
)

// TruncateSuffix marks text that TruncateText shortened.
const TruncateSuffix = "... [truncated]"

// TruncateText shortens text to at most max characters. It prefers the
// last sentence end, then the last space, provided either keeps more than
// half of the room left after the suffix; otherwise it cuts hard on a rune
// boundary.
func TruncateText(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	if max <= 0 {
		return ""
	}
	runes := []rune(text)
	if max <= len(TruncateSuffix) {
		return string(runes[:max])
	}

	available := max - len(TruncateSuffix)
	truncated := string(runes[:available])
	half := float64(available) * 0.5

	if end := lastSentenceEnd(truncated); end > 0 && float64(utf8.RuneCountInString(truncated[:end])) > half {
		return strings.TrimRight(truncated[:end], " \t\n\r") + TruncateSuffix
	}
	if space := strings.LastIndexByte(truncated, ' '); space > 0 && float64(utf8.RuneCountInString(truncated[:space])) > half {
		return strings.TrimRight(truncated[:space], " \t\n\r") + TruncateSuffix
	}
	return truncated + TruncateSuffix
}

// lastSentenceEnd returns the index just past the last '.', '!' or '?'
// that ends the string or precedes whitespace or a quote, or -1.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if i == len(s)-1 {
				return i + 1
			}
			switch s[i+1] {
			case ' ', '\n', '\t', '"', '\'':
				return i + 1
			}
		}
	}
	return -1
}

// Prefix returns at most n bytes of s, backing off so a multi-byte rune is
// never split.
func Prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
