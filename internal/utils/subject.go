package utils

import (
	"regexp"
	"strings"
)

var subjectPrefixRegex = regexp.MustCompile(`(?i)^(re|fwd|fw|aw|sv|vs)(\[\d+\])?\s*:\s*`)

// NormalizeSubject removes reply and forward prefixes from a subject
func NormalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	for subjectPrefixRegex.MatchString(subject) {
		subject = strings.TrimSpace(subjectPrefixRegex.ReplaceAllString(subject, ""))
	}
	return subject
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
