package utils

import (
	"regexp"
	"strings"
)

// TruncationMarker separates the head and tail halves of a shortened
// document. Korean because the corpus is Korean disclosures.
const TruncationMarker = "... [중간 내용 생략] ..."

var (
	spaceRuns   = regexp.MustCompile(`[ \t\x{00A0}]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// CollapseWhitespace normalizes extracted filing text: runs of spaces
// become one space, three or more newlines become a paragraph break.
func CollapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = newlineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// TruncateMiddle limits s to max runes, keeping the head and tail and
// dropping the middle. Disclosure documents front-load the summary and
// back-load the tables, so both ends matter. The marker counts against
// the budget. Returns the text and whether truncation happened.
func TruncateMiddle(s string, max int) (string, bool) {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s, false
	}
	marker := "\n" + TruncationMarker + "\n"
	budget := max - len([]rune(marker))
	if budget < 2 {
		return string(runes[:max]), true
	}
	head := budget / 2
	tail := budget - head
	return string(runes[:head]) + marker + string(runes[len(runes)-tail:]), true
}

// Snippet returns the first max runes of s with an ellipsis when cut.
// Input is whitespace-collapsed first so snippets stay single-line-ish.
func Snippet(s string, max int) string {
	s = CollapseWhitespace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
