package dialogue

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// parseSummarySections splits an end-of-dialogue summary into its three
// labeled lists. Section headers are matched case-insensitively; a missing
// section yields an empty list, never an error.
func parseSummarySections(text string) (insights, unresolved, sources []string) {
	var current *[]string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		switch {
		case headerMatches(trimmed, "key insight"):
			current = &insights
			continue
		case headerMatches(trimmed, "unresolved"):
			current = &unresolved
			continue
		case headerMatches(trimmed, "source"):
			current = &sources
			continue
		}
		if current == nil {
			continue
		}
		item := strings.TrimSpace(bulletPrefix.ReplaceAllString(trimmed, ""))
		if item != "" {
			*current = append(*current, item)
		}
	}
	return insights, unresolved, sources
}

// headerMatches reports whether the line is a section header containing the
// given label, e.g. "KEY INSIGHTS:" or "## Unresolved Questions".
func headerMatches(line, label string) bool {
	lower := strings.ToLower(line)
	if !strings.Contains(lower, label) {
		return false
	}
	// Headers are short lines, usually ending in a colon; a bullet item
	// that merely mentions the label is not a header.
	if bulletPrefix.MatchString(line) && !strings.HasSuffix(strings.TrimSpace(lower), ":") {
		return false
	}
	return len(lower) < 60
}

// classifyOrder checks compound labels before their substrings: "thesis"
// occurs inside both "antithesis" and "synthesis".
var classifyOrder = []Move{
	MoveAntithesis, MoveSynthesis, MoveThesis, MoveQuestion,
	MoveObjection, MoveClarification, MoveEvidence, MoveConcession,
}

// classifyMove matches model output against the closed move set, defaulting
// to clarification when nothing matches.
func classifyMove(text string) Move {
	lower := strings.ToLower(text)
	for _, m := range classifyOrder {
		if strings.Contains(lower, string(m)) {
			return m
		}
	}
	return MoveClarification
}

// leadingYes reports whether the response's leading token is "YES".
func leadingYes(text string) bool {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return false
	}
	head := strings.ToUpper(strings.Trim(fields[0], ".,:;!"))
	return head == "YES"
}

// truncate cuts at a byte budget, backing up to a rune boundary so a
// multibyte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
