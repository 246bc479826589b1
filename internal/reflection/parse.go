package reflection

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
	becauseOf    = regexp.MustCompile(`\(because of ([\d,\s]+)\)\s*$`)
	firstInt     = regexp.MustCompile(`-?\d+`)
)

// ParseNumberedList splits model output into items, stripping leading
// bullet or number markers. Only marked lines count: unmarked prose like a
// "Here are three questions:" preamble is dropped along with blank lines.
func ParseNumberedList(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !bulletPrefix.MatchString(trimmed) {
			continue
		}
		item := strings.TrimSpace(bulletPrefix.ReplaceAllString(trimmed, ""))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseInsightLine extracts the insight text and its zero-based evidence
// indices from a line shaped like "text (because of 0, 2, 5)". Out-of-range
// or non-numeric tokens are dropped; the indices are validated against
// poolSize.
func parseInsightLine(line string, poolSize int) (string, []int) {
	text := line
	var indices []int
	if m := becauseOf.FindStringSubmatch(line); m != nil {
		text = strings.TrimSpace(strings.TrimSuffix(line, m[0]))
		for _, tok := range strings.Split(m[1], ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(tok))
			if err != nil || idx < 0 || idx >= poolSize {
				continue
			}
			indices = append(indices, idx)
		}
	}
	return text, indices
}

// ParseInteger extracts the first integer from model output. Returns
// (0, false) when none is present.
func ParseInteger(text string) (int, bool) {
	m := firstInt.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseTriple splits "subject | predicate | object" output. Returns false
// when the shape does not match.
func parseTriple(text string) (subject, predicate, object string, ok bool) {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	parts := strings.Split(line, "|")
	if len(parts) != 3 {
		return "", "", "", false
	}
	subject = strings.TrimSpace(parts[0])
	predicate = strings.TrimSpace(parts[1])
	object = strings.TrimSpace(parts[2])
	if subject == "" || predicate == "" || object == "" {
		return "", "", "", false
	}
	return subject, predicate, object, true
}
