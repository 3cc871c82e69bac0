package codesearch

import (
	"strings"
	"unicode/utf8"
)

const (
	maxTextRunes     = 7000
	truncationMarker = "..."
	indentBreakpoint = 2
)

// findFileContents returns the string leaf with the most lines anywhere in a
// decoded response; the first one wins ties. The response has no stable
// schema, so this is a heuristic and reports false when no string exists.
func findFileContents(v any) (string, bool) {
	var (
		best  string
		lines int
	)
	var walk func(any)
	walk = func(node any) {
		switch n := node.(type) {
		case string:
			if c := strings.Count(n, "\n") + 1; c > lines {
				best, lines = n, c
			}
		case []any:
			for _, item := range n {
				walk(item)
			}
		}
	}
	walk(v)
	return best, lines > 0
}

// sliceLines keeps lines start..end, 1-based and inclusive, clamped to the
// content.
func sliceLines(contents string, start, end int) string {
	lines := strings.Split(contents, "\n")
	from := max(start-1, 0)
	to := min(end, len(lines))
	if from >= to {
		return ""
	}
	return strings.Join(lines[from:to], "\n")
}

// removeOverIndent strips the common leading spaces from every line when
// they exceed the breakpoint.
func removeOverIndent(contents string) string {
	lines := strings.Split(contents, "\n")
	common := -1
	for _, line := range lines {
		n := len(line) - len(strings.TrimLeft(line, " "))
		if common < 0 || n < common {
			common = n
		}
	}
	if common <= indentBreakpoint {
		return contents
	}
	for i, line := range lines {
		lines[i] = line[common:]
	}
	return strings.Join(lines, "\n")
}

func truncate(contents string) string {
	if utf8.RuneCountInString(contents) <= maxTextRunes {
		return contents
	}
	runes := []rune(contents)
	return string(runes[:maxTextRunes]) + truncationMarker
}
