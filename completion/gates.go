package completion

import "strings"

const fence = "```"

// InCodeBlock reports whether line cursorLine of text sits inside a fenced
// code block. Every line from the top through the cursor line whose trimmed
// content contains a fence toggles the state, so the cost is O(lines) per
// call; nothing is tracked incrementally.
func InCodeBlock(text string, cursorLine int) bool {
	inside := false
	for i, line := range strings.Split(text, "\n") {
		if i > cursorLine {
			break
		}
		if strings.Contains(strings.TrimSpace(line), fence) {
			inside = !inside
		}
	}
	return inside
}

// Excluded reports whether path contains any of the configured substrings.
// Empty patterns never match.
func Excluded(path string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}
