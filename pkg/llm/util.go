package llm

import (
	"strings"
)

// WordWrap wraps text at the specified width.
func WordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		currentLineLength := 0
		for j, word := range words {
			if j > 0 {
				if currentLineLength+len(word)+1 > width {
					result.WriteString("\n")
					currentLineLength = 0
				} else {
					result.WriteString(" ")
					currentLineLength++
				}
			}
			result.WriteString(word)
			currentLineLength += len(word)
		}
	}

	return result.String()
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Tail returns the last n runes of s.
func Tail(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// TruncateExcerpts shortens novel excerpt lines between the chunk markers the
// prompts use, so logged prompts stay readable. Other lines are kept as is.
func TruncateExcerpts(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	var result []string
	inExcerpt := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "<novel_text>"), strings.HasPrefix(trimmed, "SOURCE TEXT"):
			inExcerpt = true
			result = append(result, line)
			continue
		case strings.HasPrefix(trimmed, "</novel_text>"), strings.HasPrefix(trimmed, "INSTRUCTIONS"):
			inExcerpt = false
		}

		if inExcerpt {
			if trimmed == "" {
				continue
			}
			result = append(result, Truncate(trimmed, maxLen))
			continue
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}
