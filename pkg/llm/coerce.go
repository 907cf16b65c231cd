package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Coerce extracts a JSON document from raw model output. It tries, in order:
// the text verbatim, a ```json fence, any ``` fence, and the span from the
// first opening bracket to the last matching closing bracket.
func Coerce(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if json.Valid([]byte(text)) && text != "" {
		return text, nil
	}

	for _, fence := range []string{"```json", "```"} {
		if body, ok := fenced(text, fence); ok && json.Valid([]byte(body)) {
			return body, nil
		}
	}

	if span, ok := bracketSpan(text); ok && json.Valid([]byte(span)) {
		return span, nil
	}

	return "", fmt.Errorf("%w: no JSON found in %q", ErrMalformedOutput, preview(raw, 500))
}

// Decode coerces raw and unmarshals it into v.
func Decode(raw string, v any) error {
	body, err := Coerce(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

func fenced(text, fence string) (string, bool) {
	start := strings.Index(text, fence)
	if start == -1 {
		return "", false
	}
	rest := text[start+len(fence):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func bracketSpan(text string) (string, bool) {
	obj := strings.Index(text, "{")
	arr := strings.Index(text, "[")

	open, closer := obj, "}"
	if arr != -1 && (obj == -1 || arr < obj) {
		open, closer = arr, "]"
	}
	if open == -1 {
		return "", false
	}
	end := strings.LastIndex(text, closer)
	if end <= open {
		return "", false
	}
	return text[open : end+1], true
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
