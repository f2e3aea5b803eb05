package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response contains nothing that parses as JSON.
var ErrNoJSON = errors.New("no JSON in response")

// stripFences removes a surrounding markdown code block.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx < 1 {
		return ""
	}
	return strings.Join(lines[1:endIdx], "\n")
}

// DecodeJSON unmarshals the JSON value in an LLM response into v. Code fences
// and prose around the outermost array or object are ignored.
func DecodeJSON(text string, v any) error {
	text = stripFences(text)
	if text == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	span := outermost(text)
	if span == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return nil
}

// outermost returns the text from the first '[' or '{' to its last matching closer.
func outermost(text string) string {
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return ""
	}
	return text[start : end+1]
}
