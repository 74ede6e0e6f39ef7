package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON object out of a completion that may wrap
// it in prose or a fenced code block, and unmarshals it into v.
func ExtractJSON(text string, v any) error {
	cleaned := strings.TrimSpace(text)
	if idx := strings.Index(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[idx+3:]
		cleaned = strings.TrimPrefix(cleaned, "json")
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	start := strings.Index(cleaned, "{")
	if start < 0 {
		return fmt.Errorf("extract json: no object found")
	}
	// Braces inside string values must not count toward nesting depth.
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				if err := json.Unmarshal([]byte(cleaned[start:i+1]), v); err != nil {
					return fmt.Errorf("extract json: %w", err)
				}
				return nil
			}
		}
	}
	return fmt.Errorf("extract json: unbalanced object")
}
