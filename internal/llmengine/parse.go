package llmengine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawResult mirrors the strict output schema the model is instructed to
// return.
type rawResult struct {
	ShouldTrigger *bool    `json:"should_trigger"`
	Confidence    *float64 `json:"confidence"`
	Reason        *string  `json:"reason"`
}

// ParseResponse extracts the first balanced JSON object from content —
// whether it's a bare object, fenced in a markdown code block, or
// surrounded by trailing prose — and validates the three required
// fields. It never evaluates or executes model-returned content beyond
// JSON unmarshaling.
func ParseResponse(content string) (shouldTrigger bool, confidence float64, reason string, err error) {
	obj := extractBalancedJSON(content)
	if obj == "" {
		return false, 0, "", fmt.Errorf("no JSON object found in response")
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return false, 0, "", fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.ShouldTrigger == nil {
		return false, 0, "", fmt.Errorf("missing field should_trigger")
	}
	if raw.Confidence == nil {
		return false, 0, "", fmt.Errorf("missing field confidence")
	}
	if raw.Reason == nil {
		return false, 0, "", fmt.Errorf("missing field reason")
	}
	return *raw.ShouldTrigger, *raw.Confidence, *raw.Reason, nil
}

// extractBalancedJSON scans for the first '{' and returns the text up
// to its matching '}', tracking string literals and escapes so braces
// inside quoted strings don't confuse the balance count. It handles
// markdown-fenced blocks (```json ... ```) the same way, since fences
// are simply prose surrounding the object.
func extractBalancedJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
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
				return content[start : i+1]
			}
		}
	}
	return ""
}
