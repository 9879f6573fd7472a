package llm

import "strings"

// extractJSON strips markdown code fences and surrounding prose, returning
// the JSON body starting at the first '{' or '['.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	return s[start:]
}

// jsonComplete reports whether the text forms a balanced JSON document:
// no unterminated strings, and brace/bracket depth returning to zero.
// It is a structural check only; json.Unmarshal still decides validity.
func jsonComplete(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}

	depth := 0
	inString := false
	escaped := false
	seenOpen := false

	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			depth++
			seenOpen = true
		case '}', ']':
			depth--
			if depth < 0 {
				return false
			}
		}
	}

	return seenOpen && depth == 0 && !inString
}
