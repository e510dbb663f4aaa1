package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON recovers a JSON object from raw LLM output: code fences
// are stripped, leading prose before the first brace is dropped, and a
// truncated tail is repaired by closing open strings and balancing
// braces and brackets.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Strip markdown fences, with or without a language tag.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "\n"); idx >= 0 && !strings.HasPrefix(s, "{") {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	s = s[start:]

	return repairTruncated(s)
}

// repairTruncated walks the text tracking string and nesting state and
// appends whatever closers are missing.
func repairTruncated(s string) string {
	var stack []rune
	inString := false
	escaped := false
	end := len(s)

	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
			// string contents are opaque
		case r == '{' || r == '[':
			stack = append(stack, r)
		case r == '}' || r == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				end = i + 1
			}
		}
	}

	out := s[:len(s)]
	if len(stack) == 0 && !inString {
		return s[:end]
	}

	var b strings.Builder
	b.WriteString(out)
	if inString {
		b.WriteByte('"')
	}
	// A repaired value may end mid-pair ("key":); drop a trailing colon
	// or comma before closing.
	trimmed := strings.TrimRight(b.String(), " \t\n,:")
	b.Reset()
	b.WriteString(trimmed)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// DecodeLLMJSON unmarshals LLM output into v, applying ExtractJSON
// first. The raw text is included in the error for log context.
func DecodeLLMJSON(raw string, v any) error {
	cleaned := ExtractJSON(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("%w: decode llm json: %v", ErrInvalidInput, err)
	}
	return nil
}
