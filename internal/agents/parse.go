package agents

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ParseJSON decodes model output that is supposed to be JSON. It tries the
// whole text, then the first fenced code block, then the first bracketed
// [...] or {...} span. When nothing decodes it returns an empty list.
func ParseJSON(text string) any {
	text = strings.TrimSpace(text)

	if v, ok := decode(text); ok {
		return v
	}

	if m := fencePattern.FindStringSubmatch(text); m != nil {
		if v, ok := decode(m[1]); ok {
			return v
		}
	}

	if span := bracketSpan(text); span != "" {
		if v, ok := decode(span); ok {
			return v
		}
	}
	if span := balancedSpan(text); span != "" {
		if v, ok := decode(span); ok {
			return v
		}
	}

	return []any{}
}

func decode(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// bracketSpan returns the text from the first opening bracket to the last
// matching closing bracket of the same kind
func bracketSpan(text string) string {
	for i, r := range text {
		var closing string
		switch r {
		case '[':
			closing = "]"
		case '{':
			closing = "}"
		default:
			continue
		}
		if j := strings.LastIndex(text, closing); j > i {
			return text[i : j+1]
		}
	}
	return ""
}

// balancedSpan returns the first bracket-balanced span, ignoring brackets in strings
func balancedSpan(text string) string {
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// listField returns v when it is a list, or v[key] when v is an object holding a list
func listField(v any, key string) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		if list, ok := t[key].([]any); ok {
			return list
		}
	}
	return nil
}

// remarshal converts a generic decoded value into a typed one
func remarshal(in any, out any) bool {
	b, err := json.Marshal(in)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, out) == nil
}
