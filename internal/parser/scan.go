package parser

import (
	"strings"
)

// StateMarker precedes the embedded state object on listing and product pages.
const StateMarker = "__PRELOADED_STATE__"

// FindStateObject locates the state marker and returns the balanced object
// literal that follows it.
func FindStateObject(html string) (string, bool) {
	idx := strings.Index(html, StateMarker)
	if idx < 0 {
		return "", false
	}
	rest := html[idx+len(StateMarker):]
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return "", false
	}
	return ExtractBalancedObject(rest, start)
}

// ExtractBalancedObject returns s[start:end] where end closes the brace opened
// at start. Braces inside single or double quoted strings are ignored and
// backslash escapes are honored.
func ExtractBalancedObject(s string, start int) (string, bool) {
	if start < 0 || start >= len(s) || s[start] != '{' {
		return "", false
	}

	depth := 0
	var quote byte
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}
