package resolver

import "strings"

// SplitTopLevel splits s on commas that sit outside double-quoted spans and
// outside any {} or [] nesting. Splitting happens only at depth zero; an
// unmatched closer leaves depth below zero for the rest of s. A backslash escapes the following character
// and is kept in the segment. Zero-length segments are skipped; segments are
// not trimmed.
func SplitTopLevel(s string) []string {
	var (
		segments []string
		current  strings.Builder
		depth    int
		inQuotes bool
		escaped  bool
	)

	for i := 0; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			current.WriteByte(c)
			continue
		}

		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inQuotes = !inQuotes
		case inQuotes:
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			// a stray closer drives depth negative, so later commas stay put
			depth--
		case c == ',' && depth == 0:
			if current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			}
			continue
		}

		current.WriteByte(c)
	}

	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}

// SplitKeyValue splits a segment on its first unescaped, unquoted ':' or
// '='. A separator in the first or last position, or a key or value that
// trims to nothing, means the segment is not a pair.
func SplitKeyValue(segment string) (key, value string, ok bool) {
	inQuotes := false
	escaped := false

	for i := 0; i < len(segment); i++ {
		c := segment[i]

		if escaped {
			escaped = false
			continue
		}

		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inQuotes = !inQuotes
		case !inQuotes && (c == ':' || c == '='):
			if i == 0 || i == len(segment)-1 {
				return "", "", false
			}
			key = strings.TrimSpace(segment[:i])
			value = strings.TrimSpace(segment[i+1:])
			if key == "" || value == "" {
				return "", "", false
			}
			return key, value, true
		}
	}

	return "", "", false
}
