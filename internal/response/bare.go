package response

import "strings"

// extractBareJSON pulls top-level JSON objects out of prose. Brace runs that
// do not decode as an object are left in the text.
func extractBareJSON(s string) (string, []map[string]any) {
	var (
		objs []map[string]any
		rest strings.Builder
	)
	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '{')
		if open < 0 {
			rest.WriteString(s[i:])
			break
		}
		open += i
		end := matchBrace(s, open)
		if end < 0 {
			// an unclosed brace is prose; later objects may still close
			rest.WriteString(s[i : open+1])
			i = open + 1
			continue
		}
		if v, ok := decodeObject(s[open : end+1]); ok && len(v) > 0 {
			rest.WriteString(s[i:open])
			objs = append(objs, v)
		} else {
			rest.WriteString(s[i : end+1])
		}
		i = end + 1
	}
	return rest.String(), objs
}

// matchBrace returns the index of the brace closing s[open], honouring
// string literals, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	inString, escaped := false, false
	for i := open; i < len(s); i++ {
		c := s[i]
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
				return i
			}
		}
	}
	return -1
}
