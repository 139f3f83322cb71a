package repair

import (
	"regexp"
	"strings"
)

// Repairer rewrites almost-JSON text into parseable JSON. The built-in
// implementation is the default; an external repair library can be dropped
// in via WithRepairer without the chain knowing which is active.
type Repairer interface {
	RepairJSON(input string) (string, error)
}

// BuiltinRepairer applies a fixed sequence of syntax fixes: single-quoted
// strings to double-quoted, bare object keys quoted, bare alphabetic values
// quoted, trailing commas stripped, unbalanced braces/brackets closed.
type BuiltinRepairer struct{}

var (
	reBareKey       = regexp.MustCompile(`([{,]\s*)([A-Za-z0-9_]+)(\s*:)`)
	reBareValue     = regexp.MustCompile(`:\s*([A-Za-z][A-Za-z0-9_]*)\s*([,}])`)
	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

func (BuiltinRepairer) RepairJSON(input string) (string, error) {
	fixed := singleToDouble(input)

	fixed = reBareKey.ReplaceAllString(fixed, `$1"$2"$3`)

	// Quote bare alphabetic values; JSON keywords stay bare.
	fixed = reBareValue.ReplaceAllStringFunc(fixed, func(m string) string {
		sub := reBareValue.FindStringSubmatch(m)
		switch sub[1] {
		case "true", "false", "null":
			return m
		}
		return `: "` + sub[1] + `"` + sub[2]
	})

	fixed = reTrailingComma.ReplaceAllString(fixed, "$1")
	fixed += closeOpenDelimiters(fixed)
	return fixed, nil
}

// closeOpenDelimiters returns the closers for every brace or bracket still
// open at end of input, innermost first. String contents are skipped so
// quoted braces do not count.
func closeOpenDelimiters(s string) string {
	var stack []byte
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == ch {
				stack = stack[:n-1]
			}
		}
	}
	var out strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		out.WriteByte(stack[i])
	}
	return out.String()
}

// singleToDouble converts single-quoted strings to double-quoted ones,
// honoring \' escapes and leaving double-quoted regions untouched.
func singleToDouble(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	i := 0
	inDouble := false
	for i < len(s) {
		ch := s[i]
		switch {
		case inDouble:
			out.WriteByte(ch)
			if ch == '\\' && i+1 < len(s) {
				out.WriteByte(s[i+1])
				i++
			} else if ch == '"' {
				inDouble = false
			}
			i++
		case ch == '"':
			inDouble = true
			out.WriteByte(ch)
			i++
		case ch == '\'':
			content, next, closed := scanSingleQuoted(s, i+1)
			if !closed {
				out.WriteByte(ch)
				i++
				continue
			}
			out.WriteByte('"')
			out.WriteString(strings.ReplaceAll(content, `"`, `\"`))
			out.WriteByte('"')
			i = next
		default:
			out.WriteByte(ch)
			i++
		}
	}
	return out.String()
}

// scanSingleQuoted reads from position j until the closing single quote,
// resolving \' escapes. Returns the content, the index after the closing
// quote, and whether a closing quote was found.
func scanSingleQuoted(s string, j int) (string, int, bool) {
	var content strings.Builder
	for j < len(s) {
		ch := s[j]
		if ch == '\\' && j+1 < len(s) {
			if s[j+1] == '\'' {
				content.WriteByte('\'')
			} else {
				content.WriteByte('\\')
				content.WriteByte(s[j+1])
			}
			j += 2
			continue
		}
		if ch == '\'' {
			return content.String(), j + 1, true
		}
		content.WriteByte(ch)
		j++
	}
	return "", j, false
}
