package parser

import "strings"

var smartQuotes = strings.NewReplacer(
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, "\u201f", `"`,
	"\u2018", "'", "\u2019", "'", "\u201a", "'", "\u201b", "'",
)

// Repair applies the fixed set of textual repairs, in order: smart quotes are
// normalized, then trailing commas before a closing brace are removed.
// Every other malformation is left alone.
func Repair(raw string) string {
	return stripTrailingCommas(smartQuotes.Replace(raw))
}

// stripTrailingCommas drops a comma whose next non-space byte is '}'.
// Commas inside string literals are kept.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && s[j] == '}' {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}
