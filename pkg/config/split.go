package config

import (
	"strings"
	"unicode"
)

// SplitQuotedFields splits in around runs of whitespace, like
// strings.Fields, except that whitespace inside a region delimited by
// quote belongs to the field. A backslash escapes the quote character
// inside a quoted region: '\''
func SplitQuotedFields(in string, quote rune) []string {
	var (
		fields  []string
		buf     strings.Builder
		inField bool
		quoted  bool
		escaped bool
	)

	flush := func() {
		if inField {
			fields = append(fields, buf.String())
			buf.Reset()
			inField = false
		}
	}

	for _, ch := range in {
		switch {
		case escaped:
			buf.WriteRune(ch)
			escaped = false
		case quoted && ch == '\\':
			escaped = true
		case ch == quote:
			quoted = !quoted
			inField = true
		case quoted:
			buf.WriteRune(ch)
		case unicode.IsSpace(ch):
			flush()
		default:
			buf.WriteRune(ch)
			inField = true
		}
	}
	flush()

	return fields
}
