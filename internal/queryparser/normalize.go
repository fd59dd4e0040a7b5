package queryparser

import (
	"regexp"
	"strings"
)

var unquotedKeyPattern = regexp.MustCompile(`([{,]\s*)([A-Za-z_$][A-Za-z0-9_$]*)(\s*:)`)

var trailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)

// Normalize rewrites a JS-object-literal-flavoured query fragment into
// strict JSON: single-quoted strings become double-quoted, bare
// identifier keys get quoted, and trailing commas before a closing
// bracket are dropped. It does not attempt a full JS-literal grammar,
// just the handful of conveniences the Mongo shell syntax leans on.
func Normalize(s string) (string, error) {
	s = singleToDoubleQuotes(s)
	s = unquotedKeyPattern.ReplaceAllString(s, `$1"$2"$3`)
	s = trailingCommaPattern.ReplaceAllString(s, `$1`)
	return s, nil
}

// singleToDoubleQuotes walks the string swapping single-quoted string
// literals for double-quoted ones, leaving already-double-quoted strings
// (and escaped quotes within them) untouched.
func singleToDoubleQuotes(s string) string {
	var b strings.Builder
	inDouble := false
	inSingle := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && !inSingle:
			inDouble = !inDouble
			b.WriteByte(c)
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteByte('"')
		case c == '\\' && i+1 < len(s) && (inDouble || inSingle):
			b.WriteByte(c)
			i++
			b.WriteByte(s[i])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
