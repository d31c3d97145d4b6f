package query

import (
	"regexp"
	"strings"
)

// LikeRegexp translates a SQL LIKE pattern into an anchored regular
// expression. Literal runs are escaped, % becomes .* and _ becomes a single
// character. Case sensitivity is left to the caller.
func LikeRegexp(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 4)
	b.WriteByte('^')

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			b.WriteString(regexp.QuoteMeta(lit.String()))
			lit.Reset()
		}
	}
	for _, r := range pattern {
		switch r {
		case '%':
			flush()
			b.WriteString(".*")
		case '_':
			flush()
			b.WriteByte('.')
		default:
			lit.WriteRune(r)
		}
	}
	flush()
	b.WriteByte('$')
	return b.String()
}

// LikePrefix reports whether pattern is a pure prefix match ("abc%") and
// returns the literal prefix.
func LikePrefix(pattern string) (string, bool) {
	if !strings.HasSuffix(pattern, "%") {
		return "", false
	}
	prefix := strings.TrimSuffix(pattern, "%")
	if prefix == "" || strings.ContainsAny(prefix, "%_") {
		return "", false
	}
	return prefix, true
}
