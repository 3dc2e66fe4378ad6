package query

import (
	"strings"
	"unicode"
)

// literal filters applied before a value is interpolated between single quotes.
// Quotes are doubled first, then the character class filter runs, so a quote can
// never survive either way.

// pivotLiteral passes date-like values (digits and '-') through unchanged and
// restricts everything else to letters, digits and '_'.
func pivotLiteral(s string) string {
	if dateLike(s) {
		return s
	}
	return keep(doubleQuotes(s), func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
	})
}

// dateLiteral is used for the trade_date parameter of the exposure and pnl shapes.
func dateLiteral(s string) string {
	return keep(doubleQuotes(s), func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
	})
}

// listingLiteral is used for reference-data filters, where names may contain spaces.
func listingLiteral(s string) string {
	return keep(doubleQuotes(s), func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == ' '
	})
}

func dateLike(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}

func doubleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func keep(s string, ok func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if ok(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func quote(s string) string {
	return "'" + s + "'"
}
