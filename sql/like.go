package sql

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ----------------------------------------------------------------------------
//
// SQL Like operator. Internally, the sql's LIKE operator is translated into
// a regex
//
// The sql like's wildcard is relatively simple, basically supports 2
// placeholders
//
// 1. %, represents zero, one or more sequnces of any characters
// 2. _, represents exactly one character
//
// An escape character makes the following character literal. The escape
// used by the engine is '\'; a LIKE ... ESCAPE 'c' clause is rewritten to it
// while parsing, see CanonicalLike.
//
// ----------------------------------------------------------------------------

const LikeEscape = '\\'

func LikeToRegex(
	input string,
) string {
	buf := strings.Builder{}
	buf.WriteString("(?s)^")

	l := len(input)

	for i := 0; i < l; {
		c, xx := utf8.DecodeRuneInString(input[i:])
		if c == utf8.RuneError {
			i++
			continue // skip it
		}

		switch c {
		case LikeEscape:
			if i+xx < l {
				nc, nsz := utf8.DecodeRuneInString(input[i+xx:])
				buf.WriteString(regexp.QuoteMeta(string(nc)))
				i += xx + nsz
				continue
			}
			buf.WriteString(regexp.QuoteMeta(string(c)))
			break

		case '%':
			buf.WriteString(".*")
			break

		case '_':
			buf.WriteString(".")
			break

		default:
			buf.WriteString(regexp.QuoteMeta(string(c)))
			break
		}

		i += xx
	}

	buf.WriteString("$")
	return buf.String()
}

// CanonicalLike rewrites a pattern written with a custom escape character
// into one using LikeEscape.
func CanonicalLike(pattern string, escape rune) string {
	if escape == LikeEscape {
		return pattern
	}
	buf := strings.Builder{}
	esc := false
	for _, c := range pattern {
		if esc {
			buf.WriteRune(LikeEscape)
			buf.WriteRune(c)
			esc = false
			continue
		}
		if c == escape {
			esc = true
			continue
		}
		if c == LikeEscape {
			buf.WriteRune(LikeEscape)
		}
		buf.WriteRune(c)
	}
	return buf.String()
}

// LikePrefix returns the literal text before the first wildcard. Anchored is
// false when the pattern starts with a wildcard; exact is true when the
// pattern has no wildcard at all.
func LikePrefix(pattern string) (prefix string, anchored bool, exact bool) {
	buf := strings.Builder{}
	l := len(pattern)
	for i := 0; i < l; {
		c, xx := utf8.DecodeRuneInString(pattern[i:])
		switch c {
		case LikeEscape:
			if i+xx < l {
				nc, nsz := utf8.DecodeRuneInString(pattern[i+xx:])
				buf.WriteRune(nc)
				i += xx + nsz
				continue
			}
			buf.WriteRune(c)
			break

		case '%', '_':
			return buf.String(), buf.Len() > 0, false

		default:
			buf.WriteRune(c)
			break
		}
		i += xx
	}
	return buf.String(), buf.Len() > 0, true
}

// Matcher caches compiled LIKE patterns.
type Matcher struct {
	cache map[string]*regexp.Regexp
}

func NewMatcher() *Matcher {
	return &Matcher{cache: map[string]*regexp.Regexp{}}
}

// Like matches value against pattern. Trailing blanks of the fixed width
// value are not significant.
func (self *Matcher) Like(value, pattern string) bool {
	pattern = strings.TrimRight(pattern, " ")
	re, ok := self.cache[pattern]
	if !ok {
		re = regexp.MustCompile(LikeToRegex(pattern))
		self.cache[pattern] = re
	}
	return re.MatchString(strings.TrimRight(value, " "))
}
