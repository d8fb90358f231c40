// Package query turns raw search input into the normalized form used as a
// cache key across cookies, Redis and the queries table.
package query

import (
	"net/url"
	"strings"
)

// MaxLength caps the normalized query.
const MaxLength = 50

var noiseWords = map[string]struct{}{
	"full":     {},
	"hd":       {},
	"watch":    {},
	"latest":   {},
	"download": {},
}

// Normalize lowercases s, drops everything but ASCII letters, digits and
// spaces, removes noise words, collapses whitespace and caps the result at
// MaxLength bytes. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + ('a' - 'A'))
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == ' ', c == '\t', c == '\n', c == '\r':
			b.WriteByte(' ')
		}
	}

	out := dropNoise(b.String())
	if len(out) > MaxLength {
		// Cutting can leave a partial word that is itself a noise word.
		out = dropNoise(out[:MaxLength])
	}
	return out
}

func dropNoise(s string) string {
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if _, noise := noiseWords[w]; noise {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// IsNormalized reports whether s is already in normalized form. Callers use
// it to redirect to the canonical spelling.
func IsNormalized(s string) bool {
	return Normalize(s) == s
}

// CookieName returns the cookie name that caches the image for a normalized
// query, matching PHP's urlencode (spaces become '+').
func CookieName(normalized string) string {
	return url.QueryEscape(normalized)
}
