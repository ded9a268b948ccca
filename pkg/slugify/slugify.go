// Package slugify turns arbitrary Unicode strings into ASCII slugs, used
// for human-readable storage keys derived from character names and themes.
package slugify

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiHyphen = regexp.MustCompile(`-{2,}`)

// From converts s into a lowercase ASCII slug: accents are stripped via
// NFD decomposition, anything non-alphanumeric becomes a hyphen, and runs
// of hyphens collapse.
func From(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)
	out = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, out)
	out = multiHyphen.ReplaceAllString(out, "-")
	return strings.Trim(out, "-")
}
