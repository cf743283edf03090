package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9]+`)
)

// FoldDiacritics strips combining marks, so "refacción" becomes "refaccion".
func FoldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeText lowercases, folds diacritics and collapses whitespace.
func NormalizeText(s string) string {
	s = FoldDiacritics(strings.ToLower(s))
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// NormalizeModel keeps only [a-z0-9], so "WH-1000XM5" and "wh 1000 xm5" compare equal.
func NormalizeModel(s string) string {
	return nonAlnumRe.ReplaceAllString(NormalizeText(s), "")
}

// Slugify collapses every run of non-alphanumeric characters into a single hyphen.
func Slugify(s string) string {
	return strings.Trim(nonAlnumRe.ReplaceAllString(NormalizeText(s), "-"), "-")
}
