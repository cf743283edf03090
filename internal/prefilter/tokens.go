package prefilter

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/maltedev/price-research-scraper/internal/matcher"
)

var (
	tokenRe       = regexp.MustCompile(`\b[a-z0-9]{3,}\b`)
	standaloneRe  = regexp.MustCompile(`\b\d+\b`)
	digitRunRe    = regexp.MustCompile(`\d+`)
	nonAlnumASCII = regexp.MustCompile(`[^a-zA-Z0-9]`)
	specUnitRe    = regexp.MustCompile(`^\d+(?:ohm|w|v|kw|hp|kg|g|lb|oz|ml|l|m|cm|mm|in|ft|gb|tb|hz|khz|mah)$`)
)

var stopWords = map[string]struct{}{
	"para": {}, "con": {}, "los": {}, "las": {}, "una": {}, "uno": {}, "del": {},
	"por": {}, "que": {}, "for": {}, "with": {}, "the": {}, "and": {},
}

func significantTokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenRe.FindAllString(matcher.NormalizeText(text), -1) {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard is the token overlap of a and b over stop-word-filtered tokens of
// at least three characters. Either side without tokens scores 0.
func Jaccard(a, b string) float64 {
	sa, sb := significantTokens(a), significantTokens(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// EssentialKeywords returns model-like tokens such as "xm5", "s23" or "g502":
// tokens mixing letters and digits, or all-caps words of three or more letters.
// Plain measurements like "500w" or "8ohm" are skipped.
func EssentialKeywords(text string) []string {
	var out []string
	for _, tok := range strings.Fields(text) {
		clean := nonAlnumASCII.ReplaceAllString(tok, "")
		if len(clean) < 2 {
			continue
		}
		lower := strings.ToLower(clean)
		if specUnitRe.MatchString(lower) {
			continue
		}
		if hasDigit(clean) || (isUpper(clean) && len(clean) >= 3) {
			out = append(out, lower)
		}
	}
	return out
}

// digitsConsistent requires the candidate to contain at least one of the
// target's standalone numbers, embedded or not. Targets without standalone
// numbers always pass.
func digitsConsistent(target, candidate string) (bool, []string) {
	want := standaloneRe.FindAllString(target, -1)
	if len(want) == 0 {
		return true, nil
	}

	have := make(map[string]struct{})
	for _, d := range digitRunRe.FindAllString(candidate, -1) {
		have[d] = struct{}{}
	}
	for _, d := range want {
		if _, ok := have[d]; ok {
			return true, want
		}
	}
	return false, want
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}
