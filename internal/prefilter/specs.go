package prefilter

import (
	"regexp"
	"sort"
	"strings"
)

type Category string

const (
	CategorySize      Category = "size"
	CategoryPower     Category = "power"
	CategoryCapacity  Category = "capacity"
	CategoryStorage   Category = "storage"
	CategoryVoltage   Category = "voltage"
	CategoryWeight    Category = "weight"
	CategoryImpedance Category = "impedance"
)

// Categories is the order conflicts are checked and reported in.
var Categories = []Category{
	CategorySize,
	CategoryPower,
	CategoryCapacity,
	CategoryStorage,
	CategoryVoltage,
	CategoryWeight,
	CategoryImpedance,
}

type specPattern struct {
	category Category
	re       *regexp.Regexp
}

// Each pattern captures the numeric value in group 1. Patterns run on
// lowercased text.
var specPatterns = []specPattern{
	{CategorySize, regexp.MustCompile(`\b(\d{1,2}(?:\.\d)?)\s?(?:"|(?:in|pulg|pulgadas)\b)`)},
	// a bare number after an audio noun is a driver size ("bocina 8", "bafle 15")
	{CategorySize, regexp.MustCompile(`\b(?:bocina|bafle|subwoofer|parlante|woofer|medio|driver)\s+(\d{1,2})\b`)},
	{CategoryPower, regexp.MustCompile(`\b(\d{2,5})\s?(?:w|watts?)\b`)},
	{CategoryCapacity, regexp.MustCompile(`\b(\d{1,3})\s?(?:l|lt|litros|liter)\b`)},
	{CategoryStorage, regexp.MustCompile(`\b(\d{1,4})\s?(?:gb|tb|gigas)\b`)},
	{CategoryVoltage, regexp.MustCompile(`\b(\d{1,3})\s?(?:v|volts?)\b`)},
	{CategoryWeight, regexp.MustCompile(`\b(\d{1,3}(?:\.\d)?)\s?(?:kg|kilos?|lbs?)\b`)},
	{CategoryImpedance, regexp.MustCompile(`\b(\d{1,2})\s?(?:ohms?\b|Ω)`)},
}

// Specs holds the distinct values observed per category.
type Specs map[Category]map[string]struct{}

// ExtractSpecs pulls explicit numeric specifications out of free text.
func ExtractSpecs(text string) Specs {
	text = strings.ToLower(text)
	specs := make(Specs)
	for _, p := range specPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if specs[p.category] == nil {
				specs[p.category] = make(map[string]struct{})
			}
			specs[p.category][m[1]] = struct{}{}
		}
	}
	return specs
}

// Values returns the sorted values of one category.
func (s Specs) Values(c Category) []string {
	out := make([]string, 0, len(s[c]))
	for v := range s[c] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s Specs) Empty() bool {
	for _, vs := range s {
		if len(vs) > 0 {
			return false
		}
	}
	return true
}

// Conflict returns the first category in which both sides state values and
// share none. A side that is silent on a category never conflicts.
func (s Specs) Conflict(other Specs) (Category, bool) {
	for _, c := range Categories {
		mine, theirs := s[c], other[c]
		if len(mine) == 0 || len(theirs) == 0 {
			continue
		}
		shared := false
		for v := range mine {
			if _, ok := theirs[v]; ok {
				shared = true
				break
			}
		}
		if !shared {
			return c, true
		}
	}
	return "", false
}
