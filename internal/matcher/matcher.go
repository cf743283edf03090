package matcher

import (
	"regexp"
	"strings"

	"github.com/maltedev/price-research-scraper/internal/models"
)

// modelPattern matches short alphabetic prefixes followed by 2-6 digits and an
// optional alphanumeric suffix, e.g. "wh-1000xm5" or "srs xb13".
var modelPattern = regexp.MustCompile(`\b([a-z]{1,4}\s*-?\s*\d{2,6}\s*[a-z]{0,6}\d*)\b`)

// DefaultBrands lists the brand tokens ExtractProduct recognizes.
func DefaultBrands() []string {
	return []string{
		"sony", "bose", "jbl", "samsung", "apple", "lg", "xiaomi", "huawei", "lenovo",
		"hp", "dell", "asus", "acer", "logitech", "canon", "nikon", "nintendo", "microsoft",
		"philips", "panasonic", "motorola", "steren", "yamaha", "pioneer", "kenwood",
	}
}

// DefaultAccessoryKeywords lists title words that mark an accessory listing.
func DefaultAccessoryKeywords() []string {
	return []string{
		"funda", "case", "carcasa", "protector", "mica", "glass", "templado", "cable",
		"adaptador", "cargador", "base", "soporte", "refacción", "repuesto", "control",
		"almohadillas", "earpads", "estuche", "solo caja",
		"cover", "charger", "adapter", "replacement",
	}
}

// Matcher derives product signatures and filters listing titles against them.
type Matcher struct {
	brands      map[string]struct{}
	accessories []string
	accessoryRe *regexp.Regexp
}

// New creates a matcher. Brands and keywords are normalized.
func New(brands, accessoryKeywords []string) *Matcher {
	m := &Matcher{
		brands: make(map[string]struct{}, len(brands)),
	}
	for _, b := range brands {
		if b = NormalizeText(b); b != "" {
			m.brands[b] = struct{}{}
		}
	}

	quoted := make([]string, 0, len(accessoryKeywords))
	for _, kw := range accessoryKeywords {
		kw = NormalizeText(kw)
		if kw == "" {
			continue
		}
		m.accessories = append(m.accessories, kw)
		quoted = append(quoted, regexp.QuoteMeta(kw))
	}
	// anchored at the start of a word only, so plurals like "fundas" match
	if len(quoted) > 0 {
		m.accessoryRe = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)`)
	}
	return m
}

var defaultMatcher = New(DefaultBrands(), DefaultAccessoryKeywords())

// Default returns the matcher configured with the built-in brand and accessory lists.
func Default() *Matcher { return defaultMatcher }

// ExtractProduct derives the signature used to filter scraped titles.
func (m *Matcher) ExtractProduct(description string) models.IdentifiedProduct {
	text := NormalizeText(description)

	var brand string
	for _, tok := range strings.Fields(text) {
		if _, ok := m.brands[tok]; ok {
			brand = tok
			break
		}
	}

	var model, normalized string
	if match := modelPattern.FindStringSubmatch(text); match != nil {
		model = strings.TrimSpace(match[1])
		normalized = NormalizeModel(model)
	}

	var parts []string
	if brand != "" {
		parts = append(parts, brand)
	}
	if model != "" {
		parts = append(parts, model)
	}
	signature := strings.Join(parts, " ")
	if signature == "" {
		signature = text
	}

	return models.IdentifiedProduct{
		Brand:           brand,
		Model:           model,
		ModelNormalized: normalized,
		Signature:       signature,
	}
}

// AccessoryKeyword reports the first accessory keyword found in title.
func (m *Matcher) AccessoryKeyword(title string) (string, bool) {
	if m.accessoryRe == nil {
		return "", false
	}
	kw := m.accessoryRe.FindString(NormalizeText(title))
	return kw, kw != ""
}

// MatchTitle decides whether a scraped title belongs to product. Accessory
// titles are always rejected; otherwise the most specific known part of the
// signature must appear in the title.
func (m *Matcher) MatchTitle(title string, product models.IdentifiedProduct) bool {
	if _, ok := m.AccessoryKeyword(title); ok {
		return false
	}
	if product.ModelNormalized != "" {
		return strings.Contains(NormalizeModel(title), product.ModelNormalized)
	}
	if product.Brand != "" {
		return strings.Contains(NormalizeText(title), product.Brand)
	}
	return true
}

func ExtractProduct(description string) models.IdentifiedProduct {
	return defaultMatcher.ExtractProduct(description)
}

func MatchTitle(title string, product models.IdentifiedProduct) bool {
	return defaultMatcher.MatchTitle(title, product)
}
