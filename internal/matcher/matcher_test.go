package matcher

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/maltedev/price-research-scraper/internal/models"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "audifonos sony", NormalizeText("  Audífonos \t SONY "))
	assert.Equal(t, "wh1000xm5", NormalizeModel("WH-1000XM5"))
	assert.Equal(t, "wh1000xm5", NormalizeModel("wh 1000 xm5"))
	assert.Equal(t, "sony-wh-1000xm5-negro", Slugify("Sony WH-1000XM5 (Negro)!"))
	assert.Equal(t, "bocina-12-pulgadas", Slugify("  Bocina 12\" pulgadas "))
}

func TestExtractProduct(t *testing.T) {
	tests := []struct {
		name        string
		description string
		brand       string
		model       string
		normalized  string
		signature   string
	}{
		{
			name:        "brand and model",
			description: "Sony WH-1000XM5 Audífonos Inalámbricos",
			brand:       "sony",
			model:       "wh-1000xm5",
			normalized:  "wh1000xm5",
			signature:   "sony wh-1000xm5",
		},
		{
			name:        "model without brand",
			description: "Bafle BOC-850 recargable",
			model:       "boc-850",
			normalized:  "boc850",
			signature:   "boc-850",
		},
		{
			name:        "brand only",
			description: "Audifonos JBL inalambricos",
			brand:       "jbl",
			signature:   "jbl",
		},
		{
			name:        "generic category search",
			description: "Bocina portátil   8 pulgadas",
			signature:   "bocina portatil 8 pulgadas",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ExtractProduct(tt.description)
			assert.Equal(t, tt.brand, p.Brand)
			assert.Equal(t, tt.model, p.Model)
			assert.Equal(t, tt.normalized, p.ModelNormalized)
			assert.Equal(t, tt.signature, p.Signature)
		})
	}
}

func TestMatchTitle(t *testing.T) {
	withModel := ExtractProduct("Sony WH-1000XM5")
	brandOnly := ExtractProduct("audifonos sony")
	generic := ExtractProduct("bocina bluetooth")

	tests := []struct {
		name    string
		title   string
		product string
		want    bool
	}{
		{"model present without dash", "Audífonos Sony WH1000XM5 Negro", "model", true},
		{"model present with spaces", "Sony WH 1000 XM5 Noise Cancelling", "model", true},
		{"different model", "Sony WH-CH520 Azul", "model", false},
		{"accessory even with model", "Funda Rígida Para Sony WH-1000XM5", "model", false},
		{"accessory with diacritics", "Almohadillas de repuesto WH-1000XM5", "model", false},
		{"brand match", "Sony ULT Wear", "brand", true},
		{"other brand", "Bose QuietComfort 45", "brand", false},
		{"generic accepts", "Bocina Bluetooth Portátil", "generic", true},
		{"generic still rejects accessories", "Cable auxiliar para bocina", "generic", false},
		{"refaccion folded", "Refacción bocina bluetooth", "generic", false},
		{"phrase keyword", "Bocina solo caja sin equipo", "generic", false},
		{"keyword inside a word is fine", "Bocina con bass boost y showcase led", "generic", true},
		{"plural funda", "Fundas Para Sony WH-1000XM5", "model", false},
		{"plural cable", "Cables Sony WH-1000XM5", "model", false},
		{"plural cargador", "Cargadores Sony WH-1000XM5", "model", false},
		{"plural protector", "Protectores de diadema Sony WH-1000XM5", "model", false},
		{"plural soporte", "Soportes para audifonos Sony WH-1000XM5", "model", false},
		{"plural estuche", "Estuches Sony WH-1000XM5", "model", false},
	}

	products := map[string]models.IdentifiedProduct{
		"model":   withModel,
		"brand":   brandOnly,
		"generic": generic,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTitle(tt.title, products[tt.product]))
		})
	}
}

func TestAccessoryKeyword(t *testing.T) {
	kw, ok := Default().AccessoryKeyword("Mica de cristal templado")
	assert.True(t, ok)
	assert.Equal(t, "mica", kw)

	_, ok = Default().AccessoryKeyword("Sony WH-1000XM5")
	assert.False(t, ok)

	custom := New([]string{"acme"}, []string{"Correa"})
	_, ok = custom.AccessoryKeyword("Correa para reloj")
	assert.True(t, ok)
	assert.Equal(t, "acme", custom.ExtractProduct("Reloj ACME").Brand)
}

func TestListingURL(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		filter PriceFilter
		want   string
	}{
		{
			name:   "tolerance window",
			query:  "Sony WH-1000XM5",
			filter: ToleranceFilter(decimal.NewFromInt(1000), 0.30),
			want:   "https://listado.mercadolibre.com.mx/sony-wh-1000xm5#D[A:700-1300]",
		},
		{
			name:   "open lower bound",
			query:  "bocina 8",
			filter: PriceFilter{Max: decimal.NewNullDecimal(decimal.NewFromInt(500))},
			want:   "https://listado.mercadolibre.com.mx/bocina-8#D[A:*-500]",
		},
		{
			name:   "open upper bound truncates fraction",
			query:  "bocina 8",
			filter: PriceFilter{Min: decimal.NewNullDecimal(decimal.RequireFromString("249.99"))},
			want:   "https://listado.mercadolibre.com.mx/bocina-8#D[A:249-*]",
		},
		{
			name:  "no filter",
			query: "tripie 8",
			want:  "https://listado.mercadolibre.com.mx/tripie-8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ListingURL("", tt.query, tt.filter))
		})
	}

	assert.Equal(t, "https://example.test/x", ListingURL("https://example.test/", "x", PriceFilter{}))
}

func TestPriceFilter_Contains(t *testing.T) {
	f := ToleranceFilter(decimal.NewFromInt(100), 0.1)

	assert.True(t, f.Contains(decimal.NewFromInt(90)))
	assert.True(t, f.Contains(decimal.NewFromInt(110)))
	assert.True(t, f.Contains(decimal.NewFromInt(100)))
	assert.False(t, f.Contains(decimal.RequireFromString("89.99")))
	assert.False(t, f.Contains(decimal.RequireFromString("110.01")))
	assert.True(t, PriceFilter{}.Contains(decimal.NewFromInt(1_000_000)))
}
