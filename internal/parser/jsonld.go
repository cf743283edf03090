package parser

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/models"
)

// MicrodataExtractor reads schema.org JSON-LD blocks.
type MicrodataExtractor struct {
	matcher  *matcher.Matcher
	maxNodes int
}

// NewMicrodataExtractor creates an extractor for JSON-LD Product blocks.
func NewMicrodataExtractor(m *matcher.Matcher) *MicrodataExtractor {
	if m == nil {
		m = matcher.Default()
	}
	return &MicrodataExtractor{matcher: m, maxNodes: DefaultMaxNodes}
}

func (e *MicrodataExtractor) Source() models.Source { return models.SourceMicrodata }

// JSONLDBlocks parses every ld+json script of the page. Blocks that fail to
// parse are skipped.
func JSONLDBlocks(html string) ([]Node, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var blocks []Node
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		if n, err := ParseLenient(raw); err == nil {
			blocks = append(blocks, n)
		}
	})
	return blocks, nil
}

func (e *MicrodataExtractor) Extract(html string, product models.IdentifiedProduct, limit int) ([]models.Offer, error) {
	blocks, err := JSONLDBlocks(html)
	if err != nil {
		return nil, err
	}

	// sibling offers of one product share its sku, so ids are not unique here
	h := newHarvester(e.matcher, product, limit, e.maxNodes)
	h.dedupe = false
	for _, b := range blocks {
		if h.full() {
			break
		}
		h.walk(b, microdataOffers)
	}

	if len(h.offers) == 0 {
		return nil, ErrNoOffers
	}
	return h.offers, nil
}

// microdataOffers returns one offer per price a product node exposes: each
// element of an offers list, a single offers object, or a direct price.
func microdataOffers(node *Object) []models.Offer {
	title := titleOf(node)
	if title == "" {
		return nil
	}

	var priceSources []*Object
	if offersNode, ok := node.First("offers"); ok {
		switch v := offersNode.(type) {
		case *Object:
			priceSources = append(priceSources, v)
		case Array:
			for _, item := range v {
				if o, ok := item.(*Object); ok {
					priceSources = append(priceSources, o)
				}
			}
		}
	} else if _, ok := node.First("price"); ok {
		priceSources = append(priceSources, node)
	} else {
		return nil
	}

	nodeURL := node.String("url")
	var out []models.Offer
	for _, src := range priceSources {
		priceNode, ok := src.First("price", "lowPrice")
		if !ok {
			continue
		}
		price, ok := coercePrice(priceNode)
		if !ok {
			continue
		}
		offer, err := models.NewOffer(title, price, models.SourceMicrodata)
		if err != nil {
			continue
		}

		offer.URL = src.String("url")
		if offer.URL == "" {
			offer.URL = nodeURL
		}
		offer.ItemID = firstNonEmpty(ItemIDFromURL(src.String("url")), normalizeItemID(node.String("sku", "productID"), nodeURL))
		offer.Condition = models.ParseCondition(firstNonEmpty(src.String("itemCondition"), node.String("itemCondition")))
		offer.ImageURL = imageOf(node)
		if seller, ok := src.First("seller"); ok {
			if so, ok := seller.(*Object); ok {
				offer.SellerName = so.String("name")
			}
		}
		applyAggregateRating(&offer, node)

		out = append(out, offer)
	}
	return out
}

func imageOf(node *Object) string {
	v, ok := node.First("image")
	if !ok {
		return ""
	}
	switch img := v.(type) {
	case Array:
		for _, item := range img {
			if s, ok := AsString(item); ok && s != "" {
				return s
			}
		}
	case *Object:
		return img.String("url", "contentUrl")
	default:
		s, _ := AsString(v)
		return s
	}
	return ""
}

func applyAggregateRating(offer *models.Offer, node *Object) {
	v, ok := node.First("aggregateRating")
	if !ok {
		return
	}
	agg, ok := v.(*Object)
	if !ok {
		return
	}
	if r, err := strconv.ParseFloat(agg.String("ratingValue"), 64); err == nil {
		offer.SetRating(r)
	}
	if n, err := strconv.Atoi(agg.String("reviewCount", "ratingCount")); err == nil {
		offer.SetReviewCount(n)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
