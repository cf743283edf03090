package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/models"
)

// ListingSelectors lists, per field, the selectors tried in order. The first
// one yielding a non-empty value wins.
type ListingSelectors struct {
	Items       []string
	Title       []string
	Price       []string
	Cents       []string
	Link        []string
	Image       []string
	Seller      []string
	Fulfillment []string
	Rating      []string
	Reviews     []string
	Condition   []string
}

// DefaultListingSelectors returns the selectors for both the classic and poly-card layouts.
func DefaultListingSelectors() ListingSelectors {
	return ListingSelectors{
		Items: []string{
			"li.ui-search-layout__item",
			".ui-search-layout__item",
			".poly-card",
		},
		Title: []string{
			".ui-search-item__title",
			".poly-component__title",
			"h2",
		},
		Price: []string{
			".ui-search-price__second-line .andes-money-amount__fraction",
			".poly-price__current .andes-money-amount__fraction",
			".andes-money-amount__fraction",
			".price-tag-fraction",
		},
		Cents: []string{
			".ui-search-price__second-line .andes-money-amount__cents",
			".poly-price__current .andes-money-amount__cents",
			".andes-money-amount__cents",
		},
		Link: []string{
			"a.ui-search-link",
			"a.poly-component__title",
			"a",
		},
		Image: []string{
			"img.ui-search-result-image__element",
			".poly-component__picture",
			"img",
		},
		Seller: []string{
			".ui-search-official-store-label",
			".poly-component__seller",
		},
		Fulfillment: []string{
			".ui-search-item__fulfillment-label",
			".poly-component__shipping-badge",
			".ui-search-item__fulfillment",
		},
		Rating: []string{
			".ui-search-reviews__rating-number",
			".poly-reviews__rating",
		},
		Reviews: []string{
			".ui-search-reviews__amount",
			".poly-reviews__total",
		},
		Condition: []string{
			".ui-search-item__group__element--condition",
			".poly-component__item-condition",
		},
	}
}

// ListingExtractor reads offers straight from the rendered result grid.
type ListingExtractor struct {
	matcher   *matcher.Matcher
	selectors ListingSelectors
}

// NewListingExtractor creates a DOM extractor. A nil matcher means matcher.Default().
func NewListingExtractor(m *matcher.Matcher) *ListingExtractor {
	if m == nil {
		m = matcher.Default()
	}
	return &ListingExtractor{matcher: m, selectors: DefaultListingSelectors()}
}

// WithSelectors replaces the selector table, for layouts not covered by the defaults.
func (e *ListingExtractor) WithSelectors(s ListingSelectors) *ListingExtractor {
	e.selectors = s
	return e
}

func (e *ListingExtractor) Source() models.Source { return models.SourceDOMParsing }

// Extract returns up to limit offers whose title matches product.
func (e *ListingExtractor) Extract(html string, product models.IdentifiedProduct, limit int) ([]models.Offer, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	items := e.items(doc)
	h := newHarvester(e.matcher, product, limit, 0)

	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if offer, ok := e.parseItem(item); ok {
			h.add(offer)
		}
		return !h.full()
	})

	if len(h.offers) == 0 {
		return nil, ErrNoOffers
	}
	return h.offers, nil
}

func (e *ListingExtractor) items(doc *goquery.Document) *goquery.Selection {
	for _, sel := range e.selectors.Items {
		if found := doc.Find(sel); found.Length() > 0 {
			return found
		}
	}
	return doc.Selection.Slice(0, 0)
}

func (e *ListingExtractor) parseItem(item *goquery.Selection) (models.Offer, bool) {
	title := firstText(item, e.selectors.Title)
	if title == "" {
		return models.Offer{}, false
	}
	price, ok := parseDisplayPrice(firstText(item, e.selectors.Price), firstText(item, e.selectors.Cents))
	if !ok {
		return models.Offer{}, false
	}

	offer, err := models.NewOffer(title, price, models.SourceDOMParsing)
	if err != nil {
		return models.Offer{}, false
	}

	offer.URL = firstAttr(item, e.selectors.Link, "href")
	offer.ItemID = ItemIDFromURL(offer.URL)
	offer.ImageURL = firstAttr(item, e.selectors.Image, "data-src", "src")
	offer.SellerName = sellerName(firstText(item, e.selectors.Seller))
	offer.IsFulfilledByPlatform = e.fulfilled(item)
	offer.Condition = models.ParseCondition(firstText(item, e.selectors.Condition))

	if r, ok := parseRating(firstText(item, e.selectors.Rating)); ok {
		offer.SetRating(r)
	}
	if n, ok := parseCount(firstText(item, e.selectors.Reviews)); ok {
		offer.SetReviewCount(n)
	}

	return offer, true
}

// fulfilled detects the platform fulfillment badge, which is either the text
// "full" or an icon-only svg.
func (e *ListingExtractor) fulfilled(item *goquery.Selection) bool {
	for _, sel := range e.selectors.Fulfillment {
		badge := item.Find(sel).First()
		if badge.Length() == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(badge.Text()), "full") || badge.Find("svg").Length() > 0 {
			return true
		}
	}
	return false
}

func firstText(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// firstAttr tries each selector and, within it, each attribute in order.
func firstAttr(s *goquery.Selection, selectors []string, attrs ...string) string {
	for _, sel := range selectors {
		node := s.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		for _, attr := range attrs {
			if v, ok := node.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		// the matched element may wrap the real img
		if img := node.Find("img").First(); img.Length() > 0 {
			for _, attr := range attrs {
				if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
					return strings.TrimSpace(v)
				}
			}
		}
	}
	return ""
}

func sellerName(text string) string {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	for _, prefix := range []string{"por ", "vendido por ", "by "} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(text[len(prefix):])
		}
	}
	return text
}
