package parser

import (
	"fmt"

	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/models"
)

// StateExtractor harvests offers from the state object pages embed for
// client-side hydration.
type StateExtractor struct {
	matcher  *matcher.Matcher
	maxNodes int
}

// NewStateExtractor creates an extractor for the embedded preloaded state.
func NewStateExtractor(m *matcher.Matcher) *StateExtractor {
	if m == nil {
		m = matcher.Default()
	}
	return &StateExtractor{matcher: m, maxNodes: DefaultMaxNodes}
}

func (e *StateExtractor) Source() models.Source { return models.SourceStructuredState }

// ParseState returns the embedded state tree, or ErrNoState when the marker is
// missing or the object cannot be parsed even after repair.
func ParseState(html string) (Node, error) {
	raw, ok := FindStateObject(html)
	if !ok {
		return nil, ErrNoState
	}
	root, err := ParseLenient(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoState, err)
	}
	return root, nil
}

func (e *StateExtractor) Extract(html string, product models.IdentifiedProduct, limit int) ([]models.Offer, error) {
	root, err := ParseState(html)
	if err != nil {
		return nil, err
	}

	h := newHarvester(e.matcher, product, limit, e.maxNodes)
	h.walk(root, stateOffer)

	if len(h.offers) == 0 {
		return nil, ErrNoOffers
	}
	return h.offers, nil
}

func stateOffer(obj *Object) []models.Offer {
	title := titleOf(obj)
	if title == "" {
		return nil
	}
	priceNode, ok := obj.First("price")
	if !ok {
		return nil
	}
	price, ok := coercePrice(priceNode)
	if !ok {
		return nil
	}

	offer, err := models.NewOffer(title, price, models.SourceStructuredState)
	if err != nil {
		return nil
	}
	offer.URL = obj.String("permalink", "url")
	offer.ItemID = normalizeItemID(obj.String("id", "item_id"), offer.URL)
	offer.Condition = models.ParseCondition(obj.String("condition"))
	offer.ImageURL = obj.String("thumbnail", "picture", "image")

	return []models.Offer{offer}
}

// titleOf reads title or name, accepting the {"text": "..."} wrapper some
// component trees use.
func titleOf(obj *Object) string {
	for _, key := range []string{"title", "name"} {
		v, ok := obj.Get(key)
		if !ok {
			continue
		}
		if s, ok := AsString(v); ok && s != "" {
			return s
		}
		if inner, ok := v.(*Object); ok {
			if s := inner.String("text"); s != "" {
				return s
			}
		}
	}
	return ""
}

// normalizeItemID prefers a marketplace id found in raw, then one in the URL,
// then raw as given.
func normalizeItemID(raw, url string) string {
	if id := ItemIDFromURL(raw); id != "" {
		return id
	}
	if id := ItemIDFromURL(url); id != "" {
		return id
	}
	return raw
}
