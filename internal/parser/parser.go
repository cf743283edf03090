package parser

import (
	"errors"

	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/models"
)

var (
	ErrNoState  = errors.New("no embedded state object")
	ErrNoOffers = errors.New("extractor found no offers")
)

// DefaultMaxNodes bounds graph walks over very large state blobs.
const DefaultMaxNodes = 200_000

// Extractor turns a fetched page into offers matching product. Errors mean
// "this strategy found nothing" and let the caller move to the next one.
type Extractor interface {
	Source() models.Source
	Extract(html string, product models.IdentifiedProduct, limit int) ([]models.Offer, error)
}

// DefaultExtractors returns the strategies in priority order: DOM first, then
// the embedded state object, then JSON-LD.
func DefaultExtractors(m *matcher.Matcher) []Extractor {
	return []Extractor{
		NewListingExtractor(m),
		NewStateExtractor(m),
		NewMicrodataExtractor(m),
	}
}

// harvester collects offers from product-shaped nodes of a parsed tree.
type harvester struct {
	matcher  *matcher.Matcher
	product  models.IdentifiedProduct
	limit    int
	maxNodes int
	dedupe   bool
	seen     map[string]struct{}
	offers   []models.Offer
}

func newHarvester(m *matcher.Matcher, product models.IdentifiedProduct, limit, maxNodes int) *harvester {
	return &harvester{
		matcher:  m,
		product:  product,
		limit:    limit,
		maxNodes: maxNodes,
		dedupe:   true,
		seen:     make(map[string]struct{}),
	}
}

func (h *harvester) full() bool {
	return h.limit > 0 && len(h.offers) >= h.limit
}

// add keeps o when its title matches and, with dedupe on, its item id was
// not seen earlier in this pass.
func (h *harvester) add(o models.Offer) {
	if h.full() || o.Title == "" {
		return
	}
	if !h.matcher.MatchTitle(o.Title, h.product) {
		return
	}
	if h.dedupe && o.ItemID != "" {
		if _, dup := h.seen[o.ItemID]; dup {
			return
		}
		h.seen[o.ItemID] = struct{}{}
	}
	h.offers = append(h.offers, o)
}

// walk feeds every object in root to shape, which returns the candidate
// offers that object describes.
func (h *harvester) walk(root Node, shape func(*Object) []models.Offer) {
	Walk(root, h.maxNodes, func(n Node) bool {
		obj, ok := n.(*Object)
		if !ok {
			return true
		}
		for _, o := range shape(obj) {
			h.add(o)
		}
		return !h.full()
	})
}
