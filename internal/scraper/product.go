package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/maltedev/price-research-scraper/internal/fetcher"
	"github.com/maltedev/price-research-scraper/internal/models"
	"github.com/maltedev/price-research-scraper/internal/parser"
)

// ScrapeProduct returns the details of a single product page. Product pages
// are guarded more heavily than listings, so when the URL carries an item id
// the listing search for that id is tried first.
func (s *ListingScraper) ScrapeProduct(ctx context.Context, productURL string) (*models.ProductDetails, error) {
	u, err := url.Parse(productURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, productURL)
	}

	itemID := parser.ItemIDFromURL(productURL)
	if itemID != "" {
		if d := s.detailsFromSearch(ctx, itemID, productURL); d != nil {
			return d, nil
		}
	}

	html, err := s.fetcher.Fetch(ctx, productURL)
	if err != nil {
		return nil, fmt.Errorf("fetch product page: %w", err)
	}

	details, err := s.details.Parse(html, productURL)
	if err != nil {
		if errors.Is(err, parser.ErrNoDetails) && fetcher.MentionsChallenge(html) {
			return nil, fmt.Errorf("%w: %w", err, fetcher.ErrBlocked)
		}
		return nil, err
	}
	return details, nil
}

func (s *ListingScraper) detailsFromSearch(ctx context.Context, itemID, productURL string) *models.ProductDetails {
	// the id never appears in titles, so nothing is filtered by signature
	product := models.IdentifiedProduct{Signature: itemID}

	res, err := s.search(ctx, product, SearchParams{MaxOffers: 5})
	if err != nil || !res.HasOffers() {
		s.logger.Debug("search bypass found nothing", "item_id", itemID, "error", err)
		return nil
	}

	best := res.Offers[0]
	for _, o := range res.Offers {
		if o.ItemID == itemID {
			best = o
			break
		}
	}

	price := best.Price
	d := &models.ProductDetails{
		ItemID:     itemID,
		Title:      best.Title,
		Price:      &price,
		Currency:   "MXN",
		Condition:  best.Condition,
		ImageURL:   best.ImageURL,
		URL:        productURL,
		Attributes: map[string]string{},
		Source:     best.Source,
		ScrapedAt:  s.now(),
	}
	if best.URL != "" {
		d.URL = best.URL
	}
	if best.SellerName != "" {
		d.Attributes["seller"] = best.SellerName
	}

	s.logger.Info("product resolved through listing search", "item_id", itemID, "title", d.Title)
	return d
}
