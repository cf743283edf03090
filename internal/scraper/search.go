package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/price-research-scraper/internal/fetcher"
	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/models"
	"github.com/maltedev/price-research-scraper/internal/parser"
)

type SearchParams struct {
	Query     string
	MaxOffers int
	Filter    matcher.PriceFilter
}

// Search fetches the listing page for params.Query and returns the offers of
// the first strategy that yields any. The result is never nil: fetch failures
// come back as StrategyError and empty pages as StrategyNoOffers, each with
// the matching error.
func (s *ListingScraper) Search(ctx context.Context, params SearchParams) (*models.ScrapingResult, error) {
	product := s.matcher.ExtractProduct(params.Query)
	return s.search(ctx, product, params)
}

func (s *ListingScraper) search(ctx context.Context, product models.IdentifiedProduct, params SearchParams) (*models.ScrapingResult, error) {
	maxOffers := params.MaxOffers
	if maxOffers <= 0 {
		maxOffers = s.opts.MaxOffers
	}

	url := matcher.ListingURL(s.opts.BaseURL, product.Signature, params.Filter)
	result := &models.ScrapingResult{
		Product:    product,
		ListingURL: url,
		Offers:     []models.Offer{},
		Timestamp:  s.now(),
	}

	s.logger.Info("searching listing",
		"brand", product.Brand,
		"model", product.Model,
		"signature", product.Signature,
		"url", url)

	html, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		result.Strategy = models.StrategyError
		result.Error = err.Error()
		s.metrics.ObserveStrategy(string(result.Strategy), 0)
		s.logger.Error("failed to fetch listing", "url", url, "error", err)
		return result, fmt.Errorf("fetch listing: %w", err)
	}

	offers, src, ok := s.extract(html, product, maxOffers)
	if !ok {
		result.Strategy = models.StrategyNoOffers
		s.metrics.ObserveStrategy(string(result.Strategy), 0)

		err := ErrNoOffers
		if fetcher.MentionsChallenge(html) {
			err = fmt.Errorf("%w: page looks like an anti-bot challenge: %w", ErrNoOffers, fetcher.ErrBlocked)
		}
		result.Error = err.Error()
		s.logger.Warn("no offers extracted", "url", url, "html_bytes", len(html), "error", err)
		return result, err
	}

	result.Strategy = models.StrategyFor(src)
	result.Offers = offers
	s.metrics.ObserveStrategy(string(result.Strategy), len(offers))
	s.logger.Info("scraping completed", "strategy", result.Strategy, "offers", len(offers))
	return result, nil
}

// extract runs the strategies in order and commits to the first one with any
// offers. Offers from different strategies are never merged.
func (s *ListingScraper) extract(html string, product models.IdentifiedProduct, maxOffers int) ([]models.Offer, models.Source, bool) {
	for _, ext := range s.extractors {
		limit := maxOffers
		if ext.Source() != models.SourceDOMParsing {
			limit = maxOffers * s.opts.GraphLimitFactor
		}

		offers, err := ext.Extract(html, product, limit)
		if err != nil {
			if !errors.Is(err, parser.ErrNoOffers) && !errors.Is(err, parser.ErrNoState) {
				s.logger.Warn("extractor failed", "source", ext.Source(), "error", err)
			}
			continue
		}
		if len(offers) == 0 {
			continue
		}

		if len(offers) > maxOffers {
			offers = offers[:maxOffers]
		}
		s.logger.Debug("strategy selected", "source", ext.Source(), "offers", len(offers))
		return offers, ext.Source(), true
	}
	return nil, "", false
}
