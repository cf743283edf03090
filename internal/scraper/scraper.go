package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maltedev/price-research-scraper/internal/fetcher"
	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/metrics"
	"github.com/maltedev/price-research-scraper/internal/models"
	"github.com/maltedev/price-research-scraper/internal/parser"
)

var (
	ErrNoOffers   = errors.New("no offers found")
	ErrInvalidURL = errors.New("invalid product URL")
)

type Scraper interface {
	Search(ctx context.Context, params SearchParams) (*models.ScrapingResult, error)
	ScrapeProduct(ctx context.Context, productURL string) (*models.ProductDetails, error)
}

type Options struct {
	BaseURL   string
	MaxOffers int
	// GraphLimitFactor multiplies MaxOffers for the state and JSON-LD walkers,
	// which see many non-listing nodes; their output is truncated afterwards.
	GraphLimitFactor int
}

// DefaultOptions returns the Mexican listing host and a 25-offer cap.
func DefaultOptions() Options {
	return Options{
		BaseURL:          matcher.DefaultListingBaseURL,
		MaxOffers:        25,
		GraphLimitFactor: 6,
	}
}

// ListingScraper fetches listing and product pages and runs the extraction
// strategies over them.
type ListingScraper struct {
	fetcher    fetcher.Fetcher
	matcher    *matcher.Matcher
	extractors []parser.Extractor
	details    *parser.ProductPageParser
	opts       Options
	logger     *slog.Logger
	metrics    *metrics.Registry
	now        func() time.Time
}

// New creates a listing scraper with the DOM, state and microdata extractors in that order.
func New(f fetcher.Fetcher, m *matcher.Matcher, opts Options, logger *slog.Logger) *ListingScraper {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.MaxOffers <= 0 {
		opts.MaxOffers = def.MaxOffers
	}
	if opts.GraphLimitFactor <= 0 {
		opts.GraphLimitFactor = def.GraphLimitFactor
	}
	if m == nil {
		m = matcher.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ListingScraper{
		fetcher:    f,
		matcher:    m,
		extractors: parser.DefaultExtractors(m),
		details:    parser.NewProductPageParser(),
		opts:       opts,
		logger:     logger.With("component", "scraper"),
		now:        time.Now,
	}
}

// WithExtractors replaces the strategy list; order is priority order.
func (s *ListingScraper) WithExtractors(exts ...parser.Extractor) *ListingScraper {
	s.extractors = exts
	return s
}

func (s *ListingScraper) WithMetrics(m *metrics.Registry) *ListingScraper {
	s.metrics = m
	return s
}

func (s *ListingScraper) Matcher() *matcher.Matcher {
	return s.matcher
}

var _ Scraper = (*ListingScraper)(nil)
