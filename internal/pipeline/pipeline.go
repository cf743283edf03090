// Package pipeline runs a complete price research: listing searches for the
// description and its alternative queries, offer validation, classification,
// statistics and the final recommendation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/price-research-scraper/internal/classifier"
	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/metrics"
	"github.com/maltedev/price-research-scraper/internal/models"
	"github.com/maltedev/price-research-scraper/internal/pricing"
	"github.com/maltedev/price-research-scraper/internal/scraper"
	"github.com/maltedev/price-research-scraper/internal/stats"
)

const (
	DefaultTolerance       = 0.30
	DefaultMaxOffers       = 20
	DefaultTermConcurrency = 2
	DefaultMaxAlternatives = 3
)

const (
	ErrMsgNoDescription = "description or product url is required"
	ErrMsgNoProducts    = "product url given but no product scraper configured"
	ErrMsgNoOffers      = "no offers found"
	ErrMsgNoComparable  = "no comparable offers after classification"
)

// Searcher is the part of the scraper the pipeline needs.
type Searcher interface {
	Search(ctx context.Context, params scraper.SearchParams) (*models.ScrapingResult, error)
}

// ProductScraper resolves a product URL into the pivot product of a research.
type ProductScraper interface {
	ScrapeProduct(ctx context.Context, productURL string) (*models.ProductDetails, error)
}

// Deps are the collaborators of a pipeline. Only Searcher is required; a nil
// Classifier means heuristic classification and Products is needed only for
// requests carrying a ProductURL.
type Deps struct {
	Searcher   Searcher
	Products   ProductScraper
	Classifier classifier.Classifier
	Stats      stats.Engine
	Metrics    *metrics.Registry
	Logger     *slog.Logger
}

type Options struct {
	Tolerance             float64
	MaxOffers             int
	TermConcurrency       int
	ClassifierConcurrency int
	MaxAlternatives       int
	FallbackSize          int
	MinMargin             float64
}

// DefaultOptions returns the tolerance, concurrency and fallback defaults.
func DefaultOptions() Options {
	return Options{
		Tolerance:             DefaultTolerance,
		MaxOffers:             DefaultMaxOffers,
		TermConcurrency:       DefaultTermConcurrency,
		ClassifierConcurrency: classifier.DefaultConcurrency,
		MaxAlternatives:       DefaultMaxAlternatives,
		FallbackSize:          classifier.DefaultFallbackSize,
		MinMargin:             pricing.DefaultMinMargin,
	}
}

// Request describes one research. Zero values fall back to the pipeline
// options; a zero ReferencePrice disables the price window. With a ProductURL
// the product page fills in Description, ReferencePrice and ImageURL when they
// are not given.
type Request struct {
	ProductURL         string          `json:"product_url,omitempty"`
	Description        string          `json:"description"`
	AlternativeQueries []string        `json:"alternative_queries,omitempty"`
	ReferencePrice     decimal.Decimal `json:"reference_price"`
	Tolerance          float64         `json:"tolerance,omitempty"`
	MaxOffers          int             `json:"max_offers,omitempty"`
	ImageURL           string          `json:"image_url,omitempty"`
	Cost               decimal.Decimal `json:"cost"`
}

type Pipeline struct {
	searcher Searcher
	products ProductScraper
	filter   *classifier.Filter
	engine   stats.Engine
	opts     Options
	metrics  *metrics.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a pipeline. Zero options take their defaults.
func New(deps Deps, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.Tolerance <= 0 || opts.Tolerance >= 1 {
		opts.Tolerance = def.Tolerance
	}
	if opts.MaxOffers <= 0 {
		opts.MaxOffers = def.MaxOffers
	}
	if opts.TermConcurrency <= 0 {
		opts.TermConcurrency = def.TermConcurrency
	}
	if opts.MaxAlternatives < 0 {
		opts.MaxAlternatives = def.MaxAlternatives
	}
	if opts.MinMargin < 0 {
		opts.MinMargin = def.MinMargin
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := deps.Stats
	if engine.MinSample == 0 {
		engine = stats.DefaultEngine()
	}

	filter := classifier.NewFilter(deps.Classifier, classifier.FilterOptions{
		Concurrency:  opts.ClassifierConcurrency,
		FallbackSize: opts.FallbackSize,
	}, logger)

	return &Pipeline{
		searcher: deps.Searcher,
		products: deps.Products,
		filter:   filter,
		engine:   engine,
		opts:     opts,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "pipeline"),
		now:      time.Now,
	}
}

// Run never returns nil. Anything that kept the research from producing a
// recommendation ends up in Result.Errors; per-term search failures that
// other terms made up for are only Warnings.
func (p *Pipeline) Run(ctx context.Context, req Request) *Result {
	res := &Result{
		RunID:     uuid.New(),
		Request:   req,
		Errors:    []string{},
		StartedAt: p.now(),
	}
	defer func() {
		res.CompletedAt = p.now()
		status := "ok"
		if !res.OK() {
			status = "failed"
		}
		p.metrics.ObserveRun(status)
		p.logger.Info("research finished",
			"run_id", res.RunID,
			"status", status,
			"offers", len(res.Offers),
			"comparable", len(res.Comparable),
			"errors", len(res.Errors),
			"duration", res.CompletedAt.Sub(res.StartedAt))
	}()

	req.Description = strings.TrimSpace(req.Description)
	req.ProductURL = strings.TrimSpace(req.ProductURL)
	if req.ProductURL != "" {
		pivot, err := p.resolvePivot(ctx, &req)
		if err != nil {
			res.fail(err.Error())
			return res
		}
		res.Pivot = pivot
		res.Request = req
	}
	if req.Description == "" {
		res.fail(ErrMsgNoDescription)
		return res
	}
	tolerance := req.Tolerance
	if tolerance <= 0 || tolerance >= 1 {
		tolerance = p.opts.Tolerance
	}
	maxOffers := req.MaxOffers
	if maxOffers <= 0 {
		maxOffers = p.opts.MaxOffers
	}

	filter := matcher.PriceFilter{}
	if req.ReferencePrice.IsPositive() {
		filter = matcher.ToleranceFilter(req.ReferencePrice, tolerance)
	}

	p.logger.Info("research started",
		"run_id", res.RunID,
		"description", req.Description,
		"reference_price", req.ReferencePrice,
		"tolerance", tolerance)

	// step 1: searches
	terms := p.terms(req.Description, req.AlternativeQueries, maxOffers)
	res.Searches = p.search(ctx, terms, filter)
	for _, s := range res.Searches {
		if s.Error != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("search %q: %s", s.Query, s.Error))
		}
	}
	if err := ctx.Err(); err != nil {
		res.fail(fmt.Sprintf("research cancelled: %v", err))
		return res
	}

	raw := mergeOffers(res.Searches, maxOffers)
	var pivotID string
	if res.Pivot != nil {
		pivotID = res.Pivot.ItemID
	}
	raw, res.SelfMatchesRemoved = removeSelfMatches(raw, req.Description, pivotID)
	res.RawOffers = raw
	if len(raw) == 0 {
		res.fail(ErrMsgNoOffers)
		return res
	}

	// step 2: the listing filter is advisory, so the window is enforced again
	res.Offers, res.OutsideTolerance = withinWindow(raw, filter)
	if res.OutsideTolerance > 0 {
		p.logger.Info("offers filtered by price tolerance",
			"removed", res.OutsideTolerance,
			"tolerance_percent", int(tolerance*100))
	}
	if len(res.Offers) == 0 {
		res.fail(fmt.Sprintf("no offers found within price tolerance (+-%d%%)", int(tolerance*100)))
		return res
	}

	// step 3: classification
	target := classifier.Target{
		Description:    req.Description,
		ReferencePrice: req.ReferencePrice.InexactFloat64(),
		ImageURL:       req.ImageURL,
	}
	filtered, err := p.filter.Run(ctx, target, res.Offers)
	if err != nil {
		res.fail(fmt.Sprintf("classification: %v", err))
		return res
	}
	p.observeClassification(filtered)
	res.Classification = filtered
	res.Comparable = filtered.Comparable
	if len(res.Comparable) == 0 {
		res.fail(ErrMsgNoComparable)
		return res
	}

	// step 4: statistics
	data := p.engine.GetPriceRecommendationData(res.Comparable)
	res.Statistics = &data
	if data.Error != "" {
		res.fail(data.Error)
		return res
	}

	// step 5: recommendation
	rec, err := pricing.Recommend(data, pricing.Input{
		Cost:       req.Cost,
		MinMargin:  p.opts.MinMargin,
		Comparable: len(res.Comparable),
	})
	if err != nil {
		res.fail(fmt.Sprintf("recommendation: %v", err))
		return res
	}
	res.Recommendation = rec
	return res
}

// resolvePivot scrapes the product behind req.ProductURL and fills the request
// fields the caller left empty.
func (p *Pipeline) resolvePivot(ctx context.Context, req *Request) (*models.ProductDetails, error) {
	if p.products == nil {
		return nil, errors.New(ErrMsgNoProducts)
	}
	pivot, err := p.products.ScrapeProduct(ctx, req.ProductURL)
	if err != nil {
		return nil, fmt.Errorf("product extraction failed: %w", err)
	}

	if req.Description == "" {
		req.Description = strings.TrimSpace(pivot.Title)
	}
	if req.ReferencePrice.IsZero() && pivot.Price != nil && pivot.Price.IsPositive() {
		req.ReferencePrice = *pivot.Price
	}
	if req.ImageURL == "" {
		req.ImageURL = pivot.ImageURL
	}

	p.logger.Info("pivot product resolved",
		"url", req.ProductURL,
		"item_id", pivot.ItemID,
		"title", pivot.Title,
		"reference_price", req.ReferencePrice)
	return pivot, nil
}

type term struct {
	query     string
	maxOffers int
}

// terms puts the description first, followed by up to MaxAlternatives
// distinct alternative queries that each ask for half as many offers.
func (p *Pipeline) terms(description string, alternatives []string, maxOffers int) []term {
	out := []term{{query: description, maxOffers: maxOffers}}
	seen := map[string]bool{matcher.NormalizeText(description): true}

	altMax := max(maxOffers/2, 1)
	for _, q := range alternatives {
		if len(out) > p.opts.MaxAlternatives {
			break
		}
		q = strings.TrimSpace(q)
		key := matcher.NormalizeText(q)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, term{query: q, maxOffers: altMax})
	}
	return out
}

// search runs every term concurrently. A failed term yields a result with
// the error recorded and no offers; it never aborts the others.
func (p *Pipeline) search(ctx context.Context, terms []term, filter matcher.PriceFilter) []SearchRun {
	runs := make([]SearchRun, len(terms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.TermConcurrency)
	for i, t := range terms {
		i, t := i, t
		g.Go(func() error {
			run := SearchRun{Query: t.query, Primary: i == 0}
			sr, err := p.searcher.Search(gctx, scraper.SearchParams{
				Query:     t.query,
				MaxOffers: t.maxOffers,
				Filter:    filter,
			})
			if sr != nil {
				run.Result = sr
			}
			if err != nil {
				run.Error = err.Error()
				if !errors.Is(err, scraper.ErrNoOffers) {
					p.logger.Warn("search failed", "query", t.query, "error", err)
				}
			}
			runs[i] = run
			return nil
		})
	}
	_ = g.Wait()
	return runs
}

func (p *Pipeline) observeClassification(r *classifier.FilterResult) {
	counts := map[string]int{}
	for _, c := range r.Classifications {
		counts[string(c.Origin)]++
	}
	for outcome, n := range counts {
		p.metrics.ObserveClassifier(outcome, n)
	}
	if r.FallbackApplied {
		p.metrics.ObserveClassifier("fallback", len(r.Comparable))
	}
}

// mergeOffers concatenates offers in term order, keeping the first offer per
// item id. Offers without an id are deduplicated by URL instead.
func mergeOffers(runs []SearchRun, limit int) []models.Offer {
	seen := map[string]bool{}
	var out []models.Offer
	for _, r := range runs {
		if r.Result == nil {
			continue
		}
		for _, o := range r.Result.Offers {
			key := o.ItemID
			if key == "" {
				key = o.URL
			}
			if key != "" {
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			out = append(out, o)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// removeSelfMatches drops the product being priced from its own search: the
// pivot listing by item id, and any offer titled exactly like the description.
func removeSelfMatches(offers []models.Offer, description, pivotID string) ([]models.Offer, int) {
	want := matcher.NormalizeText(description)
	out := offers[:0:0]
	for _, o := range offers {
		if pivotID != "" && o.ItemID == pivotID {
			continue
		}
		if matcher.NormalizeText(o.Title) == want {
			continue
		}
		out = append(out, o)
	}
	return out, len(offers) - len(out)
}

func withinWindow(offers []models.Offer, filter matcher.PriceFilter) ([]models.Offer, int) {
	if filter.IsOpen() {
		return offers, 0
	}
	out := make([]models.Offer, 0, len(offers))
	for _, o := range offers {
		if filter.Contains(o.Price) {
			out = append(out, o)
		}
	}
	return out, len(offers) - len(out)
}
