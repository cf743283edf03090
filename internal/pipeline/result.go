package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/price-research-scraper/internal/classifier"
	"github.com/maltedev/price-research-scraper/internal/models"
	"github.com/maltedev/price-research-scraper/internal/pricing"
	"github.com/maltedev/price-research-scraper/internal/stats"
)

// SearchRun is the outcome of searching one term.
type SearchRun struct {
	Query   string                 `json:"query"`
	Primary bool                   `json:"primary"`
	Result  *models.ScrapingResult `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func (s SearchRun) OfferCount() int {
	if s.Result == nil {
		return 0
	}
	return len(s.Result.Offers)
}

type Result struct {
	RunID   uuid.UUID              `json:"run_id"`
	Request Request                `json:"request"`
	Pivot   *models.ProductDetails `json:"pivot,omitempty"`

	Searches           []SearchRun    `json:"searches"`
	RawOffers          []models.Offer `json:"raw_offers"`
	SelfMatchesRemoved int            `json:"self_matches_removed"`
	Offers             []models.Offer `json:"offers"`
	OutsideTolerance   int            `json:"outside_tolerance"`

	Classification *classifier.FilterResult `json:"classification,omitempty"`
	Comparable     []models.Offer           `json:"comparable_offers"`

	Statistics     *stats.RecommendationData `json:"statistics,omitempty"`
	Recommendation *pricing.Recommendation   `json:"recommendation,omitempty"`

	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// OK reports whether the research produced a recommendation without errors.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

func (r *Result) fail(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Strategy returns the extraction strategy of the primary search.
func (r *Result) Strategy() models.Strategy {
	for _, s := range r.Searches {
		if s.Primary && s.Result != nil {
			return s.Result.Strategy
		}
	}
	return models.StrategyError
}

// Duration is zero until the run completed.
func (r *Result) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
