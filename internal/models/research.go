package models

import (
	"time"
)

// IdentifiedProduct is the signature a search filters scraped titles against.
// It is derived once per description and never cached across descriptions.
type IdentifiedProduct struct {
	Brand           string `json:"brand,omitempty"`
	Model           string `json:"model,omitempty"`
	ModelNormalized string `json:"model_normalized,omitempty"`
	Signature       string `json:"signature"`
}

type Strategy string

const (
	StrategyStructuredState Strategy = "structured_state"
	StrategyMicrodata       Strategy = "microdata"
	StrategyDOMParsing      Strategy = "dom_parsing"
	StrategyNoOffers        Strategy = "no_offers"
	StrategyError           Strategy = "error"
)

// StrategyFor maps the source of an extractor onto the strategy a result reports.
func StrategyFor(src Source) Strategy {
	switch src {
	case SourceStructuredState:
		return StrategyStructuredState
	case SourceMicrodata:
		return StrategyMicrodata
	case SourceDOMParsing:
		return StrategyDOMParsing
	}
	return StrategyError
}

type ScrapingResult struct {
	Product    IdentifiedProduct `json:"identified_product"`
	Strategy   Strategy          `json:"strategy"`
	ListingURL string            `json:"listing_url"`
	Offers     []Offer           `json:"offers"`
	Timestamp  time.Time         `json:"timestamp"`
	Error      string            `json:"error,omitempty"`
}

func (r *ScrapingResult) HasOffers() bool {
	return len(r.Offers) > 0
}

type PriceStatistics struct {
	N               int      `json:"n"`
	Min             float64  `json:"min"`
	Max             float64  `json:"max"`
	Mean            float64  `json:"mean"`
	Median          float64  `json:"median"`
	StdDev          float64  `json:"std_dev"`
	Q1              *float64 `json:"q1,omitempty"`
	Q3              *float64 `json:"q3,omitempty"`
	IQR             *float64 `json:"iqr,omitempty"`
	OutliersRemoved int      `json:"outliers_removed"`
}

func (s PriceStatistics) Range() float64 {
	return s.Max - s.Min
}
