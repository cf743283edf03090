// Package pricing turns market statistics into a price recommendation.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/maltedev/price-research-scraper/internal/models"
	"github.com/maltedev/price-research-scraper/internal/stats"
)

var ErrNoMarketData = errors.New("no market data to price from")

type Strategy string

const (
	StrategyCompetitive      Strategy = "competitive"
	StrategyMarket           Strategy = "market"
	StrategyValue            Strategy = "value"
	StrategyMarginProtection Strategy = "margin_protection"
)

const (
	DefaultMinMargin = 0.20

	tightSpread = 0.2
	wideSpread  = 0.5

	valueMarkup         = 1.05
	alternativeDiscount = 0.95

	// quartiles assumed when the sample was too small to compute them
	fallbackQ1 = 0.85
	fallbackQ3 = 1.15

	manyOutliers = 3
	smallSample  = 5
)

const (
	RiskOutliers    = "outlier prices detected and removed"
	RiskStable      = "market data is stable"
	RiskSmallSample = "small sample of comparable offers"
	RiskWideSpread  = "wide price spread between competitors"
	RiskSeasonality = "consider seasonal trends"
	RiskMonitor     = "monitor competitor price changes"
)

// Input carries what the statistics do not know about: the seller's cost
// and the margin they refuse to go below. A zero Cost disables margin
// protection.
type Input struct {
	Cost       decimal.Decimal
	MinMargin  float64
	Comparable int
}

type Alternatives struct {
	Aggressive   decimal.Decimal `json:"aggressive"`
	Conservative decimal.Decimal `json:"conservative"`
	Premium      decimal.Decimal `json:"premium"`
}

type Recommendation struct {
	Price          decimal.Decimal `json:"recommended_price"`
	Confidence     float64         `json:"confidence"`
	Strategy       Strategy        `json:"strategy"`
	SpreadRatio    float64         `json:"spread_ratio"`
	Reasoning      string          `json:"reasoning"`
	MarketPosition string          `json:"market_position"`
	RiskFactors    []string        `json:"risk_factors"`
	Alternatives   Alternatives    `json:"alternative_prices"`
	// Margin is (price-cost)/price, only set when a cost was given.
	Margin    *float64  `json:"margin,omitempty"`
	Viability Viability `json:"viability"`
}

type quartiles struct {
	q1, median, q3 float64
}

// Recommend prices against the cleaned statistics when outlier removal ran,
// and against all offers otherwise.
func Recommend(data stats.RecommendationData, in Input) (*Recommendation, error) {
	if !data.OK() {
		if data.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoMarketData, data.Error)
		}
		return nil, ErrNoMarketData
	}
	if in.MinMargin < 0 {
		in.MinMargin = 0
	}
	if in.Comparable <= 0 {
		in.Comparable = data.Overall.TotalOffers
	}

	q := marketQuartiles(basis(data.Overall))
	if q.median <= 0 {
		return nil, fmt.Errorf("%w: median price is zero", ErrNoMarketData)
	}

	spread := q.q3 - q.q1
	ratio := spread / q.median

	rec := &Recommendation{SpreadRatio: ratio}
	var price float64
	switch {
	case ratio < tightSpread:
		price = q.median
		rec.Strategy = StrategyCompetitive
		rec.Confidence = 0.85
		rec.Reasoning = fmt.Sprintf("tight market (IQR %.2f), priced at the median %.2f", spread, q.median)
	case ratio > wideSpread:
		price = q.q1 * valueMarkup
		rec.Strategy = StrategyValue
		rec.Confidence = 0.70
		rec.Reasoning = fmt.Sprintf("wide market (IQR %.2f), priced 5%% above Q1 %.2f", spread, q.q1)
	default:
		price = q.median
		rec.Strategy = StrategyMarket
		rec.Confidence = 0.80
		rec.Reasoning = fmt.Sprintf("moderately competitive market, priced at the median %.2f across %d comparable offers",
			q.median, in.Comparable)
	}

	if in.Cost.IsPositive() {
		cost := in.Cost.InexactFloat64()
		floor := cost * (1 + in.MinMargin)
		if price < floor {
			price = floor
			rec.Strategy = StrategyMarginProtection
			rec.Confidence = 0.90
			rec.Reasoning = fmt.Sprintf("raised to %.2f to keep a %.0f%% margin over cost %.2f; market median is %.2f",
				floor, in.MinMargin*100, cost, q.median)
		} else {
			rec.Reasoning += fmt.Sprintf("; projected markup %.1f%%", (price-cost)/cost*100)
		}
		m := (price - cost) / price
		rec.Margin = &m
	}

	rec.Price = round2(price)
	rec.MarketPosition = position(price, q)
	rec.Alternatives = Alternatives{
		Aggressive:   round2(q.q1 * alternativeDiscount),
		Conservative: round2(q.median),
		Premium:      round2(q.q3 * alternativeDiscount),
	}
	rec.RiskFactors = riskFactors(data.Overall.OutliersRemoved, in.Comparable, ratio)

	margin := 0.0
	if rec.Margin != nil {
		margin = *rec.Margin
	}
	rec.Viability = Score(margin, in.Comparable, ratio)
	return rec, nil
}

func basis(o *stats.Overall) models.PriceStatistics {
	if o.StatsClean != nil {
		return *o.StatsClean
	}
	return o.StatsAll
}

func marketQuartiles(s models.PriceStatistics) quartiles {
	q := quartiles{
		q1:     s.Median * fallbackQ1,
		median: s.Median,
		q3:     s.Median * fallbackQ3,
	}
	if s.Q1 != nil && s.Q3 != nil {
		q.q1, q.q3 = *s.Q1, *s.Q3
	}
	return q
}

func position(price float64, q quartiles) string {
	if q.q3 <= q.q1 {
		return "standard market position"
	}
	pct := (price - q.q1) / (q.q3 - q.q1) * 100
	return fmt.Sprintf("positioned at %.0f%% of the interquartile range", pct)
}

func riskFactors(outliers, comparable int, ratio float64) []string {
	var out []string
	if outliers > manyOutliers {
		out = append(out, RiskOutliers)
	} else {
		out = append(out, RiskStable)
	}
	if comparable < smallSample {
		out = append(out, RiskSmallSample)
	}
	if ratio > wideSpread {
		out = append(out, RiskWideSpread)
	}
	return append(out, RiskSeasonality, RiskMonitor)
}

func round2(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}
