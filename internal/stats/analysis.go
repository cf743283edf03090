package stats

import (
	"github.com/maltedev/price-research-scraper/internal/models"
)

const sampleSize = 5

// NoOffersError is reported in RecommendationData when there is nothing to analyze.
const NoOffersError = "no offers available"

type ConditionAnalysis struct {
	Count      int                     `json:"count"`
	StatsAll   models.PriceStatistics  `json:"stats_all"`
	StatsClean *models.PriceStatistics `json:"stats_clean,omitempty"`
	Sample     []models.Offer          `json:"sample_offers"`
}

type Overall struct {
	TotalOffers     int                     `json:"total_offers"`
	Mean            float64                 `json:"mean"`
	Median          float64                 `json:"median"`
	StdDev          float64                 `json:"std_dev"`
	Range           float64                 `json:"range"`
	Min             float64                 `json:"min"`
	Max             float64                 `json:"max"`
	StatsAll        models.PriceStatistics  `json:"stats_all"`
	StatsClean      *models.PriceStatistics `json:"stats_clean,omitempty"`
	OutliersRemoved int                     `json:"outliers_removed"`
}

// Distribution is the five-number summary recommendation synthesis works from.
// Quartiles fall back to the median when the sample is too small for them.
type Distribution struct {
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

type RecommendationData struct {
	Error             string                                  `json:"error,omitempty"`
	ByCondition       map[models.Condition]*ConditionAnalysis `json:"by_condition,omitempty"`
	Overall           *Overall                                `json:"overall,omitempty"`
	PriceDistribution *Distribution                           `json:"price_distribution,omitempty"`
}

func (d *RecommendationData) OK() bool {
	return d.Error == "" && d.Overall != nil
}

// AnalyzeByCondition groups offers into new, used and unknown. Empty groups
// are omitted. A group gets cleaned statistics only when it is large enough
// for outlier detection and something survives it.
func (e Engine) AnalyzeByCondition(offers []models.Offer) map[models.Condition]*ConditionAnalysis {
	groups := make(map[models.Condition][]models.Offer, len(models.Conditions))
	for _, o := range offers {
		c := o.Condition
		if c != models.ConditionNew && c != models.ConditionUsed {
			c = models.ConditionUnknown
		}
		groups[c] = append(groups[c], o)
	}

	out := make(map[models.Condition]*ConditionAnalysis, len(groups))
	for _, c := range models.Conditions {
		group := groups[c]
		if len(group) == 0 {
			continue
		}

		all, err := e.OfferStatistics(group)
		if err != nil {
			continue
		}
		a := &ConditionAnalysis{
			Count:    len(group),
			StatsAll: all,
			Sample:   sample(group),
		}
		if len(group) >= e.MinSample {
			if clean, _ := e.cleanStatistics(group); clean != nil {
				a.StatsClean = clean
			}
		}
		out[c] = a
	}
	return out
}

// GetPriceRecommendationData assembles everything pricing needs. An empty
// input is reported through Error rather than a Go error.
func (e Engine) GetPriceRecommendationData(offers []models.Offer) RecommendationData {
	all, err := e.OfferStatistics(offers)
	if err != nil {
		return RecommendationData{Error: NoOffersError}
	}

	clean, removed := e.cleanStatistics(offers)

	return RecommendationData{
		ByCondition: e.AnalyzeByCondition(offers),
		Overall: &Overall{
			TotalOffers:     all.N,
			Mean:            all.Mean,
			Median:          all.Median,
			StdDev:          all.StdDev,
			Range:           all.Range(),
			Min:             all.Min,
			Max:             all.Max,
			StatsAll:        all,
			StatsClean:      clean,
			OutliersRemoved: removed,
		},
		PriceDistribution: distribution(all),
	}
}

func distribution(s models.PriceStatistics) *Distribution {
	d := &Distribution{
		Min:    s.Min,
		Q1:     s.Median,
		Median: s.Median,
		Q3:     s.Median,
		Max:    s.Max,
	}
	if s.Q1 != nil && s.Q3 != nil {
		d.Q1, d.Q3 = *s.Q1, *s.Q3
	}
	return d
}

func sample(offers []models.Offer) []models.Offer {
	n := min(len(offers), sampleSize)
	out := make([]models.Offer, n)
	copy(out, offers[:n])
	return out
}

// AnalyzeByCondition groups offers by condition using the default engine.
func AnalyzeByCondition(offers []models.Offer) map[models.Condition]*ConditionAnalysis {
	return defaultEngine.AnalyzeByCondition(offers)
}

// GetPriceRecommendationData summarizes offers using the default engine.
func GetPriceRecommendationData(offers []models.Offer) RecommendationData {
	return defaultEngine.GetPriceRecommendationData(offers)
}
