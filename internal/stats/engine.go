package stats

import (
	"errors"
	"log/slog"
	"math"

	"github.com/maltedev/price-research-scraper/internal/models"
)

const (
	DefaultIQRMultiplier = 1.5
	DefaultMinSample     = 4
)

var (
	ErrEmptySample        = errors.New("cannot compute statistics of an empty sample")
	ErrInsufficientSample = errors.New("sample too small for outlier detection")
)

// Engine holds the two knobs of the outlier rejection. The zero value is not
// useful; use DefaultEngine or NewEngine.
type Engine struct {
	IQRMultiplier float64
	MinSample     int

	logger *slog.Logger
}

// DefaultEngine uses a 1.5 IQR multiplier and a 4-offer minimum sample.
func DefaultEngine() Engine {
	return Engine{IQRMultiplier: DefaultIQRMultiplier, MinSample: DefaultMinSample}
}

// NewEngine creates an engine. Non-positive values fall back to the defaults.
func NewEngine(multiplier float64, minSample int, logger *slog.Logger) Engine {
	if multiplier <= 0 {
		multiplier = DefaultIQRMultiplier
	}
	if minSample < 1 {
		minSample = DefaultMinSample
	}
	e := Engine{IQRMultiplier: multiplier, MinSample: minSample}
	if logger != nil {
		e.logger = logger.With("component", "stats")
	}
	return e
}

func (e Engine) log() *slog.Logger {
	if e.logger == nil {
		return slog.Default().With("component", "stats")
	}
	return e.logger
}

// Bounds returns the IQR fences for values using the engine's multiplier.
// Samples below MinSample yield ErrInsufficientSample.
func (e Engine) Bounds(values []float64) (Bounds, error) {
	if len(values) == 0 {
		return Bounds{}, ErrEmptySample
	}
	if len(values) < e.MinSample {
		return Bounds{}, ErrInsufficientSample
	}
	return iqrBounds(values, e.IQRMultiplier), nil
}

// RemoveOutliers partitions offers into those inside the IQR fences and those
// outside, keeping input order in both. Below MinSample every offer is an inlier.
func (e Engine) RemoveOutliers(offers []models.Offer) (inliers, outliers []models.Offer) {
	b, err := e.Bounds(prices(offers))
	if err != nil {
		return offers, nil
	}

	inliers = make([]models.Offer, 0, len(offers))
	for _, o := range offers {
		if b.Contains(o.PriceFloat()) {
			inliers = append(inliers, o)
		} else {
			outliers = append(outliers, o)
		}
	}

	if len(outliers) > 0 {
		e.log().Debug("outliers removed",
			"count", len(outliers),
			"lower", b.Lower,
			"upper", b.Upper)
	}
	return inliers, outliers
}

// CalculateStatistics summarizes values using the population standard
// deviation. Quartiles are only reported for samples of at least MinSample.
func (e Engine) CalculateStatistics(values []float64) (models.PriceStatistics, error) {
	n := len(values)
	if n == 0 {
		return models.PriceStatistics{}, ErrEmptySample
	}

	xs := sortedCopy(values)

	var sum float64
	for _, v := range xs {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range xs {
		d := v - mean
		sq += d * d
	}

	s := models.PriceStatistics{
		N:      n,
		Min:    xs[0],
		Max:    xs[n-1],
		Mean:   mean,
		Median: percentileSorted(xs, 0.5),
		StdDev: math.Sqrt(sq / float64(n)),
	}

	if n >= e.MinSample {
		q1 := percentileSorted(xs, 0.25)
		q3 := percentileSorted(xs, 0.75)
		iqr := q3 - q1
		s.Q1, s.Q3, s.IQR = &q1, &q3, &iqr
	}
	return s, nil
}

// OfferStatistics is CalculateStatistics over offer prices.
func (e Engine) OfferStatistics(offers []models.Offer) (models.PriceStatistics, error) {
	return e.CalculateStatistics(prices(offers))
}

// cleanStatistics runs the paired outlier pass and annotates the result with
// how many offers were dropped.
func (e Engine) cleanStatistics(offers []models.Offer) (*models.PriceStatistics, int) {
	inliers, outliers := e.RemoveOutliers(offers)
	s, err := e.OfferStatistics(inliers)
	if err != nil {
		return nil, len(outliers)
	}
	s.OutliersRemoved = len(outliers)
	return &s, len(outliers)
}

func prices(offers []models.Offer) []float64 {
	out := make([]float64, len(offers))
	for i, o := range offers {
		out[i] = o.PriceFloat()
	}
	return out
}

var defaultEngine = DefaultEngine()

// RemoveOutliers applies DefaultEngine().RemoveOutliers.
func RemoveOutliers(offers []models.Offer) ([]models.Offer, []models.Offer) {
	return defaultEngine.RemoveOutliers(offers)
}

// CalculateStatistics applies DefaultEngine().CalculateStatistics.
func CalculateStatistics(values []float64) (models.PriceStatistics, error) {
	return defaultEngine.CalculateStatistics(values)
}
