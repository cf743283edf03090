package stats

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile (p in [0,1]) by linear interpolation
// between the order statistics bracketing rank (n-1)*p. It returns NaN for an
// empty input.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return percentileSorted(sortedCopy(values), p)
}

func percentileSorted(xs []float64, p float64) float64 {
	if len(xs) == 1 {
		return xs[0]
	}
	p = math.Max(0, math.Min(1, p))

	k := float64(len(xs)-1) * p
	f := int(math.Floor(k))
	c := f + 1
	if c > len(xs)-1 {
		c = len(xs) - 1
	}
	if f == c {
		return xs[f]
	}
	return xs[f] + (k-float64(f))*(xs[c]-xs[f])
}

// Bounds are the IQR fences used to classify outliers.
type Bounds struct {
	Q1    float64 `json:"q1"`
	Q3    float64 `json:"q3"`
	IQR   float64 `json:"iqr"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains reports whether v lies inside the fences, bounds included.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

func iqrBounds(values []float64, multiplier float64) Bounds {
	xs := sortedCopy(values)
	q1 := percentileSorted(xs, 0.25)
	q3 := percentileSorted(xs, 0.75)
	iqr := q3 - q1
	return Bounds{
		Q1:    q1,
		Q3:    q3,
		IQR:   iqr,
		Lower: q1 - multiplier*iqr,
		Upper: q3 + multiplier*iqr,
	}
}

// IQRBounds computes q1, q3 and the 1.5*IQR fences.
func IQRBounds(values []float64) Bounds {
	return iqrBounds(values, DefaultIQRMultiplier)
}

func sortedCopy(values []float64) []float64 {
	xs := make([]float64, len(values))
	copy(xs, values)
	sort.Float64s(xs)
	return xs
}
