package stats

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-research-scraper/internal/models"
)

func offer(price float64, cond models.Condition) models.Offer {
	o, _ := models.NewOffer("item", decimal.NewFromFloat(price), models.SourceDOMParsing)
	o.Condition = cond
	return o
}

func offers(cond models.Condition, ps ...float64) []models.Offer {
	out := make([]models.Offer, len(ps))
	for i, p := range ps {
		out[i] = offer(p, cond)
	}
	return out
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"median odd", []float64{3, 1, 2}, 0.5, 2},
		{"median even", []float64{4, 1, 3, 2}, 0.5, 2.5},
		{"single value", []float64{5}, 0.9, 5},
		{"minimum", []float64{10, 20, 30}, 0, 10},
		{"maximum", []float64{10, 20, 30}, 1, 30},
		{"interpolated", []float64{80, 95, 100, 102, 105, 110, 500}, 0.25, 97.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.values, tt.p), 1e-9)
		})
	}

	assert.True(t, math.IsNaN(Percentile(nil, 0.5)))
}

func TestPercentile_DoesNotReorderInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Percentile(in, 0.5)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestIQRBounds(t *testing.T) {
	b := IQRBounds([]float64{80, 95, 100, 102, 105, 110, 500})

	assert.InDelta(t, 97.5, b.Q1, 1e-9)
	assert.InDelta(t, 107.5, b.Q3, 1e-9)
	assert.InDelta(t, 10, b.IQR, 1e-9)
	assert.InDelta(t, 82.5, b.Lower, 1e-9)
	assert.InDelta(t, 122.5, b.Upper, 1e-9)
	assert.True(t, b.Contains(82.5))
	assert.False(t, b.Contains(500))
}

func TestBoundsOrdering(t *testing.T) {
	samples := [][]float64{
		{1, 2, 3, 4},
		{10, 10, 10, 10, 10},
		{5, 1, 9, 120, 3, 7, 7, 2},
		{0.5, 1000, 2, 999.99},
	}

	for _, s := range samples {
		b := IQRBounds(s)
		med := Percentile(s, 0.5)
		assert.LessOrEqual(t, b.Lower, b.Q1)
		assert.LessOrEqual(t, b.Q1, med)
		assert.LessOrEqual(t, med, b.Q3)
		assert.LessOrEqual(t, b.Q3, b.Upper)
	}
}

func TestRemoveOutliers(t *testing.T) {
	in := offers(models.ConditionNew, 80, 95, 100, 102, 105, 110, 500)

	inliers, outliers := RemoveOutliers(in)

	assert.Len(t, inliers, 5)
	require.Len(t, outliers, 2)
	assert.Equal(t, len(in), len(inliers)+len(outliers))
	assert.InDelta(t, 80, outliers[0].PriceFloat(), 1e-9)
	assert.InDelta(t, 500, outliers[1].PriceFloat(), 1e-9)
	for _, o := range inliers {
		assert.NotEqual(t, 500.0, o.PriceFloat())
	}
}

func TestRemoveOutliers_SmallSample(t *testing.T) {
	in := offers(models.ConditionNew, 1, 2, 10000)

	inliers, outliers := RemoveOutliers(in)

	assert.Equal(t, in, inliers)
	assert.Empty(t, outliers)
}

func TestEngine_CustomMultiplier(t *testing.T) {
	e := NewEngine(3, 4, nil)
	in := offers(models.ConditionNew, 80, 95, 100, 102, 105, 110, 500)

	inliers, outliers := e.RemoveOutliers(in)

	assert.Len(t, inliers, 6)
	assert.Len(t, outliers, 1)
}

func TestEngine_Bounds(t *testing.T) {
	e := DefaultEngine()

	_, err := e.Bounds(nil)
	assert.ErrorIs(t, err, ErrEmptySample)

	_, err = e.Bounds([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrInsufficientSample)

	_, err = e.Bounds([]float64{1, 2, 3, 4})
	assert.NoError(t, err)
}

func TestCalculateStatistics(t *testing.T) {
	s, err := CalculateStatistics([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.NoError(t, err)

	assert.Equal(t, 8, s.N)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.InDelta(t, 5, s.Mean, 1e-9)
	assert.InDelta(t, 4.5, s.Median, 1e-9)
	assert.InDelta(t, 2, s.StdDev, 1e-9)
	require.NotNil(t, s.Q1)
	require.NotNil(t, s.Q3)
	require.NotNil(t, s.IQR)
	assert.InDelta(t, 4, *s.Q1, 1e-9)
	assert.InDelta(t, 5.5, *s.Q3, 1e-9)
	assert.InDelta(t, 1.5, *s.IQR, 1e-9)
	assert.Equal(t, 0, s.OutliersRemoved)
}

func TestCalculateStatistics_SmallAndEmpty(t *testing.T) {
	s, err := CalculateStatistics([]float64{7})
	require.NoError(t, err)
	assert.Equal(t, 7.0, s.Median)
	assert.Equal(t, 0.0, s.StdDev)
	assert.Nil(t, s.Q1)
	assert.Nil(t, s.IQR)

	_, err = CalculateStatistics(nil)
	assert.ErrorIs(t, err, ErrEmptySample)
}

func TestAnalyzeByCondition(t *testing.T) {
	in := append(offers(models.ConditionNew, 100, 102, 104, 106, 108, 900),
		offers(models.ConditionUsed, 60, 70)...)
	in = append(in, offer(50, ""))

	got := AnalyzeByCondition(in)
	require.Len(t, got, 3)

	nw := got[models.ConditionNew]
	require.NotNil(t, nw)
	assert.Equal(t, 6, nw.Count)
	assert.Equal(t, 6, nw.StatsAll.N)
	require.NotNil(t, nw.StatsClean)
	assert.Equal(t, 5, nw.StatsClean.N)
	assert.Equal(t, 1, nw.StatsClean.OutliersRemoved)
	assert.Len(t, nw.Sample, 5)

	used := got[models.ConditionUsed]
	require.NotNil(t, used)
	assert.Equal(t, 2, used.Count)
	assert.Nil(t, used.StatsClean)
	assert.Len(t, used.Sample, 2)

	unknown := got[models.ConditionUnknown]
	require.NotNil(t, unknown)
	assert.Equal(t, 1, unknown.Count)
}

func TestGetPriceRecommendationData(t *testing.T) {
	data := GetPriceRecommendationData(offers(models.ConditionNew, 80, 95, 100, 102, 105, 110, 500))
	require.True(t, data.OK())

	o := data.Overall
	assert.Equal(t, 7, o.TotalOffers)
	assert.Equal(t, 80.0, o.Min)
	assert.Equal(t, 500.0, o.Max)
	assert.InDelta(t, 420, o.Range, 1e-9)
	assert.InDelta(t, 102, o.Median, 1e-9)
	assert.Equal(t, 2, o.OutliersRemoved)
	require.NotNil(t, o.StatsClean)
	assert.Equal(t, 5, o.StatsClean.N)
	assert.Equal(t, 2, o.StatsClean.OutliersRemoved)
	assert.Less(t, o.StatsClean.Max, 500.0)

	d := data.PriceDistribution
	require.NotNil(t, d)
	assert.InDelta(t, 97.5, d.Q1, 1e-9)
	assert.InDelta(t, 107.5, d.Q3, 1e-9)
	assert.LessOrEqual(t, d.Min, d.Q1)
	assert.LessOrEqual(t, d.Q3, d.Max)

	assert.Contains(t, data.ByCondition, models.ConditionNew)
}

func TestGetPriceRecommendationData_Empty(t *testing.T) {
	data := GetPriceRecommendationData(nil)

	assert.Equal(t, NoOffersError, data.Error)
	assert.False(t, data.OK())
	assert.Nil(t, data.Overall)
}

func TestGetPriceRecommendationData_SmallSampleDistribution(t *testing.T) {
	data := GetPriceRecommendationData(offers(models.ConditionUsed, 10, 20))
	require.True(t, data.OK())

	d := data.PriceDistribution
	assert.Equal(t, 15.0, d.Q1)
	assert.Equal(t, 15.0, d.Median)
	assert.Equal(t, 15.0, d.Q3)
	assert.Equal(t, 0, data.Overall.OutliersRemoved)
}
