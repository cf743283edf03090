package pricing

import (
	"fmt"
	"math"
)

type Verdict string

const (
	VerdictHigh   Verdict = "high_opportunity"
	VerdictMedium Verdict = "medium_risk"
	VerdictLow    Verdict = "not_recommended"
)

// Viability is a 0-100 launch score: margin weighs 40%, competitor count
// 30%, price stability 10% and position 20%.
type Viability struct {
	Score     int      `json:"score"`
	Verdict   Verdict  `json:"verdict"`
	Action    string   `json:"action"`
	Breakdown []string `json:"breakdown"`
}

const (
	marginWeight      = 0.40
	competitionWeight = 0.30
	stabilityWeight   = 0.10
	positionWeight    = 0.20
)

// Score computes the viability of selling at the given margin against
// competitors offers with the given spread ratio.
func Score(margin float64, competitors int, spreadRatio float64) Viability {
	marginScore := linear(margin, 0.10, 0.30)
	compScore := 100 - linear(float64(competitors), 5, 50)
	stabilityScore := 100 - linear(spreadRatio, 0.2, 1.0)
	// the recommendation already picks the position, so it scores full marks
	positionScore := 100.0

	total := marginScore*marginWeight +
		compScore*competitionWeight +
		stabilityScore*stabilityWeight +
		positionScore*positionWeight

	v := Viability{
		Score: int(math.Round(total)),
		Breakdown: []string{
			fmt.Sprintf("margin (%.1f%%): %.0f/100 -> +%.1f", margin*100, marginScore, marginScore*marginWeight),
			fmt.Sprintf("competition (%d): %.0f/100 -> +%.1f", competitors, compScore, compScore*competitionWeight),
			fmt.Sprintf("price stability: %.0f/100 -> +%.1f", stabilityScore, stabilityScore*stabilityWeight),
			fmt.Sprintf("positioning: %.0f/100 -> +%.1f", positionScore, positionScore*positionWeight),
		},
	}

	switch {
	case v.Score >= 80:
		v.Verdict, v.Action = VerdictHigh, "launch the product"
	case v.Score >= 50:
		v.Verdict, v.Action = VerdictMedium, "proceed with caution"
	default:
		v.Verdict, v.Action = VerdictLow, "revisit costs or niche"
	}
	return v
}

// linear maps x onto 0..100 between lo and hi, clamped.
func linear(x, lo, hi float64) float64 {
	switch {
	case x <= lo:
		return 0
	case x >= hi:
		return 100
	}
	return (x - lo) / (hi - lo) * 100
}
