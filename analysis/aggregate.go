package analysis

import "github.com/shopspring/decimal"

// Round2 rounds the decimal value of v half away from zero to two places.
// 1.005 rounds to 1.01 even though its float64 is slightly below it.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Mean is the rounded arithmetic mean of scores, or 0 for none. The sum is
// taken in decimal so float drift cannot move a half-way mean down.
func Mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, s := range scores {
		sum = sum.Add(decimal.NewFromFloat(s))
	}
	return sum.Div(decimal.NewFromInt(int64(len(scores)))).Round(2).InexactFloat64()
}

// The aggregate functions overwrite whatever the provider reported with a
// value computed from the structured sub-scores.

func aggregateStructure(r *StructureResult) {
	scores := make([]float64, len(r.Acts))
	for i, a := range r.Acts {
		scores[i] = a.Score
	}
	r.OverallScore = Mean(scores)
}

func aggregateHeroJourney(r *HeroJourneyResult) {
	scores := make([]float64, len(r.Stages))
	for i, s := range r.Stages {
		scores[i] = s.Score
	}
	r.AdherenceScore = Mean(scores)
}

func aggregateRepresentation(r *RepresentationResult) {
	scores := make([]float64, len(r.Tests))
	for i, t := range r.Tests {
		scores[i] = t.Score
	}
	r.OverallScore = Mean(scores)
}

func aggregateMarketViability(r *MarketViabilityResult) {
	scores := make([]float64, len(r.Factors))
	for i, f := range r.Factors {
		scores[i] = f.Score
	}
	r.OverallScore = Mean(scores)
}
