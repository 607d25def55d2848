package probability

import (
	"math"

	"github.com/genetica-tools/kinship-api/internal/reference"
	"github.com/genetica-tools/kinship-api/internal/types"
)

// FactorScores holds the independent [0,1] sub-scores computed for one
// candidate profile. Each factor is computable on its own and mutates no
// shared state.
type FactorScores struct {
	CMDistance     float64 `json:"cm_distance"`
	RangeFit       float64 `json:"range_fit"`
	Segments       float64 `json:"segments"`
	LargestSegment float64 `json:"largest_segment"`
	XMatch         float64 `json:"x_match"`
	AgeMatch       float64 `json:"age_match"`
}

// scoreFactors computes all six sub-scores for a profile against the
// endogamy-adjusted request. Arithmetic edge cases (zero average, zero-width
// range) degrade the affected factor to 0 rather than faulting; one bad
// profile must never abort the batch.
func scoreFactors(p reference.Profile, req types.AnalysisRequest, adjustedCM float64) FactorScores {
	return FactorScores{
		CMDistance:     cmDistanceScore(adjustedCM, p.AverageCM),
		RangeFit:       rangeFitScore(adjustedCM, p.MinCM, p.MaxCM),
		Segments:       countRangeScore(intValue(req.SegmentCount), segmentCountRanges, p.Code),
		LargestSegment: countRangeScore(req.LargestSegmentCM, largestSegmentRanges, p.Code),
		XMatch:         xMatchScore(p.Code, req.XInheritance),
		AgeMatch:       AgePlausibility(p.Code, req.Person1Age, req.Person2Age),
	}
}

// cmDistanceScore scores the relative deviation of the adjusted cM from the
// profile average. Deviations within the buffer zone score a full 1.0;
// beyond it the score falls off as sqrt(1 - deviation), floored at 0.
func cmDistanceScore(adjustedCM, averageCM float64) float64 {
	if averageCM <= 0 {
		return 0
	}
	relDev := math.Abs(adjustedCM-averageCM) / averageCM
	switch {
	case relDev <= cmBufferZone:
		return 1
	case relDev >= 1:
		return 0
	}
	return math.Sqrt(1 - relDev)
}

// rangeFitScore is 0 outside [min, max] and otherwise falls off from 1.0 at
// the range midpoint with a sub-linear exponent, so values near the center
// are barely penalized.
func rangeFitScore(adjustedCM, minCM, maxCM float64) float64 {
	if adjustedCM < minCM || adjustedCM > maxCM {
		return 0
	}
	width := maxCM - minCM
	if width <= 0 {
		return 1
	}
	center := (minCM + maxCM) / 2
	ratio := math.Abs(adjustedCM-center) / (width / 2)
	return 1 - math.Pow(ratio, softPenaltyExponent)
}

// countRangeScore scores an observed count or length against the expected
// per-code range in table. Absent observations and codes without a known
// range score neutral; out-of-range observations get the soft ratio penalty.
func countRangeScore(observed *float64, table map[string]valueRange, code string) float64 {
	if observed == nil {
		return neutralScore
	}
	expected, ok := table[code]
	if !ok {
		return neutralScore
	}

	v := *observed
	switch {
	case v < expected.Min:
		if expected.Min <= 0 {
			return 0
		}
		return math.Pow(v/expected.Min, softPenaltyExponent)
	case v > expected.Max:
		if v <= 0 {
			return 0
		}
		return math.Pow(expected.Max/v, softPenaltyExponent)
	}
	return 1
}

// xMatchScore compares observed X sharing against the per-code expectation:
// exact match 1.0, contradiction 0.0, variable or unknown codes 0.5.
func xMatchScore(code string, observed *bool) float64 {
	if observed == nil {
		return neutralScore
	}
	expected, ok := xInheritancePatterns[code]
	if !ok || expected == xVariable {
		return neutralScore
	}
	if (expected == xMustShare && *observed) || (expected == xMustNotShare && !*observed) {
		return 1
	}
	return 0
}

func intValue(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
