package probability

import "math"

// AgePlausibility scores how well the reported age difference fits the
// expected age-gap range for a relationship code. It returns the neutral
// 0.5 when either age is absent or the code has no known range. Inside the
// range the score falls linearly from 1.0 at the center to 0.0 at either
// edge; outside, it decays linearly over ageDecayYears.
func AgePlausibility(relationshipCode string, age1, age2 *int) float64 {
	if age1 == nil || age2 == nil {
		return neutralScore
	}
	expected, ok := ageGapRanges[relationshipCode]
	if !ok {
		return neutralScore
	}

	diff := math.Abs(float64(*age1 - *age2))

	switch {
	case diff < expected.Min:
		return math.Max(0, 1-(expected.Min-diff)/ageDecayYears)
	case diff > expected.Max:
		return math.Max(0, 1-(diff-expected.Max)/ageDecayYears)
	}

	halfWidth := (expected.Max - expected.Min) / 2
	if halfWidth <= 0 {
		return 1
	}
	center := (expected.Min + expected.Max) / 2
	return 1 - math.Abs(diff-center)/halfWidth
}
