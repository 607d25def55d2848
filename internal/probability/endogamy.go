package probability

import "github.com/genetica-tools/kinship-api/internal/types"

// AdjustCM corrects the raw shared-cM amount for endogamy. Endogamous
// populations share more DNA than the stated relationship predicts, so the
// raw value is divided by a level-dependent factor; the divisor depends on
// whether the candidate relationship is close or distant. An absent or
// "none" level returns cm unchanged. The result is always finite and >= 0.
func AdjustCM(cm float64, level types.EndogamyLevel, relationshipCode string) float64 {
	if level == "" || level == types.EndogamyNone {
		return cm
	}

	table := distantEndogamyFactors
	if _, close := closeRelationshipCodes[relationshipCode]; close {
		table = closeEndogamyFactors
	}

	factor, ok := table[level]
	if !ok || factor <= 0 {
		return cm
	}
	return cm / factor
}

// EndogamyFactorTables exposes the per-level divisors for the help endpoint.
func EndogamyFactorTables() map[string]map[types.EndogamyLevel]float64 {
	clone := func(src map[types.EndogamyLevel]float64) map[types.EndogamyLevel]float64 {
		out := make(map[types.EndogamyLevel]float64, len(src))
		for k, v := range src {
			out[k] = v
		}
		return out
	}
	return map[string]map[types.EndogamyLevel]float64{
		"close":   clone(closeEndogamyFactors),
		"distant": clone(distantEndogamyFactors),
	}
}
