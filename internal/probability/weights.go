package probability

import "github.com/genetica-tools/kinship-api/internal/types"

// Canonical factor weights. The sum must be exactly 1.0; weights_test.go
// enforces it.
const (
	weightCMDistance     = 0.30
	weightRangeFit       = 0.20
	weightSegments       = 0.20
	weightLargestSegment = 0.15
	weightXMatch         = 0.05
	weightAgeMatch       = 0.10
)

const (
	// neutralScore is returned by a factor when the request carries no
	// evidence for it, or the code has no entry in the relevant table.
	neutralScore = 0.5

	// cmBufferZone is the relative deviation from the profile average
	// inside which the cM-distance factor stays at 1.0 (measurement noise).
	cmBufferZone = 0.15

	// softPenaltyExponent flattens out-of-range penalties so small
	// deviations are barely punished.
	softPenaltyExponent = 0.7

	generationMatchBoost      = 1.25
	generationMismatchPenalty = 0.75

	// ageDecayYears is the linear falloff distance once an age gap leaves
	// the expected range.
	ageDecayYears = 10.0
)

// valueRange is an inclusive [Min, Max] expectation for a per-code table.
type valueRange struct {
	Min, Max float64
}

// segmentCountRanges holds the typical shared-segment counts per
// relationship code. Codes without an entry score neutral.
var segmentCountRanges = map[string]valueRange{
	"FS": {35, 45},
	"1C": {25, 35},
	"2C": {10, 20},
	"3C": {4, 8},
	"4C": {2, 5},
}

// largestSegmentRanges holds the typical largest-segment lengths in cM.
var largestSegmentRanges = map[string]valueRange{
	"FS": {150, 250},
	"1C": {80, 150},
	"2C": {50, 100},
	"3C": {20, 50},
	"4C": {10, 30},
}

// xExpectation encodes what X-chromosome sharing a relationship implies.
type xExpectation int

const (
	xVariable xExpectation = iota
	xMustShare
	xMustNotShare
)

// xInheritancePatterns maps codes to their X-sharing expectation. Full
// siblings always share X material through their mother; the cousin lines
// vary with the path through the pedigree. Codes absent here are variable.
var xInheritancePatterns = map[string]xExpectation{
	"FS": xMustShare,
	"1C": xVariable,
	"2C": xVariable,
	"3C": xVariable,
	"4C": xVariable,
}

// ageGapRanges holds the empirically expected |age1 - age2| interval in
// years per relationship code. Codes without an entry score neutral.
var ageGapRanges = map[string]valueRange{
	"FS":  {0, 20},
	"HS":  {0, 25},
	"1C":  {0, 20},
	"2C":  {0, 30},
	"3C":  {0, 40},
	"4C":  {0, 50},
	"GAU": {10, 50},
	"HAU": {10, 50},
	"GP":  {30, 80},
}

// closeRelationshipCodes selects the milder endogamy correction table.
// Everything else counts as a distant relationship.
var closeRelationshipCodes = map[string]struct{}{
	"FS":  {},
	"HS":  {},
	"1C":  {},
	"2C":  {},
	"GP":  {},
	"GAU": {},
	"HAU": {},
}

// Endogamy divisors per level. Close relationships inflate less than
// distant ones, so their factors top out lower.
var (
	closeEndogamyFactors = map[types.EndogamyLevel]float64{
		types.EndogamyNone:     1.0,
		types.EndogamyLight:    1.1,
		types.EndogamyModerate: 1.2,
		types.EndogamyHigh:     1.3,
		types.EndogamyVeryHigh: 1.4,
	}
	distantEndogamyFactors = map[types.EndogamyLevel]float64{
		types.EndogamyNone:     1.0,
		types.EndogamyLight:    1.25,
		types.EndogamyModerate: 1.5,
		types.EndogamyHigh:     1.75,
		types.EndogamyVeryHigh: 2.0,
	}
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
