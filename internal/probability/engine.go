package probability

import (
	"sort"
	"strconv"

	"github.com/genetica-tools/kinship-api/internal/reference"
	"github.com/genetica-tools/kinship-api/internal/types"
)

// Candidate is one ranked relationship hypothesis. Probability values across
// a result set sum to 1.0 unless every candidate scored zero.
type Candidate struct {
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	Abbreviation string       `json:"abbreviation"`
	AverageCM    float64      `json:"average_cm"`
	MinCM        float64      `json:"min_cm"`
	MaxCM        float64      `json:"max_cm"`
	Generation   *int         `json:"generation,omitempty"`
	AdjustedCM   float64      `json:"adjusted_cm"`
	Probability  float64      `json:"probability"`
	Factors      FactorScores `json:"factors"`
}

// ScoreAll ranks every catalog profile whose range contains the
// endogamy-adjusted shared cM. The returned slice is sorted by probability
// descending, ties kept in catalog order, and normalized so probabilities
// sum to 1.0. An empty slice is a valid result: the amount simply matched
// no known relationship. The input request is never mutated.
func ScoreAll(req types.AnalysisRequest, profiles []reference.Profile) ([]Candidate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(profiles))
	for _, p := range profiles {
		adjusted := AdjustCM(req.SharedCM, req.EndogamyLevel, p.Code)
		if !p.ContainsCM(adjusted) {
			continue
		}

		factors := scoreFactors(p, req, adjusted)
		score := weightCMDistance*factors.CMDistance +
			weightRangeFit*factors.RangeFit +
			weightSegments*factors.Segments +
			weightLargestSegment*factors.LargestSegment +
			weightXMatch*factors.XMatch +
			weightAgeMatch*factors.AgeMatch
		score *= generationMultiplier(p, req.GenerationLabel())

		candidates = append(candidates, Candidate{
			Code:         p.Code,
			Name:         p.Name,
			Abbreviation: p.Abbreviation,
			AverageCM:    p.AverageCM,
			MinCM:        p.MinCM,
			MaxCM:        p.MaxCM,
			Generation:   p.Generation,
			AdjustedCM:   adjusted,
			Probability:  clamp01(score),
			Factors:      factors,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Probability > candidates[j].Probability
	})
	normalize(candidates)
	return candidates, nil
}

// generationMultiplier boosts candidates whose generation matches the
// caller's stated generation and penalizes the rest. A request without a
// generation, or a profile without one, stays neutral.
func generationMultiplier(p reference.Profile, label string) float64 {
	if label == "" || p.Generation == nil {
		return 1
	}
	if label == strconv.Itoa(*p.Generation) {
		return generationMatchBoost
	}
	return generationMismatchPenalty
}

// normalize rescales probabilities in place so they sum to 1.0. An all-zero
// set is left untouched rather than divided by zero.
func normalize(candidates []Candidate) {
	var sum float64
	for i := range candidates {
		sum += candidates[i].Probability
	}
	if sum == 0 {
		return
	}
	for i := range candidates {
		candidates[i].Probability /= sum
	}
}
