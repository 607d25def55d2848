package probability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/genetica-tools/kinship-api/internal/reference"
	"github.com/genetica-tools/kinship-api/internal/types"
)

func TestCMDistanceScore(t *testing.T) {
	tests := []struct {
		name     string
		adjusted float64
		average  float64
		expected float64
	}{
		{name: "exact average", adjusted: 100, average: 100, expected: 1.0},
		{name: "deviation at buffer edge", adjusted: 115, average: 100, expected: 1.0},
		{name: "moderate deviation", adjusted: 150, average: 100, expected: 0.70710678},
		{name: "deviation of exactly one average", adjusted: 200, average: 100, expected: 0.0},
		{name: "deviation beyond one average", adjusted: 250, average: 100, expected: 0.0},
		{name: "zero average degrades to zero", adjusted: 100, average: 0, expected: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cmDistanceScore(tt.adjusted, tt.average)
			assert.InDelta(t, tt.expected, got, 1e-6)
			assert.False(t, got != got, "score must never be NaN")
		})
	}
}

func TestRangeFitScore(t *testing.T) {
	tests := []struct {
		name     string
		adjusted float64
		min, max float64
		expected float64
	}{
		{name: "center of range", adjusted: 150, min: 100, max: 200, expected: 1.0},
		{name: "below range", adjusted: 99, min: 100, max: 200, expected: 0.0},
		{name: "above range", adjusted: 201, min: 100, max: 200, expected: 0.0},
		{name: "lower edge", adjusted: 100, min: 100, max: 200, expected: 0.0},
		{name: "upper edge", adjusted: 200, min: 100, max: 200, expected: 0.0},
		{name: "soft penalty between center and edge", adjusted: 125, min: 100, max: 200, expected: 0.384428},
		{name: "degenerate zero-width range", adjusted: 100, min: 100, max: 100, expected: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, rangeFitScore(tt.adjusted, tt.min, tt.max), 1e-5)
		})
	}
}

func TestCountRangeScore(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		observed *float64
		code     string
		expected float64
	}{
		{name: "absent observation is neutral", observed: nil, code: "FS", expected: 0.5},
		{name: "code without a range is neutral", observed: f(12), code: "GP", expected: 0.5},
		{name: "inside range", observed: f(40), code: "FS", expected: 1.0},
		{name: "lower bound inclusive", observed: f(35), code: "FS", expected: 1.0},
		{name: "upper bound inclusive", observed: f(45), code: "FS", expected: 1.0},
		{name: "below range soft penalty", observed: f(20), code: "FS", expected: 0.675885},
		{name: "above range soft penalty", observed: f(90), code: "FS", expected: 0.615572},
		{name: "zero observation below range", observed: f(0), code: "FS", expected: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := countRangeScore(tt.observed, segmentCountRanges, tt.code)
			assert.InDelta(t, tt.expected, got, 1e-5)
		})
	}
}

func TestXMatchScore(t *testing.T) {
	b := func(v bool) *bool { return &v }

	tests := []struct {
		name     string
		code     string
		observed *bool
		expected float64
	}{
		{name: "absent observation is neutral", code: "FS", observed: nil, expected: 0.5},
		{name: "full siblings sharing X is confirming", code: "FS", observed: b(true), expected: 1.0},
		{name: "full siblings without X sharing contradicts", code: "FS", observed: b(false), expected: 0.0},
		{name: "variable pattern is neutral either way", code: "1C", observed: b(true), expected: 0.5},
		{name: "unknown code is neutral", code: "XX", observed: b(false), expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, xMatchScore(tt.code, tt.observed))
		})
	}
}

func TestScoreFactorsAllBounded(t *testing.T) {
	segs := 12
	largest := 68.0
	shared := true
	a1, a2 := 34, 61
	req := types.AnalysisRequest{
		SharedCM:         240,
		XInheritance:     &shared,
		SegmentCount:     &segs,
		LargestSegmentCM: &largest,
		Person1Age:       &a1,
		Person2Age:       &a2,
	}
	p := reference.Profile{Code: "2C", AverageCM: 229, MinCM: 41, MaxCM: 592}

	factors := scoreFactors(p, req, req.SharedCM)
	for name, v := range map[string]float64{
		"cm_distance":     factors.CMDistance,
		"range_fit":       factors.RangeFit,
		"segments":        factors.Segments,
		"largest_segment": factors.LargestSegment,
		"x_match":         factors.XMatch,
		"age_match":       factors.AgeMatch,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
}
