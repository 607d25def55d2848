package probability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/genetica-tools/kinship-api/internal/types"
)

func TestAdjustCM(t *testing.T) {
	tests := []struct {
		name     string
		cm       float64
		level    types.EndogamyLevel
		code     string
		expected float64
	}{
		{
			name:     "absent level leaves cm unchanged",
			cm:       850,
			level:    "",
			code:     "1C",
			expected: 850,
		},
		{
			name:     "none leaves cm unchanged",
			cm:       850,
			level:    types.EndogamyNone,
			code:     "1C",
			expected: 850,
		},
		{
			name:     "close relationship uses the milder divisor",
			cm:       1400,
			level:    types.EndogamyVeryHigh,
			code:     "FS",
			expected: 1000, // 1400 / 1.4
		},
		{
			name:     "distant relationship uses the stronger divisor",
			cm:       1400,
			level:    types.EndogamyVeryHigh,
			code:     "3C",
			expected: 700, // 1400 / 2.0
		},
		{
			name:     "moderate close correction",
			cm:       600,
			level:    types.EndogamyModerate,
			code:     "2C",
			expected: 500, // 600 / 1.2
		},
		{
			name:     "unknown code counts as distant",
			cm:       300,
			level:    types.EndogamyLight,
			code:     "XX",
			expected: 240, // 300 / 1.25
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, AdjustCM(tt.cm, tt.level, tt.code), 1e-9)
		})
	}
}

func TestAdjustCMMonotonicInSeverity(t *testing.T) {
	// A harsher endogamy level must never raise the adjusted amount.
	for _, code := range []string{"FS", "1C", "4C"} {
		prev := AdjustCM(1000, types.EndogamyNone, code)
		for _, level := range types.Levels()[1:] {
			adjusted := AdjustCM(1000, level, code)
			assert.LessOrEqual(t, adjusted, prev, "code %s level %s", code, level)
			assert.Greater(t, adjusted, 0.0)
			prev = adjusted
		}
	}
}
