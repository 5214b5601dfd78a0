package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/classwiz/pkg/testutil"
)

func TestJumpScore(t *testing.T) {
	cases := []struct {
		name    string
		history []int
		want    float64
	}{
		{"too short", []int{0, 1}, 0},
		{"single trailing iteration", []int{0, 1, 2}, 0},
		{"never changed", []int{0, 1, 3, 3, 3, 3}, 0},
		{"changed once", []int{0, 1, 1, 2, 2, 2}, 3.0 / 2 / 4},
		{"changed last", []int{0, 1, 1, 1, 1, 2}, 1.0 / 2 / 4},
		{"three classes", []int{0, 2, 1, 2, 3, 3}, 2.0 / 3 / 4},
		{"iterations before 2 ignored", []int{0, 4, 2, 2, 2, 1}, 1.0 / 2 / 4},
		{"unassigned counts as a class", []int{0, 1, 0, 1, 1, 1}, 3.0 / 2 / 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, JumpScore(tc.history), 1e-12)
		})
	}
}

func TestJumpScoreBounds(t *testing.T) {
	for a := 1; a <= 3; a++ {
		for b := 1; b <= 3; b++ {
			for c := 1; c <= 3; c++ {
				for d := 1; d <= 3; d++ {
					s := JumpScore([]int{0, 1, a, b, c, d})
					assert.GreaterOrEqual(t, s, 0.0)
					assert.LessOrEqual(t, s, 1.0)
				}
			}
		}
	}
}

func TestDescribeAndCutoff(t *testing.T) {
	scores := []float64{0, 0.1, 0.2, 0.3}
	d := Describe(scores)

	assert.InDelta(t, 0.15, d.Mean, 1e-12)
	assert.InDelta(t, 0.0125, d.Variance, 1e-12, "population variance")
	assert.InDelta(t, math.Sqrt(0.0125), d.Sigma, 1e-12)
	assert.InDelta(t, d.Mean+2*d.Sigma, d.Cutoff(2), 1e-12)

	unwanted := Unwanted(scores, d.Cutoff(DefaultSigmaFactor))
	assert.Equal(t, map[int]struct{}{3: {}}, unwanted)

	assert.Equal(t, Distribution{}, Describe(nil))
}

func TestJumpScoresFollowParticlePositions(t *testing.T) {
	run, ref := setupRun(t, testutil.RunSpec{
		Iterations: testutil.Range(0, 6), Particles: 12, Classes: 3,
		Class: func(p, it int) int {
			if p == 7 && it >= 5 {
				return 1
			}
			return 2
		},
	})
	acc := accumulate(t, run, ref)

	scores := acc.JumpScores()
	require.Len(t, scores, 12)
	for p, s := range scores {
		if p == 7 {
			assert.InDelta(t, 2.0/2/5, s, 1e-12)
			continue
		}
		assert.Zero(t, s, "particle %d never changed", p)
	}

	d := Describe(scores)
	assert.Equal(t, map[int]struct{}{7: {}}, Unwanted(scores, d.Cutoff(1)))
}
