package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultSigmaFactor is the cutoff multiplier used when none is given.
const DefaultSigmaFactor = 1.0

// JumpScore scores one particle's assignment history.
//
// history holds the classes of iterations 0..N-1. Only iterations 2..N-1
// are considered, latest first. stayed is the length of the initial run of
// identical classes; a history that never changes scores 0. The score is
// stayed divided by the number of distinct classes and by N-2.
func JumpScore(history []int) float64 {
	n := len(history)
	if n <= 2 {
		return 0
	}
	trail := history[2:]

	latest := trail[len(trail)-1]
	stayed := 0
	for i := len(trail) - 1; i >= 0 && trail[i] == latest; i-- {
		stayed++
	}
	if stayed == len(trail) {
		return 0
	}

	distinct := make(map[int]struct{}, len(trail))
	for _, c := range trail {
		distinct[c] = struct{}{}
	}
	return float64(stayed) / float64(len(distinct)) / float64(n-2)
}

// JumpScores scores every particle.
func (a *RunAccumulator) JumpScores() []float64 {
	scores := make([]float64, a.Particles)
	for p, history := range a.Assignments {
		scores[p] = JumpScore(history)
	}
	return scores
}

// Distribution summarises the score sample. Sigma is the population
// standard deviation.
type Distribution struct {
	Mean     float64 `json:"mean" yaml:"mean"`
	Variance float64 `json:"variance" yaml:"variance"`
	Sigma    float64 `json:"sigma" yaml:"sigma"`
}

// Describe computes the distribution of scores.
func Describe(scores []float64) Distribution {
	if len(scores) == 0 {
		return Distribution{}
	}
	mean := stat.Mean(scores, nil)
	variance := stat.PopVariance(scores, nil)
	return Distribution{Mean: mean, Variance: variance, Sigma: math.Sqrt(variance)}
}

// Cutoff is mean + sigmaFactor * sigma.
func (d Distribution) Cutoff(sigmaFactor float64) float64 {
	return d.Mean + sigmaFactor*d.Sigma
}

// Unwanted returns the set of particle indices whose score exceeds cutoff.
func Unwanted(scores []float64, cutoff float64) map[int]struct{} {
	out := make(map[int]struct{})
	for p, s := range scores {
		if s > cutoff {
			out[p] = struct{}{}
		}
	}
	return out
}
