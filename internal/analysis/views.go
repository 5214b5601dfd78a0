package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Binning of the score histogram: edges 0, 0.05, ..., 0.45.
const (
	ScoreBinWidth = 0.05
	ScoreBins     = 9
	FieldBins     = 10
)

// SortOrder returns particle indices ordered lexicographically by their
// assignments, the final iteration being the primary key and iteration 1
// the last tie-breaker. The sort is stable.
func (a *RunAccumulator) SortOrder() []int {
	order := make([]int, a.Particles)
	for p := range order {
		order[p] = p
	}
	sort.SliceStable(order, func(i, j int) bool {
		hi, hj := a.Assignments[order[i]], a.Assignments[order[j]]
		for it := a.Final(); it >= 1; it-- {
			if hi[it] != hj[it] {
				return hi[it] < hj[it]
			}
		}
		return false
	})
	return order
}

// AssignmentGrid returns the assignments of iterations from..to inclusive,
// one row per particle in order.
func (a *RunAccumulator) AssignmentGrid(order []int, from, to int) [][]int {
	from = max(from, 0)
	to = min(to, a.Final())
	grid := make([][]int, len(order))
	for r, p := range order {
		if from > to {
			grid[r] = []int{}
			continue
		}
		grid[r] = append([]int(nil), a.Assignments[p][from:to+1]...)
	}
	return grid
}

// JumperMatrix counts particles by class in the last iteration (row) and
// the iteration before (column). Unassigned particles are not counted.
func (a *RunAccumulator) JumperMatrix() [][]int {
	m := make([][]int, a.Classes)
	for i := range m {
		m[i] = make([]int, a.Classes)
	}
	for _, j := range a.Jumpers {
		prev, last := j.Class[0], j.Class[1]
		if prev < 1 || last < 1 {
			continue
		}
		m[last-1][prev-1]++
	}
	return m
}

// MicrographOccupancy returns, for every micrograph seen in the final
// iteration, its per-class particle counts. Names are sorted.
func (a *RunAccumulator) MicrographOccupancy() (names []string, counts [][]int) {
	final := a.Final()
	for name, hist := range a.Micrographs {
		if final >= 0 && hist[final] != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	counts = make([][]int, len(names))
	for i, name := range names {
		counts[i] = append([]int(nil), a.Micrographs[name][final]...)
	}
	return names, counts
}

// ChangeSeries returns the change counters of iterations 2..N-1.
func (a *RunAccumulator) ChangeSeries() (xs, ys []float64) {
	for it := 2; it < a.Iterations; it++ {
		xs = append(xs, float64(it))
		ys = append(ys, float64(a.Changes[it]))
	}
	return xs, ys
}

// Histogram is a set of per-group counts over shared bin edges.
type Histogram struct {
	Edges  []float64
	Groups []int       // final class of each group; 0 is "no class"
	Counts [][]float64 // [group][bin]
}

// FieldHistogram is the histogram of one final-iteration column.
type FieldHistogram struct {
	Field string
	Histogram
}

// FieldHistograms bins every snapshot column into FieldBins bins over its
// finite range, grouped by final class. Columns with fewer than two
// distinct finite values are skipped.
func (a *RunAccumulator) FieldHistograms() []FieldHistogram {
	final := a.Final()
	var out []FieldHistogram
	for j, field := range a.Fields {
		values := make(map[int][]float64)
		lo, hi := math.Inf(1), math.Inf(-1)
		for p, snap := range a.Snapshot {
			if j >= len(snap) || math.IsNaN(snap[j]) || math.IsInf(snap[j], 0) {
				continue
			}
			v := snap[j]
			class := 0
			if final >= 1 {
				class = a.Assignments[p][final]
			}
			values[class] = append(values[class], v)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if !(hi > lo) {
			continue
		}

		edges := floats.Span(make([]float64, FieldBins+1), lo, hi)
		h := FieldHistogram{Field: field.Name, Histogram: Histogram{Edges: edges}}
		classes := make([]int, 0, len(values))
		for c := range values {
			classes = append(classes, c)
		}
		sort.Ints(classes)
		for _, c := range classes {
			h.Groups = append(h.Groups, c)
			h.Counts = append(h.Counts, binCounts(edges, values[c]))
		}
		out = append(out, h)
	}
	return out
}

// ScoreHistogram bins scores over [0, 0.45] and normalises the counts to a
// density. Scores outside the range are not counted.
func ScoreHistogram(scores []float64) Histogram {
	edges := make([]float64, ScoreBins+1)
	for i := range edges {
		edges[i] = float64(i) * ScoreBinWidth
	}
	var in []float64
	for _, s := range scores {
		if s >= edges[0] && s <= edges[ScoreBins] {
			in = append(in, s)
		}
	}
	counts := binCounts(edges, in)
	if len(in) > 0 {
		floats.Scale(1/(float64(len(in))*ScoreBinWidth), counts)
	}
	return Histogram{Edges: edges, Groups: []int{0}, Counts: [][]float64{counts}}
}

// binCounts counts values into the bins given by edges. The last bin is
// closed on the right. Values outside the edges must have been removed.
func binCounts(edges, values []float64) []float64 {
	x := append([]float64(nil), values...)
	sort.Float64s(x)
	dividers := append([]float64(nil), edges...)
	last := len(dividers) - 1
	dividers[last] = math.Nextafter(dividers[last], math.Inf(1))
	return stat.Histogram(nil, dividers, x, nil)
}
