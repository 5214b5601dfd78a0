package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/classwiz/pkg/star"
	"github.com/ajitpratap0/classwiz/pkg/testutil"
)

func gridAccumulator(rows [][]int, classes int) *RunAccumulator {
	ref := &Reference{Classes: classes, Particles: len(rows), Layout: star.NewLayout(nil)}
	acc := NewRunAccumulator(len(rows[0]), ref)
	for p, r := range rows {
		copy(acc.Assignments[p], r)
	}
	return acc
}

func TestSortOrder(t *testing.T) {
	acc := gridAccumulator([][]int{
		{0, 1, 2, 3},
		{0, 2, 1, 1},
		{0, 1, 1, 1},
		{0, 3, 3, 3},
		{0, 1, 1, 1},
		{0, 2, 2, 3},
	}, 3)

	assert.Equal(t, []int{2, 4, 1, 0, 5, 3}, acc.SortOrder())
}

func TestAssignmentGrid(t *testing.T) {
	acc := gridAccumulator([][]int{
		{0, 1, 2, 3},
		{0, 2, 1, 1},
	}, 3)

	assert.Equal(t, [][]int{{1, 1}, {2, 3}}, acc.AssignmentGrid([]int{1, 0}, 2, 3))
	assert.Equal(t, [][]int{{1, 2, 3}}, acc.AssignmentGrid([]int{0}, 1, 10))
}

func TestJumperMatrix(t *testing.T) {
	acc := gridAccumulator([][]int{{0, 1}, {0, 1}, {0, 1}, {0, 1}}, 3)
	acc.Jumpers[0].Class = [2]int{1, 2}
	acc.Jumpers[1].Class = [2]int{1, 2}
	acc.Jumpers[2].Class = [2]int{3, 3}
	acc.Jumpers[3].Class = [2]int{0, 3}

	assert.Equal(t, [][]int{
		{0, 0, 0},
		{2, 0, 0},
		{0, 0, 1},
	}, acc.JumperMatrix())
}

func TestMicrographOccupancyAndChanges(t *testing.T) {
	run, ref := setupRun(t, testutil.RunSpec{
		Iterations: testutil.Range(0, 4), Particles: 30, Classes: 3, Class: shifting(3),
		Micrograph: func(p int) string { return []string{"b", "a", "c"}[p%3] },
	})
	acc := accumulate(t, run, ref)

	names, counts := acc.MicrographOccupancy()
	assert.Equal(t, []string{"a.mrc", "b.mrc", "c.mrc"}, names)
	total := 0
	for _, row := range counts {
		require.Len(t, row, 3)
		for _, n := range row {
			total += n
		}
	}
	assert.Equal(t, 30, total)

	xs, ys := acc.ChangeSeries()
	assert.Equal(t, []float64{2, 3, 4}, xs)
	assert.Equal(t, []float64{4, 4, 4}, ys)
}

func TestFieldHistograms(t *testing.T) {
	run, ref := setupRun(t, testutil.RunSpec{Iterations: testutil.Range(0, 2), Particles: 20, Classes: 2})
	acc := accumulate(t, run, ref)

	hists := acc.FieldHistograms()
	byName := make(map[string]FieldHistogram, len(hists))
	for _, h := range hists {
		byName[h.Field] = h
	}

	assert.NotContains(t, byName, star.FieldImageName, "file names collapse to a single value")
	assert.NotContains(t, byName, star.FieldMicrographName)

	res, ok := byName[star.FieldCtfMaxResolution]
	require.True(t, ok)
	require.Len(t, res.Edges, FieldBins+1)
	assert.Equal(t, 3.0, res.Edges[0])
	assert.Equal(t, 7.0, res.Edges[FieldBins])
	assert.Equal(t, []int{1, 2}, res.Groups)

	var total float64
	for _, counts := range res.Counts {
		require.Len(t, counts, FieldBins)
		for _, c := range counts {
			total += c
		}
	}
	assert.Equal(t, 20.0, total, "maximum lands in the last bin")
	assert.Equal(t, 2.0, res.Counts[0][FieldBins-1], "particles 4 and 14 are class 1 at 7.0")
}

func TestScoreHistogram(t *testing.T) {
	h := ScoreHistogram([]float64{0, 0.01, 0.07, 0.44, 0.9})

	require.Len(t, h.Edges, ScoreBins+1)
	require.Len(t, h.Counts, 1)
	counts := h.Counts[0]

	density := 1 / (4 * ScoreBinWidth)
	assert.InDelta(t, 2*density, counts[0], 1e-9)
	assert.InDelta(t, density, counts[1], 1e-9)
	assert.InDelta(t, density, counts[ScoreBins-1], 1e-9)

	var area float64
	for _, c := range counts {
		area += c * ScoreBinWidth
	}
	assert.InDelta(t, 1.0, area, 1e-9)
}
