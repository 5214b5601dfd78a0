package report

// intGrid adapts a row-major integer table to plotter.GridXYZ. Column c is
// drawn at xs[c], row r at ys[r].
type intGrid struct {
	cells [][]int
	xs    []float64
	ys    []float64
}

func newIntGrid(cells [][]int, x0, y0 float64) intGrid {
	g := intGrid{cells: cells}
	cols := 0
	if len(cells) > 0 {
		cols = len(cells[0])
	}
	g.xs = make([]float64, cols)
	for c := range g.xs {
		g.xs[c] = x0 + float64(c)
	}
	g.ys = make([]float64, len(cells))
	for r := range g.ys {
		g.ys[r] = y0 + float64(r)
	}
	return g
}

func (g intGrid) Dims() (c, r int) { return len(g.xs), len(g.ys) }

func (g intGrid) Z(c, r int) float64 { return float64(g.cells[r][c]) }

func (g intGrid) X(c int) float64 { return g.xs[c] }

func (g intGrid) Y(r int) float64 { return g.ys[r] }

func (g intGrid) max() int {
	m := 0
	for _, row := range g.cells {
		for _, v := range row {
			m = max(m, v)
		}
	}
	return m
}
