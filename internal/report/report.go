// Package report renders the analysis of a classification run as a
// sequence of pages.
//
// Pages are built as gonum/plot plots and handed to a Sink. The PDF sink
// writes them into one multi-page document; tests use a recording sink.
package report

import (
	"fmt"
	"image/color"
	"math"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ajitpratap0/classwiz/internal/analysis"
	"github.com/ajitpratap0/classwiz/pkg/errors"
)

// Page names, in rendering order.
const (
	PageLegend                = "class-legend"
	PageRotationalAccuracy    = "rotational-accuracy"
	PageTranslationalAccuracy = "translational-accuracy"
	PageAssignments           = "assignments"
	PageRecentAssignments     = "assignments-last-5"
	PageJumpers               = "jumpers"
	PageMicrographs           = "micrographs"
	PageJumpScores            = "jump-scores"
	PageChanges               = "changes"
	PageFieldPrefix           = "field:"
)

// StyleBar is the only supported histogram style.
const StyleBar = "bar"

// RecentIterations is the width of the close-up assignment map.
const RecentIterations = 5

// Page is one page of the report.
type Page struct {
	Name string
	Plot *plot.Plot
	// ColorBar is drawn in a strip at the right edge when set.
	ColorBar *plot.Plot
	// Caption is printed below the plot.
	Caption string
}

// Sink receives pages in order.
type Sink interface {
	Add(Page) error
	Close() error
}

// Input is everything the pages are drawn from.
type Input struct {
	Run          *analysis.RunAccumulator
	Order        []int
	Scores       []float64
	Distribution analysis.Distribution
	Style        string
}

// Outcome lists the pages that were rendered and skipped.
type Outcome struct {
	Rendered []string `json:"rendered" yaml:"rendered"`
	Skipped  []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Build renders every page of the report into sink. It does not close the
// sink.
func Build(in Input, sink Sink, logger *zap.Logger) (Outcome, error) {
	if in.Style == "" {
		in.Style = StyleBar
	}
	if in.Style != StyleBar {
		return Outcome{}, errors.Newf(errors.ErrorTypeConfig, "unsupported plot style %q", in.Style)
	}
	if in.Order == nil {
		in.Order = in.Run.SortOrder()
	}

	b := &builder{in: in, acc: in.Run, colors: ClassColors(in.Run.Classes), sink: sink, logger: logger}
	steps := []func() error{
		b.legend,
		b.accuracy,
		b.assignments,
		b.recentAssignments,
		b.jumpers,
		b.micrographs,
		b.jumpScores,
		b.changes,
		b.fields,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return b.out, err
		}
	}
	return b.out, nil
}

// ClassColors returns one color for "no class" followed by classes 1..n.
func ClassColors(classes int) []color.Color {
	return palette.Rainbow(classes+1, palette.Blue, palette.Red, 1, 1, 1).Colors()
}

type builder struct {
	in     Input
	acc    *analysis.RunAccumulator
	colors []color.Color
	sink   Sink
	logger *zap.Logger
	out    Outcome
}

func (b *builder) emit(page Page) error {
	if err := b.sink.Add(page); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to render report page").
			WithDetail("page", page.Name)
	}
	b.out.Rendered = append(b.out.Rendered, page.Name)
	b.logger.Debug("rendered report page", zap.String("page", page.Name))
	return nil
}

func (b *builder) skip(name, reason string) {
	b.out.Skipped = append(b.out.Skipped, name)
	b.logger.Info("skipping report page", zap.String("page", name), zap.String("reason", reason))
}

func newPlot(title, x, y string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = x
	p.Y.Label.Text = y
	return p
}

func classTicks(from, to int) plot.ConstantTicks {
	var ticks []plot.Tick
	for c := from; c <= to; c++ {
		label := strconv.Itoa(c)
		if c == 0 {
			label = "no class"
		}
		ticks = append(ticks, plot.Tick{Value: float64(c), Label: label})
	}
	return ticks
}

func (b *builder) legend() error {
	p := newPlot("Class colors", "Class #", "")
	p.HideY()
	for c, col := range b.colors {
		bar, err := plotter.NewBarChart(plotter.Values{1}, vg.Points(30))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build legend")
		}
		bar.XMin = float64(c)
		bar.Color = col
		bar.LineStyle.Width = 0
		p.Add(bar)
	}
	p.X.Tick.Marker = classTicks(0, b.acc.Classes)
	return b.emit(Page{Name: PageLegend, Plot: p})
}

func (b *builder) accuracy() error {
	if !b.acc.Accuracy.Informative() {
		b.skip(PageRotationalAccuracy, "no image alignment recorded")
		b.skip(PageTranslationalAccuracy, "no image alignment recorded")
		return nil
	}
	series := []struct {
		name, title string
		values      func(class, from, to int) ([]float64, []float64)
	}{
		{PageRotationalAccuracy, "RotationalAccuracy", b.acc.Accuracy.RotationSeries},
		{PageTranslationalAccuracy, "TranslationalAccuracy", b.acc.Accuracy.TranslationSeries},
	}
	for _, s := range series {
		p := newPlot(s.title, "Iteration #", s.title)
		p.Add(plotter.NewGrid())
		p.Legend.Top = true
		lines := 0
		for c := 1; c <= b.acc.Classes; c++ {
			xs, ys := s.values(c, 2, b.acc.Final())
			if len(xs) == 0 {
				continue
			}
			line, err := plotter.NewLine(xys(xs, ys))
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build accuracy line")
			}
			line.Color = b.colors[c]
			line.Width = vg.Points(3)
			p.Add(line)
			p.Legend.Add(fmt.Sprintf("Class %d", c), line)
			lines++
		}
		if lines == 0 {
			b.skip(s.name, "no accuracy values after iteration 1")
			continue
		}
		if err := b.emit(Page{Name: s.name, Plot: p}); err != nil {
			return err
		}
	}
	return nil
}

func xys(xs, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	return pts
}

func (b *builder) assignmentMap(name, title string, from int) error {
	to := b.acc.Final()
	if from > to {
		b.skip(name, "no iterations after iteration 0")
		return nil
	}
	grid := newIntGrid(b.acc.AssignmentGrid(b.in.Order, from, to), float64(from), 0)
	h := plotter.NewHeatMap(grid, classPalette(b.colors))
	h.Min = 0
	h.Max = float64(b.acc.Classes)
	h.Rasterized = true

	p := newPlot(title, "Iteration #", "Particle #")
	p.Add(h)
	return b.emit(Page{Name: name, Plot: p})
}

type classPalette []color.Color

func (c classPalette) Colors() []color.Color { return c }

func (b *builder) assignments() error {
	return b.assignmentMap(PageAssignments, "Class assignments of each particle", 1)
}

func (b *builder) recentAssignments() error {
	from := max(1, b.acc.Iterations-RecentIterations)
	return b.assignmentMap(PageRecentAssignments,
		fmt.Sprintf("Class assignments of each particle - last %d iterations", RecentIterations), from)
}

// countMap is a heat map of counts with a matching color bar.
func countMap(title, x, y, scale string, grid intGrid) (*plot.Plot, *plot.Plot) {
	cm := moreland.SmoothBlueRed()
	cm.SetMin(0)
	cm.SetMax(math.Max(1, float64(grid.max())))

	h := plotter.NewHeatMap(grid, cm.Palette(255))
	h.Min = cm.Min()
	h.Max = cm.Max()

	p := newPlot(title, x, y)
	p.Add(h)

	bar := plot.New()
	bar.HideX()
	bar.Y.Label.Text = scale
	bar.Add(&plotter.ColorBar{ColorMap: cm, Vertical: true})
	return p, bar
}

func (b *builder) jumpers() error {
	if b.acc.Iterations < 3 {
		b.skip(PageJumpers, "fewer than two accumulated iterations")
		return nil
	}
	grid := newIntGrid(b.acc.JumperMatrix(), 1, 1)
	p, bar := countMap("Class assignment of each particle - last iteration",
		fmt.Sprintf("Class assignment iteration %d", b.acc.Final()-1),
		fmt.Sprintf("Class assignment iteration %d", b.acc.Final()),
		"Particles", grid)
	p.X.Tick.Marker = classTicks(1, b.acc.Classes)
	p.Y.Tick.Marker = classTicks(1, b.acc.Classes)
	return b.emit(Page{
		Name:     PageJumpers,
		Plot:     p,
		ColorBar: bar,
		Caption:  "Particle class assignment changes in the last iteration",
	})
}

func (b *builder) micrographs() error {
	names, counts := b.acc.MicrographOccupancy()
	if len(names) == 0 {
		b.skip(PageMicrographs, "no micrographs in the final iteration")
		return nil
	}
	p, bar := countMap("Class assignments of each micrograph - last iteration",
		"Class #", "Micrograph #", "Total number of particles in class #", newIntGrid(counts, 1, 0))
	p.X.Tick.Marker = classTicks(1, b.acc.Classes)
	return b.emit(Page{
		Name:     PageMicrographs,
		Plot:     p,
		ColorBar: bar,
		Caption:  "Micrographs contributing to certain classes (e.g. important when merging datasets)",
	})
}

func (b *builder) jumpScores() error {
	hist := analysis.ScoreHistogram(b.in.Scores)
	p := newPlot("Particle jump score",
		"Score = (# class assignments/# of iterations)", "# of particles with score normalized")
	p.Add(plotter.NewGrid())
	p.Add(bars(hist.Edges, hist.Counts[0], 0, 1, b.colors[len(b.colors)/2]))

	d := b.in.Distribution
	if d.Sigma > 0 {
		normal := distuv.Normal{Mu: d.Mean, Sigma: d.Sigma}
		f := plotter.NewFunction(normal.Prob)
		f.XMin = 0
		f.XMax = 0.5
		f.Samples = 100
		f.Width = vg.Points(2)
		p.Add(f)
	}
	return b.emit(Page{
		Name:    PageJumpScores,
		Plot:    p,
		Caption: fmt.Sprintf("Gaussian sigma: %g, variance: %g, mean: %g", d.Sigma, d.Variance, d.Mean),
	})
}

// bars draws group k of n side by side within each bin.
func bars(edges, counts []float64, k, n int, fill color.Color) *plotter.Histogram {
	h := &plotter.Histogram{FillColor: fill, LineStyle: plotter.DefaultLineStyle}
	for i, w := range counts {
		width := (edges[i+1] - edges[i]) / float64(n)
		lo := edges[i] + float64(k)*width
		h.Bins = append(h.Bins, plotter.HistogramBin{Min: lo, Max: lo + width, Weight: w})
	}
	if len(h.Bins) > 0 {
		h.Width = h.Bins[0].Max - h.Bins[0].Min
	}
	return h
}

func (b *builder) changes() error {
	xs, ys := b.acc.ChangeSeries()
	if len(xs) == 0 {
		b.skip(PageChanges, "no iterations after iteration 1")
		return nil
	}
	line, err := plotter.NewLine(xys(xs, ys))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build change line")
	}
	line.Width = vg.Points(2)
	p := newPlot("Total assignment changes per iteration", "Iteration #", "# of changed assignments")
	p.Add(plotter.NewGrid(), line)
	return b.emit(Page{Name: PageChanges, Plot: p})
}

func (b *builder) fields() error {
	hists := b.acc.FieldHistograms()
	rendered := make(map[string]bool, len(hists))
	for _, fh := range hists {
		p := newPlot("Histogram Column "+fh.Field, fh.Field, "# particles per bin")
		p.Add(plotter.NewGrid())
		p.Legend.Top = true
		for k, class := range fh.Groups {
			h := bars(fh.Edges, fh.Counts[k], k, len(fh.Groups), b.colors[min(class, len(b.colors)-1)])
			p.Add(h)
			label := "no class"
			if class > 0 {
				label = fmt.Sprintf("Class %d", class)
			}
			p.Legend.Add(label, h)
		}
		if err := b.emit(Page{Name: PageFieldPrefix + fh.Field, Plot: p}); err != nil {
			return err
		}
		rendered[fh.Field] = true
	}
	for _, f := range b.acc.Fields {
		if !rendered[f.Name] {
			b.skip(PageFieldPrefix+f.Name, "fewer than two distinct values")
		}
	}
	return nil
}
