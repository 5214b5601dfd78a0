package analysis

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/classwiz/pkg/errors"
	"github.com/ajitpratap0/classwiz/pkg/star"
)

const fieldAccuracyTranslationsAngst = "_rlnAccuracyTranslationsAngst"

// Default 0-based columns of the accuracy values when the model file does
// not declare them.
const (
	defaultRotationColumn    = 2
	defaultTranslationColumn = 3
)

// AccuracyTable holds per-class angular and translational accuracy per
// iteration, read from the model files. Unrecorded cells are NaN.
type AccuracyTable struct {
	Classes     int
	Iterations  int
	Rotation    [][]float64 // [class-1][iteration]
	Translation [][]float64 // [class-1][iteration]
	recorded    []bool
}

// NewAccuracyTable allocates an empty table.
func NewAccuracyTable(classes, iterations int) *AccuracyTable {
	t := &AccuracyTable{
		Classes:     classes,
		Iterations:  iterations,
		Rotation:    make([][]float64, classes),
		Translation: make([][]float64, classes),
		recorded:    make([]bool, iterations),
	}
	for c := 0; c < classes; c++ {
		t.Rotation[c] = nanSlice(iterations)
		t.Translation[c] = nanSlice(iterations)
	}
	return t
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Recorded reports whether a model file was read for iteration.
func (t *AccuracyTable) Recorded(iteration int) bool {
	return iteration >= 0 && iteration < len(t.recorded) && t.recorded[iteration]
}

// AddModel reads the class rows of one model file. Class rows name the
// class reference map ("..._class003.mrc"); the class number is taken from
// the three digits before ".mrc".
func (t *AccuracyTable) AddModel(name string, iteration int, r io.Reader) error {
	if iteration < 0 || iteration >= t.Iterations {
		return errors.Newf(errors.ErrorTypeInternal, "iteration %d outside accuracy table", iteration).
			WithDetail("file", name)
	}

	sc := star.NewScanner(r)
	for sc.Scan() {
		line := sc.Line()
		if line.Kind != star.KindMeta || !isClassRow(line.Text) {
			continue
		}
		cols := line.Columns()
		class, ok := classFromReference(cols[0])
		if !ok || class < 1 || class > t.Classes {
			continue
		}

		layout := sc.BlockLayout()
		rotCol := columnOr(layout, defaultRotationColumn, star.FieldAccuracyRotations)
		transCol := columnOr(layout, defaultTranslationColumn,
			star.FieldAccuracyTranslations, fieldAccuracyTranslationsAngst)

		t.Rotation[class-1][iteration] = parseCell(cols, rotCol)
		t.Translation[class-1][iteration] = parseCell(cols, transCol)
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read model file").
			WithDetail("file", name)
	}
	t.recorded[iteration] = true
	return nil
}

func isClassRow(text string) bool {
	return strings.Contains(text, "class") &&
		strings.Contains(text, ".mrc") &&
		!strings.Contains(text, ".mrcs")
}

func classFromReference(ref string) (int, bool) {
	i := strings.Index(ref, ".mrc")
	if i < 3 {
		return 0, false
	}
	n, err := strconv.Atoi(ref[i-3 : i])
	if err != nil {
		return 0, false
	}
	return n, true
}

func columnOr(layout star.Layout, fallback int, names ...string) int {
	for _, name := range names {
		if c, ok := layout.Column(name); ok {
			return c
		}
	}
	return fallback
}

func parseCell(cols []string, c int) float64 {
	if c < 0 || c >= len(cols) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(cols[c], 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// Informative reports whether the accuracy pages carry information: class
// 1 must have at least two recorded rotation values that differ.
func (t *AccuracyTable) Informative() bool {
	if t.Classes == 0 {
		return false
	}
	var seen []float64
	for _, v := range t.Rotation[0] {
		if !math.IsNaN(v) {
			seen = append(seen, v)
		}
	}
	if len(seen) < 2 {
		return false
	}
	for _, v := range seen[1:] {
		if v != seen[0] {
			return true
		}
	}
	return false
}

// RotationSeries returns the recorded rotational accuracy of class for
// iterations from..to inclusive, with the iteration numbers as xs.
func (t *AccuracyTable) RotationSeries(class, from, to int) (xs, ys []float64) {
	return series(t.Rotation, class, from, to)
}

// TranslationSeries is RotationSeries for translational accuracy.
func (t *AccuracyTable) TranslationSeries(class, from, to int) (xs, ys []float64) {
	return series(t.Translation, class, from, to)
}

func series(values [][]float64, class, from, to int) (xs, ys []float64) {
	if class < 1 || class > len(values) {
		return nil, nil
	}
	row := values[class-1]
	for it := max(from, 0); it <= to && it < len(row); it++ {
		if math.IsNaN(row[it]) {
			continue
		}
		xs = append(xs, float64(it))
		ys = append(ys, row[it])
	}
	return xs, ys
}
