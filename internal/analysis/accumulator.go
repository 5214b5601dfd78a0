// Package analysis accumulates per-particle class assignments across the
// iterations of a RELION 3D classification and derives the stability
// statistics classwiz reports on.
//
// All tables are sized once from the reference iteration and filled while
// the iteration files are streamed in order. Nothing is mutated once the
// derived views are requested.
package analysis

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/classwiz/internal/discovery"
	"github.com/ajitpratap0/classwiz/pkg/errors"
	"github.com/ajitpratap0/classwiz/pkg/star"
)

// Jumper holds the values of the two final iterations of one particle.
// Index 0 is the second-to-last iteration, index 1 the last.
type Jumper struct {
	AngleRot [2]float64
	Class    [2]int
}

// RunAccumulator owns every table built while streaming a run.
type RunAccumulator struct {
	Iterations int
	Classes    int
	Particles  int
	Reference  *Reference

	// Fields are the columns captured for the final iteration, in
	// reference-layout order.
	Fields []star.Field

	// Assignments[p][i] is the class of particle p at iteration i; 0 means
	// no class, either unparsed or above the known class count.
	Assignments [][]int
	// Snapshot[p][j] is the value of Fields[j] for particle p in the final
	// iteration. Text values are NaN.
	Snapshot [][]float64
	Jumpers  []Jumper
	// Changes[i] counts particles whose class differs from iteration i-1.
	Changes []int
	// Micrographs maps a micrograph name to per-iteration class histograms
	// (index c-1 counts class c).
	Micrographs map[string][][]int
	Accuracy    *AccuracyTable

	parsed []bool
}

// NewRunAccumulator allocates all tables for a run.
func NewRunAccumulator(iterations int, ref *Reference) *RunAccumulator {
	a := &RunAccumulator{
		Iterations:  iterations,
		Classes:     ref.Classes,
		Particles:   ref.Particles,
		Reference:   ref,
		Fields:      ref.Layout.Fields,
		Assignments: make([][]int, ref.Particles),
		Snapshot:    make([][]float64, ref.Particles),
		Jumpers:     make([]Jumper, ref.Particles),
		Changes:     make([]int, iterations),
		Micrographs: make(map[string][][]int),
		Accuracy:    NewAccuracyTable(ref.Classes, iterations),
		parsed:      make([]bool, iterations),
	}
	for p := range a.Assignments {
		a.Assignments[p] = make([]int, iterations)
		a.Jumpers[p] = Jumper{AngleRot: [2]float64{math.NaN(), math.NaN()}}
	}
	return a
}

// Final is the index of the last iteration.
func (a *RunAccumulator) Final() int { return a.Iterations - 1 }

// Parsed reports whether an iteration has been accumulated.
func (a *RunAccumulator) Parsed(iteration int) bool {
	return iteration >= 0 && iteration < len(a.parsed) && a.parsed[iteration]
}

// AddIterationFile opens f and accumulates it.
func (a *RunAccumulator) AddIterationFile(f discovery.IterationFile) (int, error) {
	rc, err := star.Open(f.Path)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to open iteration file").
			WithDetail("file", f.Path)
	}
	defer rc.Close()
	return a.AddIteration(f.Name, f.Iteration, rc)
}

// AddIteration streams the particle rows of one iteration and returns the
// number of particles that changed class relative to the previous iteration.
func (a *RunAccumulator) AddIteration(name string, iteration int, r io.Reader) (int, error) {
	if iteration < 1 || iteration >= a.Iterations {
		return 0, errors.Newf(errors.ErrorTypeInternal, "iteration %d outside accumulated range 1..%d", iteration, a.Final()).
			WithDetail("file", name)
	}

	var (
		layout                     star.Layout
		classCol, micCol, imageCol int
		width, changes             int
		snapshotCols               []int
	)
	rotCol := -1
	final := iteration == a.Final()
	jumperSlot := iteration - (a.Iterations - 2)

	sc := star.NewScanner(r)
	for sc.Scan() {
		line := sc.Line()
		if line.Kind != star.KindData {
			continue
		}
		if line.Row == 0 {
			layout, _ = sc.Layout()
			if err := a.checkLayout(name, layout); err != nil {
				return 0, err
			}
			classCol, _ = layout.Column(star.FieldClassNumber)
			micCol, _ = layout.Column(star.FieldMicrographName)
			imageCol, _ = layout.Column(star.FieldImageName)
			if c, ok := layout.Column(star.FieldAngleRot); ok {
				rotCol = c
			}
			width = layout.Width()
			if final {
				snapshotCols = make([]int, len(a.Fields))
				for j, f := range a.Fields {
					c, ok := layout.Column(f.Name)
					if !ok {
						c = -1
					}
					snapshotCols[j] = c
				}
			}
		}

		p := line.Row
		row := p + 1
		if p >= a.Particles {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"%s has more particle rows than the reference (%d)", name, a.Particles).
				WithDetail("file", name).
				WithDetail("row", row)
		}

		cols := line.Columns()
		if len(cols) < width {
			return 0, errors.Malformed(name, row, fmt.Sprintf("expected %d columns, found %d", width, len(cols)))
		}
		if want := a.Reference.Identifiers[p]; cols[imageCol] != want {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"row %d of %s is particle %s, reference has %s", row, name, cols[imageCol], want).
				WithDetail("file", name).
				WithDetail("row", row)
		}

		class, err := strconv.Atoi(cols[classCol])
		if err != nil {
			return 0, errors.Malformed(name, row, fmt.Sprintf("class number %q is not an integer", cols[classCol]))
		}
		if class > a.Classes || class < 0 {
			class = 0
		}

		a.Assignments[p][iteration] = class
		a.countMicrograph(cols[micCol], iteration, class)

		if final {
			snap := make([]float64, len(a.Fields))
			for j, c := range snapshotCols {
				if c < 0 {
					snap[j] = math.NaN()
					continue
				}
				snap[j] = SnapshotValue(cols[c])
			}
			a.Snapshot[p] = snap
		}

		if jumperSlot >= 0 {
			a.Jumpers[p].Class[jumperSlot] = class
			if rotCol >= 0 {
				if v, err := strconv.ParseFloat(cols[rotCol], 64); err == nil {
					a.Jumpers[p].AngleRot[jumperSlot] = v
				}
			}
		}

		if a.Assignments[p][iteration] != a.Assignments[p][iteration-1] {
			changes++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to read iteration file").
			WithDetail("file", name)
	}
	if sc.Rows() != a.Particles {
		return 0, errors.Newf(errors.ErrorTypeValidation,
			"%s has %d particle rows, reference has %d", name, sc.Rows(), a.Particles).
			WithDetail("file", name)
	}

	a.Changes[iteration] = changes
	a.parsed[iteration] = true
	return changes, nil
}

// checkLayout confirms an iteration file places the required columns where
// the reference does, so positional rows mean the same thing in every file.
func (a *RunAccumulator) checkLayout(name string, layout star.Layout) error {
	if err := layout.Require(name, star.RequiredFields...); err != nil {
		return err
	}
	names := append([]string(nil), star.RequiredFields...)
	if a.Reference.Layout.Has(star.FieldAngleRot) {
		names = append(names, star.FieldAngleRot)
	}
	if field := layout.Mismatch(a.Reference.Layout, names...); field != "" {
		return errors.Newf(errors.ErrorTypeValidation,
			"column layout of %s differs from reference %s", name, a.Reference.File.Name).
			WithDetail("file", name).
			WithDetail("field", field)
	}
	return nil
}

func (a *RunAccumulator) countMicrograph(mic string, iteration, class int) {
	hist, ok := a.Micrographs[mic]
	if !ok {
		hist = make([][]int, a.Iterations)
		a.Micrographs[mic] = hist
	}
	if hist[iteration] == nil {
		hist[iteration] = make([]int, a.Classes)
	}
	if class >= 1 {
		hist[iteration][class-1]++
	}
}

// SnapshotValue converts a final-iteration column value to a number.
// Image and micrograph file names ("mrc") become 0, group names such as
// "group_07" become their trailing two digits, other text becomes NaN.
func SnapshotValue(raw string) float64 {
	if strings.Contains(raw, "mrc") {
		return 0
	}
	if strings.Contains(raw, "group") {
		if len(raw) < 2 {
			return math.NaN()
		}
		n, err := strconv.Atoi(raw[len(raw)-2:])
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// AddModelFile reads the model file paired with f into the accuracy table.
// Files without a model are skipped.
func (a *RunAccumulator) AddModelFile(f discovery.IterationFile) error {
	if f.ModelPath == "" {
		return nil
	}
	rc, err := star.Open(f.ModelPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to open model file").
			WithDetail("file", f.ModelPath)
	}
	defer rc.Close()
	return a.Accuracy.AddModel(f.ModelPath, f.Iteration, rc)
}
