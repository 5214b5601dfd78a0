package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ajitpratap0/classwiz/pkg/compression"
)

// Columns written by WriteRun, in file order.
var RunColumns = []string{
	"_rlnImageName",
	"_rlnMicrographName",
	"_rlnClassNumber",
	"_rlnAngleRot",
	"_rlnCtfMaxResolution",
	"_rlnGroupName",
	"_rlnDefocusU",
}

// RunSpec describes a synthetic 3D classification job.
type RunSpec struct {
	Root       string
	Iterations []int // iteration indices to write
	Particles  int
	Classes    int

	// Optional generators; nil selects a deterministic default.
	Class         func(particle, iteration int) int
	Micrograph    func(particle int) string
	Resolution    func(particle int) float64
	RotAccuracy   func(class, iteration int) float64
	TransAccuracy func(class, iteration int) float64

	// Suffix is appended to data file names, e.g. ".gz".
	Suffix    string
	SkipModel bool
}

// DataFileName returns the RELION data file name for an iteration.
func DataFileName(root string, iteration int) string {
	return fmt.Sprintf("%s_it%03d_data.star", root, iteration)
}

// ModelFileName returns the RELION model file name for an iteration.
func ModelFileName(root string, iteration int) string {
	return fmt.Sprintf("%s_it%03d_model.star", root, iteration)
}

// Range returns the integers [from, to].
func Range(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func (s *RunSpec) defaults() {
	if s.Root == "" {
		s.Root = "run"
	}
	if s.Class == nil {
		classes := s.Classes
		s.Class = func(p, _ int) int { return p%classes + 1 }
	}
	if s.Micrograph == nil {
		s.Micrograph = func(p int) string { return fmt.Sprintf("mic%03d", p/10) }
	}
	if s.Resolution == nil {
		s.Resolution = func(p int) float64 { return 3.0 + float64(p%5) }
	}
	if s.RotAccuracy == nil {
		s.RotAccuracy = func(c, it int) float64 { return 10.0/float64(it+1) + float64(c) }
	}
	if s.TransAccuracy == nil {
		s.TransAccuracy = func(c, it int) float64 { return 5.0/float64(it+1) + float64(c)/10 }
	}
}

// DataFile renders the particle file for one iteration.
func (s RunSpec) DataFile(iteration int) string {
	s.defaults()
	var b strings.Builder
	b.WriteString("\n# version 30001\n\ndata_optics\n\nloop_\n_rlnOpticsGroupName #1\n_rlnOpticsGroup #2\nopticsGroup1 1\n\n")
	b.WriteString("\n# version 30001\n\ndata_particles\n\nloop_\n")
	for i, name := range RunColumns {
		fmt.Fprintf(&b, "%s #%d\n", name, i+1)
	}
	for p := 0; p < s.Particles; p++ {
		mic := s.Micrograph(p)
		fmt.Fprintf(&b, "%06d@Particles/%s.mrcs %s.mrc %d %.2f %.2f group_%02d %.1f\n",
			p%10+1, mic, mic, s.Class(p, iteration), float64(p*7%360)-180, s.Resolution(p),
			p%3+1, 10000+float64(p))
	}
	b.WriteString("\n")
	return b.String()
}

// ModelFile renders the model file for one iteration.
func (s RunSpec) ModelFile(iteration int) string {
	s.defaults()
	var b strings.Builder
	b.WriteString("\n# version 30001\n\ndata_model_general\n\n")
	fmt.Fprintf(&b, "_rlnReferenceDimensionality 3\n_rlnNrClasses %d\n\n", s.Classes)
	b.WriteString("# version 30001\n\ndata_model_classes\n\nloop_\n")
	b.WriteString("_rlnReferenceImage #1\n_rlnClassDistribution #2\n_rlnAccuracyRotations #3\n_rlnAccuracyTranslations #4\n")
	for c := 1; c <= s.Classes; c++ {
		fmt.Fprintf(&b, "Class3D/job012/%s_it%03d_class%03d.mrc %.4f %.3f %.3f\n",
			s.Root, iteration, c, 1/float64(s.Classes), s.RotAccuracy(c, iteration), s.TransAccuracy(c, iteration))
	}
	for c := 1; c <= s.Classes; c++ {
		fmt.Fprintf(&b, "\ndata_model_class_%d\n\nloop_\n_rlnSpectralIndex #1\n0 0.0\n", c)
	}
	return b.String()
}

// WriteRun writes the data and model files of spec into dir and returns the
// data file paths in iteration order.
func WriteRun(t *testing.T, dir string, spec RunSpec) []string {
	t.Helper()
	spec.defaults()

	paths := make([]string, 0, len(spec.Iterations))
	for _, it := range spec.Iterations {
		path := filepath.Join(dir, DataFileName(spec.Root, it)+spec.Suffix)
		writeFile(t, path, spec.DataFile(it))
		paths = append(paths, path)
		if !spec.SkipModel {
			writeFile(t, filepath.Join(dir, ModelFileName(spec.Root, it)), spec.ModelFile(it))
		}
	}
	return paths
}

// WriteFile writes content to path, compressing by suffix.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	writeFile(t, path, content)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	fh, err := os.Create(path)
	RequireNoError(t, err, "create fixture")
	w, err := compression.NewWriter(fh, compression.Detect(path))
	RequireNoError(t, err, "open fixture writer")
	_, err = w.Write([]byte(content))
	RequireNoError(t, err, "write fixture")
	RequireNoError(t, w.Close(), "flush fixture")
	RequireNoError(t, fh.Close(), "close fixture")
}
