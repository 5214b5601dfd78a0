package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/classwiz/internal/report"
	"github.com/ajitpratap0/classwiz/pkg/config"
	"github.com/ajitpratap0/classwiz/pkg/errors"
	"github.com/ajitpratap0/classwiz/pkg/metrics"
	"github.com/ajitpratap0/classwiz/pkg/observability"
	"github.com/ajitpratap0/classwiz/pkg/testutil"
)

// unstable moves every third particle between classes.
func unstable(p, it int) int {
	if p%3 == 0 {
		return (p+it/3)%4 + 1
	}
	return p%4 + 1
}

type fixture struct {
	dir    string
	cfg    *config.Config
	out    *bytes.Buffer
	sink   *report.Recorder
	runner *Pipeline
}

func newFixture(t *testing.T, spec testutil.RunSpec, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteRun(t, dir, spec)

	cfg := config.Default()
	cfg.Folder = dir
	cfg.Output = filepath.Join(t.TempDir(), "output.pdf")

	f := &fixture{dir: dir, cfg: cfg, out: &bytes.Buffer{}, sink: &report.Recorder{}}
	opts = append([]Option{WithSink(func(string) (report.Sink, error) { return f.sink, nil })}, opts...)
	f.runner = New(cfg, testutil.TestLogger(t), f.out, opts...)
	return f
}

func scenario() testutil.RunSpec {
	return testutil.RunSpec{Iterations: testutil.Range(1, 20), Particles: 100, Classes: 4, Class: unstable}
}

func filteredPath(f *fixture) string {
	return filepath.Join(filepath.Dir(f.cfg.Output), "run_filtered.star")
}

func TestRunWithoutFiltering(t *testing.T) {
	f := newFixture(t, scenario())

	res, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 21, res.Run.Iterations)
	assert.Equal(t, 100, res.Accumulator.Particles)
	assert.Equal(t, 4, res.Accumulator.Classes)
	assert.Nil(t, res.Filter)
	assert.Nil(t, res.Cutoff)
	assert.NoFileExists(t, filteredPath(f))

	assert.Equal(t, f.sink.Names(), res.Report.Rendered)
	assert.True(t, f.sink.Closed)
	assert.Contains(t, res.Report.Rendered, report.PageAssignments)
	assert.Contains(t, res.Report.Rendered, report.PageRotationalAccuracy)
	assert.Len(t, res.Accumulator.AssignmentGrid(res.Accumulator.SortOrder(), 1, res.Accumulator.Final())[0], 20)

	out := f.out.String()
	assert.Contains(t, out, "Using run_it001_data.star as input")
	assert.Contains(t, out, "Iteration 20: ")
	assert.Contains(t, out, "Saved all plots in "+f.cfg.Output)
	assert.NotContains(t, out, "cutoff")
}

func TestRunFiltersJumpers(t *testing.T) {
	f := newFixture(t, scenario())
	f.cfg.Filter = true

	res, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Cutoff)
	require.NotNil(t, res.Filter)

	cutoff := res.Distribution.Mean + res.Distribution.Sigma
	assert.InDelta(t, cutoff, *res.Cutoff, 1e-12)
	above := 0
	for _, s := range res.Scores {
		if s > cutoff {
			above++
		}
	}
	assert.Equal(t, above, res.Filter.Excluded)
	assert.Equal(t, len(res.Unwanted), res.Filter.Excluded)
	assert.Equal(t, 100, res.Filter.Rows)
	assert.Equal(t, filteredPath(f), res.Filter.Path)
	assert.FileExists(t, res.Filter.Path)
	assert.Contains(t, f.out.String(), "You did not specify a cutoff, I will use a sigma of 1 above mean")
}

func TestRunReportsOperatorCutoff(t *testing.T) {
	f := newFixture(t, scenario())
	f.cfg.Filter = true
	f.cfg.SigmaFactor = 0.5
	f.cfg.SigmaFactorSet = true

	res, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, res.Distribution.Mean+0.5*res.Distribution.Sigma, *res.Cutoff, 1e-12)
	assert.Contains(t, f.out.String(), "I will use a cutoff of: ")
}

func TestRunFiltersByResolution(t *testing.T) {
	f := newFixture(t, scenario())
	limit := 5.0
	f.cfg.MaxResolution = &limit

	res, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Unwanted)
	require.NotNil(t, res.Filter)
	assert.Equal(t, 40, res.Filter.Excluded)
	assert.Equal(t, 60, res.Filter.Written)

	input, err := os.ReadFile(filepath.Join(f.dir, testutil.DataFileName("run", 1)))
	require.NoError(t, err)
	output, err := os.ReadFile(res.Filter.Path)
	require.NoError(t, err)
	assert.Equal(t, metadataLines(string(input)), metadataLines(string(output)))
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "@") {
			assert.LessOrEqual(t, resolutionOf(t, line), limit, line)
		}
	}
}

func TestRunSkipsAccuracyWithoutAlignment(t *testing.T) {
	spec := scenario()
	spec.RotAccuracy = func(int, int) float64 { return 999 }
	f := newFixture(t, spec)

	res, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Report.Skipped, report.PageRotationalAccuracy)
	assert.Contains(t, res.Report.Skipped, report.PageTranslationalAccuracy)
	assert.NotContains(t, res.Report.Rendered, report.PageRotationalAccuracy)
	assert.Contains(t, res.Report.Rendered, report.PageChanges)
	assert.Contains(t, f.out.String(), "You did not perform image alignment during classification")
}

func TestRunFailsWithoutIterationFiles(t *testing.T) {
	cfg := config.Default()
	cfg.Folder = t.TempDir()
	cfg.Output = filepath.Join(t.TempDir(), "output.pdf")

	_, err := New(cfg, testutil.TestLogger(t), &bytes.Buffer{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.NoFileExists(t, cfg.Output)
}

func TestRunRejectsBadSummaryName(t *testing.T) {
	f := newFixture(t, scenario())
	f.cfg.Summary = filepath.Join(t.TempDir(), "summary.txt")

	_, err := f.runner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Empty(t, f.sink.Names())
}

func TestRunWritesSummaryMetricsAndTrace(t *testing.T) {
	var spans bytes.Buffer
	tracing, err := observability.NewTracing(observability.TracingConfig{ServiceName: "classwiz", Writer: &spans})
	require.NoError(t, err)
	collector := metrics.NewCollector()

	f := newFixture(t, testutil.RunSpec{Iterations: testutil.Range(0, 8), Particles: 30, Classes: 3, Class: unstable},
		WithMetrics(collector), WithTracing(tracing), WithVersion("1.2.3"))
	out := t.TempDir()
	f.cfg.Filter = true
	f.cfg.Summary = filepath.Join(out, "summary.yaml")
	f.cfg.MetricsFile = filepath.Join(out, "classwiz.prom")

	_, err = f.runner.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, tracing.Shutdown(context.Background()))

	s, err := os.ReadFile(f.cfg.Summary)
	require.NoError(t, err)
	assert.Contains(t, string(s), "version: 1.2.3")
	assert.Contains(t, string(s), "particles: 30")
	assert.Contains(t, string(s), "cutoff:")

	m, err := os.ReadFile(f.cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(m), "classwiz_particles 30")
	assert.Contains(t, string(m), "classwiz_iterations_processed_total 8")

	for _, stage := range []string{StageDiscover, StageReference, StageAccumulate, StageScore, StageReport, StageFilter, StageSummary} {
		assert.Contains(t, spans.String(), `"Name":"`+stage+`"`)
	}
}

func TestRunWritesPDF(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRun(t, dir, testutil.RunSpec{Iterations: testutil.Range(0, 6), Particles: 24, Classes: 3, Class: unstable})
	cfg := config.Default()
	cfg.Folder = dir
	cfg.Output = filepath.Join(t.TempDir(), "wiz.pdf")

	res, err := New(cfg, testutil.TestLogger(t), &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.Output, res.ReportPath)
	data, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, scenario())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.sink.Names())
}

func metadataLines(content string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		if !strings.Contains(sc.Text(), "@") {
			out = append(out, sc.Text())
		}
	}
	return out
}

func resolutionOf(t *testing.T, line string) float64 {
	t.Helper()
	cols := strings.Fields(line)
	require.Len(t, cols, len(testutil.RunColumns))
	res, err := strconv.ParseFloat(cols[4], 64)
	require.NoError(t, err)
	return res
}
