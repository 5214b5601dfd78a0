// Package pipeline drives one classwiz run: discovery, accumulation,
// scoring, reporting and filtering.
//
// # Overview
//
// Every stage runs once, in order, inside its own trace span, and its
// duration is recorded in the run's metrics. Structured logs go to the
// logger; the progress lines an operator reads go to the output writer.
//
// # Basic Usage
//
//	p := pipeline.New(cfg, logger, os.Stdout,
//	    pipeline.WithMetrics(metrics.NewCollector()),
//	    pipeline.WithVersion(version),
//	)
//	result, err := p.Run(ctx)
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/classwiz/internal/analysis"
	"github.com/ajitpratap0/classwiz/internal/discovery"
	"github.com/ajitpratap0/classwiz/internal/filter"
	"github.com/ajitpratap0/classwiz/internal/report"
	"github.com/ajitpratap0/classwiz/internal/summary"
	"github.com/ajitpratap0/classwiz/pkg/config"
	"github.com/ajitpratap0/classwiz/pkg/errors"
	"github.com/ajitpratap0/classwiz/pkg/metrics"
	"github.com/ajitpratap0/classwiz/pkg/observability"
	"github.com/ajitpratap0/classwiz/pkg/performance"
)

// Stage names, as they appear in spans and metrics.
const (
	StageDiscover   = "discover"
	StageReference  = "reference"
	StageAccumulate = "accumulate"
	StageScore      = "score"
	StageReport     = "report"
	StageFilter     = "filter"
	StageSummary    = "summary"
)

// Pipeline runs the analysis described by a Config.
type Pipeline struct {
	cfg     *config.Config
	logger  *zap.Logger
	out     io.Writer
	metrics *metrics.Collector
	tracing *observability.Tracing
	monitor *performance.ResourceMonitor
	version string
	newSink func(path string) (report.Sink, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records the run into c instead of a private collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithTracing traces stages with t.
func WithTracing(t *observability.Tracing) Option {
	return func(p *Pipeline) { p.tracing = t }
}

// WithVersion sets the version reported in the summary.
func WithVersion(v string) Option {
	return func(p *Pipeline) { p.version = v }
}

// WithSink replaces the PDF report writer.
func WithSink(newSink func(path string) (report.Sink, error)) Option {
	return func(p *Pipeline) { p.newSink = newSink }
}

// New creates a pipeline. Progress lines are written to out.
func New(cfg *config.Config, logger *zap.Logger, out io.Writer, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		monitor: performance.NewResourceMonitor(),
		version: "dev",
		newSink: func(path string) (report.Sink, error) { return report.CreatePDF(path) },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.NewCollector()
	}
	if p.tracing == nil {
		p.tracing, _ = observability.NewTracing(observability.TracingConfig{ServiceName: "classwiz"})
	}
	return p
}

// Result is what a run produced.
type Result struct {
	Run          *discovery.Run
	Reference    *analysis.Reference
	Accumulator  *analysis.RunAccumulator
	Scores       []float64
	Distribution analysis.Distribution
	// Cutoff and Unwanted are set when change-based filtering is on.
	Cutoff   *float64
	Unwanted map[int]struct{}

	ReportPath string
	Report     report.Outcome
	Filter     *filter.Result
	Resources  performance.ResourceUsage
	Duration   time.Duration
}

type stage struct {
	name string
	fn   func(ctx context.Context, span *observability.Span, res *Result) error
}

// Run executes every stage. On error the partial result is returned with
// the error; no stage after the failing one runs.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}
	p.logger.Info("starting classwiz run",
		zap.String("folder", p.cfg.Folder),
		zap.String("root", p.cfg.Root),
		zap.String("output", p.cfg.Output),
		zap.Bool("filter", p.cfg.Filter))

	if p.cfg.Summary != "" {
		if _, err := summary.FormatOf(p.cfg.Summary); err != nil {
			return res, err
		}
	}
	defer p.writeMetrics()

	stages := []stage{
		{StageDiscover, p.discover},
		{StageReference, p.reference},
		{StageAccumulate, p.accumulate},
		{StageScore, p.score},
		{StageReport, p.report},
		{StageFilter, p.filter},
		{StageSummary, p.summarize},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Duration = time.Since(start)
		timer := metrics.NewTimer(s.name)
		err := p.tracing.TraceStage(ctx, s.name, func(ctx context.Context, span *observability.Span) error {
			return s.fn(ctx, span, res)
		})
		p.metrics.ObserveStage(timer.Name(), timer.Stop())
		if err != nil {
			p.logger.Error("stage failed", zap.String("stage", s.name), zap.Error(err))
			return res, err
		}
	}

	res.Duration = time.Since(start)
	p.logger.Info("classwiz run completed",
		zap.Duration("duration", res.Duration),
		zap.Int("pages", len(res.Report.Rendered)))
	return res, nil
}

func (p *Pipeline) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Pipeline) discover(_ context.Context, span *observability.Span, res *Result) error {
	run, err := discovery.Discover(p.cfg.Folder, p.cfg.Root, p.logger)
	if err != nil {
		return err
	}
	res.Run = run

	p.printf("")
	for _, f := range run.Files {
		p.printf("Using %s as input", f.Name)
	}
	span.SetAttribute("files", len(run.Files))
	span.SetAttribute("iterations", run.Iterations)
	return nil
}

func (p *Pipeline) reference(_ context.Context, span *observability.Span, res *Result) error {
	ref, err := analysis.ResolveReference(res.Run, p.cfg.Reference, p.logger)
	if err != nil {
		return err
	}
	res.Reference = ref

	names := make([]string, 0, len(ref.Layout.Fields))
	for _, f := range ref.Layout.Fields {
		names = append(names, f.Name)
	}
	p.printf("")
	p.printf("Plots will be generated for the following columns: %s", strings.Join(names, ", "))

	p.metrics.Particles.Set(float64(ref.Particles))
	p.metrics.Classes.Set(float64(ref.Classes))
	p.logger.Info("resolved reference iteration",
		zap.String("file", ref.File.Name),
		zap.Int("iteration", ref.File.Iteration),
		zap.Int("particles", ref.Particles),
		zap.Int("classes", ref.Classes))

	need := performance.TableBytes(ref.Particles, res.Run.Iterations, len(ref.Layout.Fields))
	if usage := p.monitor.Usage(); !usage.Fits(need) {
		p.logger.Warn("accumulated tables may not fit in memory",
			zap.String("needed", humanize.IBytes(need)),
			zap.String("available", humanize.IBytes(usage.SystemMemoryAvailable)))
	}

	span.SetAttribute("reference", ref.File.Name)
	span.SetAttribute("particles", ref.Particles)
	span.SetAttribute("classes", ref.Classes)
	return nil
}

func (p *Pipeline) accumulate(ctx context.Context, span *observability.Span, res *Result) error {
	acc := analysis.NewRunAccumulator(res.Run.Iterations, res.Reference)
	res.Accumulator = acc

	p.printf("")
	for _, f := range res.Run.Files {
		if f.Iteration < 1 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		changes, err := acc.AddIterationFile(f)
		if err != nil {
			return err
		}
		if err := acc.AddModelFile(f); err != nil {
			return err
		}
		p.metrics.RecordChanges(f.Iteration, changes)
		p.logger.Debug("accumulated iteration",
			zap.String("file", f.Name),
			zap.Int("iteration", f.Iteration),
			zap.Int("changes", changes))
		p.printf("Iteration %d: %s particles changed class assignments", f.Iteration, humanize.Comma(int64(changes)))
		span.AddEvent("iteration", attribute.Int("iteration", f.Iteration), attribute.Int("changes", changes))
	}

	res.Resources = p.monitor.Usage()
	p.metrics.ResidentMemory.Set(float64(res.Resources.MemoryRSS))
	p.logger.Info("accumulated run",
		zap.Int("iterations", res.Run.Iterations),
		zap.Int("micrographs", len(acc.Micrographs)),
		zap.String("rss", humanize.IBytes(res.Resources.MemoryRSS)),
		zap.String("heap", humanize.IBytes(res.Resources.HeapAlloc)))
	return nil
}

func (p *Pipeline) score(_ context.Context, span *observability.Span, res *Result) error {
	res.Scores = res.Accumulator.JumpScores()
	res.Distribution = analysis.Describe(res.Scores)
	span.SetAttribute("mean", res.Distribution.Mean)
	span.SetAttribute("sigma", res.Distribution.Sigma)

	if !p.cfg.Filter {
		return nil
	}
	cutoff := res.Distribution.Cutoff(p.cfg.SigmaFactor)
	res.Cutoff = &cutoff
	res.Unwanted = analysis.Unwanted(res.Scores, cutoff)
	p.metrics.JumpScoreCutoff.Set(cutoff)

	p.printf("")
	p.printf("The mean jump score is: %g", res.Distribution.Mean)
	if p.cfg.SigmaFactorSet {
		p.printf("I will use a cutoff of: %g", cutoff)
	} else {
		p.printf("You did not specify a cutoff, I will use a sigma of %g above mean: %g", p.cfg.SigmaFactor, cutoff)
	}
	p.logger.Info("computed jump-score cutoff",
		zap.Float64("cutoff", cutoff),
		zap.Float64("sigma_factor", p.cfg.SigmaFactor),
		zap.Int("unwanted", len(res.Unwanted)))
	span.SetAttribute("cutoff", cutoff)
	span.SetAttribute("unwanted", len(res.Unwanted))
	return nil
}

func (p *Pipeline) report(_ context.Context, span *observability.Span, res *Result) error {
	sink, err := p.newSink(p.cfg.Output)
	if err != nil {
		return err
	}
	outcome, err := report.Build(report.Input{
		Run:          res.Accumulator,
		Scores:       res.Scores,
		Distribution: res.Distribution,
		Style:        p.cfg.Plot,
	}, sink, p.logger)
	if cerr := sink.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, errors.ErrorTypeFile, "failed to write report").WithDetail("file", p.cfg.Output)
	}
	if err != nil {
		_ = os.Remove(p.cfg.Output)
		return err
	}
	res.ReportPath = p.cfg.Output
	res.Report = outcome
	p.metrics.RecordPages(len(outcome.Rendered), len(outcome.Skipped))

	for _, name := range outcome.Skipped {
		if name == report.PageRotationalAccuracy {
			p.printf("")
			p.printf("You did not perform image alignment during classification - skipping these two plots!")
		}
	}
	p.printf("")
	p.printf("Saved all plots in %s", p.cfg.Output)
	span.SetAttribute("rendered", len(outcome.Rendered))
	span.SetAttribute("skipped", len(outcome.Skipped))
	return nil
}

func (p *Pipeline) filter(_ context.Context, span *observability.Span, res *Result) error {
	opts := filter.Options{Unwanted: res.Unwanted, MaxResolution: p.cfg.MaxResolution}
	if !opts.Enabled() {
		span.SetAttribute("skipped", true)
		return nil
	}
	src, ok := res.Run.First()
	if !ok {
		return errors.New(errors.ErrorTypeNotFound, "no iteration file to filter").
			WithDetail("root", p.cfg.Root)
	}
	dst := filter.OutputPath(filepath.Dir(p.cfg.Output), p.cfg.Root, src)
	result, err := filter.WriteFile(src, dst, opts, p.logger)
	if err != nil {
		return err
	}
	res.Filter = &result
	p.metrics.RowsExcluded.Set(float64(result.Excluded))

	p.printf("Saved %s omitting %s out of %s particles", filepath.Base(dst),
		humanize.Comma(int64(result.Excluded)), humanize.Comma(int64(result.Rows)))
	span.SetAttribute("output", dst)
	span.SetAttribute("excluded", result.Excluded)
	return nil
}

func (p *Pipeline) summarize(_ context.Context, span *observability.Span, res *Result) error {
	if p.cfg.Summary == "" {
		span.SetAttribute("skipped", true)
		return nil
	}
	s := &summary.Summary{
		Version:     p.version,
		GeneratedAt: time.Now().UTC(),
		Duration:    res.Duration.String(),
		Folder:      res.Run.Folder,
		Root:        res.Run.Root,
		Reference:   res.Reference.File.Name,
		Iterations:  res.Run.Iterations,
		Classes:     res.Accumulator.Classes,
		Particles:   res.Accumulator.Particles,
		Changes:     summary.ChangesOf(res.Accumulator),
		Scores:      res.Distribution,
		SigmaFactor: p.cfg.SigmaFactor,
		Cutoff:      res.Cutoff,
		Unwanted:    len(res.Unwanted),
		Filter:      res.Filter,
		Report:      summary.Report{Path: res.ReportPath, Pages: res.Report},
		Resources:   res.Resources,
	}
	if err := summary.Write(p.cfg.Summary, s); err != nil {
		return err
	}
	p.logger.Info("wrote run summary", zap.String("file", p.cfg.Summary))
	span.SetAttribute("file", p.cfg.Summary)
	return nil
}

func (p *Pipeline) writeMetrics() {
	if p.cfg.MetricsFile == "" {
		return
	}
	if err := p.metrics.WriteTextfile(p.cfg.MetricsFile); err != nil {
		p.logger.Warn("failed to write metrics", zap.String("file", p.cfg.MetricsFile), zap.Error(err))
	}
}
