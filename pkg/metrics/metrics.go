// Package metrics records what one classwiz run did as Prometheus metrics.
//
// classwiz is a batch tool, so nothing is served. A Collector owns its own
// registry and the pipeline writes it in the node-exporter textfile format
// when the run finishes, for pickup by a collector on the processing node.
//
// # Basic Usage
//
//	collector := metrics.NewCollector()
//	timer := metrics.NewTimer("accumulate")
//	accumulate(run)
//	collector.ObserveStage(timer.Name(), timer.Stop())
//	collector.RecordChanges(iteration, changes)
//	_ = collector.WriteTextfile("/var/lib/node_exporter/classwiz.prom")
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "classwiz"

// Collector holds the metrics of one run.
type Collector struct {
	registry *prometheus.Registry

	IterationsProcessed prometheus.Counter
	Particles           prometheus.Gauge
	Classes             prometheus.Gauge
	ClassChanges        *prometheus.GaugeVec
	StageDuration       *prometheus.HistogramVec
	JumpScoreCutoff     prometheus.Gauge
	RowsExcluded        prometheus.Gauge
	ReportPages         *prometheus.GaugeVec
	ResidentMemory      prometheus.Gauge

	startTime time.Time
}

// NewCollector creates a collector backed by a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		IterationsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_processed_total",
			Help:      "Iteration files accumulated",
		}),
		Particles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "particles",
			Help:      "Particles in the reference iteration",
		}),
		Classes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classes",
			Help:      "Classes in the reference iteration",
		}),
		ClassChanges: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "class_changes",
			Help:      "Particles whose class changed relative to the previous iteration",
		}, []string{"iteration"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage",
			Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300},
		}, []string{"stage"}),
		JumpScoreCutoff: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jump_score_cutoff",
			Help:      "Jump score above which particles are excluded",
		}),
		RowsExcluded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filtered_rows_excluded",
			Help:      "Particle rows left out of the filtered file",
		}),
		ReportPages: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_pages",
			Help:      "Report pages by outcome",
		}, []string{"status"}),
		ResidentMemory: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_memory_bytes",
			Help:      "Resident set size after accumulation",
		}),
		startTime: time.Now(),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time { return c.startTime }

// RecordChanges stores the change counter of one iteration.
func (c *Collector) RecordChanges(iteration, changes int) {
	c.IterationsProcessed.Inc()
	c.ClassChanges.WithLabelValues(strconv.Itoa(iteration)).Set(float64(changes))
}

// ObserveStage records the duration of a stage.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPages stores how many report pages were rendered and skipped.
func (c *Collector) RecordPages(rendered, skipped int) {
	c.ReportPages.WithLabelValues("rendered").Set(float64(rendered))
	c.ReportPages.WithLabelValues("skipped").Set(float64(skipped))
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// Timer provides a simple timing mechanism for measuring stage durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the name the timer was created with.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
