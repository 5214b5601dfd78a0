// Package summary writes a machine-readable account of a classwiz run,
// for batch farms that collect results without opening the report.
package summary

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/classwiz/internal/analysis"
	"github.com/ajitpratap0/classwiz/internal/filter"
	"github.com/ajitpratap0/classwiz/internal/report"
	"github.com/ajitpratap0/classwiz/pkg/errors"
	"github.com/ajitpratap0/classwiz/pkg/json"
	"github.com/ajitpratap0/classwiz/pkg/performance"
)

// Format is a summary encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// IterationChanges is the change counter of one iteration.
type IterationChanges struct {
	Iteration int `json:"iteration" yaml:"iteration"`
	Changes   int `json:"changes" yaml:"changes"`
}

// Report describes the rendered report document.
type Report struct {
	Path  string         `json:"path" yaml:"path"`
	Pages report.Outcome `json:"pages" yaml:"pages"`
}

// Summary is everything a run reports about itself.
type Summary struct {
	Version     string    `json:"version" yaml:"version"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	Duration    string    `json:"duration" yaml:"duration"`

	Folder    string `json:"folder" yaml:"folder"`
	Root      string `json:"root" yaml:"root"`
	Reference string `json:"reference" yaml:"reference"`

	Iterations int `json:"iterations" yaml:"iterations"`
	Classes    int `json:"classes" yaml:"classes"`
	Particles  int `json:"particles" yaml:"particles"`

	Changes     []IterationChanges    `json:"changes" yaml:"changes"`
	Scores      analysis.Distribution `json:"jump_scores" yaml:"jump_scores"`
	SigmaFactor float64               `json:"sigma_factor" yaml:"sigma_factor"`
	Cutoff      *float64              `json:"cutoff,omitempty" yaml:"cutoff,omitempty"`
	Unwanted    int                   `json:"unwanted" yaml:"unwanted"`

	Filter    *filter.Result            `json:"filter,omitempty" yaml:"filter,omitempty"`
	Report    Report                    `json:"report" yaml:"report"`
	Resources performance.ResourceUsage `json:"resources" yaml:"resources"`
}

// FormatOf picks the encoding from a file name.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "summary file %q must end in .yaml, .yml or .json", path)
	}
}

// ChangesOf lists the change counters of iterations 2..N-1.
func ChangesOf(acc *analysis.RunAccumulator) []IterationChanges {
	var out []IterationChanges
	for it := 2; it < acc.Iterations; it++ {
		out = append(out, IterationChanges{Iteration: it, Changes: acc.Changes[it]})
	}
	return out
}

// Encode writes s to w.
func Encode(w io.Writer, s *Summary, format Format) error {
	switch format {
	case FormatJSON:
		if err := json.NewEncoder(w).Encode(s); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode summary")
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode summary")
		}
		return enc.Close()
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown summary format %q", format)
	}
}

// Write stores s at path in the format its extension names.
func Write(path string, s *Summary) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create summary file").
			WithDetail("file", path)
	}
	if err := Encode(f, s, format); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close summary file").
			WithDetail("file", path)
	}
	return nil
}
