package summary

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/classwiz/internal/analysis"
	"github.com/ajitpratap0/classwiz/internal/filter"
	"github.com/ajitpratap0/classwiz/internal/report"
	"github.com/ajitpratap0/classwiz/pkg/errors"
	"github.com/ajitpratap0/classwiz/pkg/json"
)

func sample() *Summary {
	cutoff := 0.31
	return &Summary{
		Version:     "test",
		Root:        "run",
		Iterations:  21,
		Classes:     4,
		Particles:   100,
		Changes:     []IterationChanges{{Iteration: 2, Changes: 40}, {Iteration: 3, Changes: 12}},
		Scores:      analysis.Distribution{Mean: 0.2, Variance: 0.01, Sigma: 0.1},
		SigmaFactor: 1,
		Cutoff:      &cutoff,
		Unwanted:    9,
		Filter:      &filter.Result{Path: "run_filtered.star", Rows: 100, Written: 91, Excluded: 9},
		Report: Report{
			Path:  "output.pdf",
			Pages: report.Outcome{Rendered: []string{report.PageLegend}, Skipped: []string{report.PageRotationalAccuracy}},
		},
	}
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]Format{"a.yaml": FormatYAML, "b.YML": FormatYAML, "c.json": FormatJSON} {
		got, err := FormatOf(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatOf("summary.txt")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestEncodeYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sample(), FormatYAML))

	var decoded Summary
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 100, decoded.Particles)
	assert.Equal(t, 9, decoded.Filter.Excluded)
	assert.Equal(t, 0.31, *decoded.Cutoff)
	assert.Equal(t, []string{report.PageLegend}, decoded.Report.Pages.Rendered)
	assert.Contains(t, buf.String(), "jump_scores:")
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	s := sample()
	s.Filter = nil
	s.Cutoff = nil
	require.NoError(t, Write(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"filter"`)
	assert.NotContains(t, string(data), `"cutoff"`)

	var decoded Summary
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s.Changes, decoded.Changes)
	assert.Equal(t, s.Scores, decoded.Scores)
}

func TestWriteRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.csv")
	require.Error(t, Write(path, sample()))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
