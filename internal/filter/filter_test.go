package filter

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/classwiz/internal/discovery"
	"github.com/ajitpratap0/classwiz/pkg/errors"
	"github.com/ajitpratap0/classwiz/pkg/star"
	"github.com/ajitpratap0/classwiz/pkg/testutil"
)

var spec = testutil.RunSpec{Root: "run", Particles: 10, Classes: 2}

func metaLines(t *testing.T, content string) []string {
	t.Helper()
	var out []string
	sc := star.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		if sc.Line().Kind != star.KindData {
			out = append(out, sc.Line().Raw)
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func dataLines(t *testing.T, content string) []string {
	t.Helper()
	var out []string
	sc := star.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		if sc.Line().Kind == star.KindData {
			out = append(out, sc.Line().Raw)
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func ptr(v float64) *float64 { return &v }

func TestFilterByResolution(t *testing.T) {
	input := spec.DataFile(1)
	var out bytes.Buffer

	res, err := Filter("run_it001_data.star", strings.NewReader(input), &out, Options{MaxResolution: ptr(5.0)})
	require.NoError(t, err)

	// resolution is 3 + p%5: particles 3, 4, 8 and 9 exceed 5.0
	assert.Equal(t, Result{Rows: 10, Written: 6, Excluded: 4}, res)
	assert.Equal(t, metaLines(t, input), metaLines(t, out.String()))
	for _, l := range dataLines(t, out.String()) {
		assert.NotContains(t, l, " 6.00 ")
		assert.NotContains(t, l, " 7.00 ")
	}
}

func TestFilterByUnwanted(t *testing.T) {
	input := spec.DataFile(1)
	var out bytes.Buffer

	unwanted := map[int]struct{}{0: {}, 7: {}}
	res, err := Filter("in", strings.NewReader(input), &out, Options{Unwanted: unwanted})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Excluded)
	rows := dataLines(t, out.String())
	all := dataLines(t, input)
	require.Len(t, rows, 8)
	assert.NotContains(t, rows, all[0])
	assert.NotContains(t, rows, all[7])
	assert.Equal(t, all[1], rows[0])
}

func TestFilterConjunctive(t *testing.T) {
	input := spec.DataFile(1)
	var out bytes.Buffer

	unwanted := map[int]struct{}{0: {}, 3: {}}
	res, err := Filter("in", strings.NewReader(input), &out, Options{Unwanted: unwanted, MaxResolution: ptr(5.0)})
	require.NoError(t, err)

	// 3, 4, 8, 9 by resolution plus 0 by score; 3 is excluded once
	assert.Equal(t, 5, res.Excluded)
	rows := dataLines(t, out.String())
	assert.Len(t, rows, 5)

	seen := make(map[string]bool)
	for _, r := range rows {
		assert.False(t, seen[r], "row written twice: %s", r)
		seen[r] = true
	}
}

func TestFilterWithoutRulesIsIdentity(t *testing.T) {
	input := spec.DataFile(1)
	var out bytes.Buffer

	res, err := Filter("in", strings.NewReader(input), &out, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Excluded)
	assert.Equal(t, input, out.String())
}

func TestFilterIsIdempotent(t *testing.T) {
	opts := Options{MaxResolution: ptr(4.0), Unwanted: map[int]struct{}{1: {}}}
	var once bytes.Buffer
	_, err := Filter("in", strings.NewReader(spec.DataFile(1)), &once, Options{MaxResolution: opts.MaxResolution})
	require.NoError(t, err)

	var twice bytes.Buffer
	res, err := Filter("in", bytes.NewReader(once.Bytes()), &twice, Options{MaxResolution: opts.MaxResolution})
	require.NoError(t, err)
	assert.Zero(t, res.Excluded)
	assert.Equal(t, once.String(), twice.String())
}

func TestFilterErrors(t *testing.T) {
	t.Run("missing resolution column", func(t *testing.T) {
		input := "data_particles\nloop_\n_rlnImageName #1\n1@a.mrcs\n"
		_, err := Filter("in", strings.NewReader(input), io.Discard, Options{MaxResolution: ptr(4)})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("bad resolution value", func(t *testing.T) {
		input := strings.Replace(spec.DataFile(1), " 4.00 group_02", " n/a group_02", 1)
		_, err := Filter("in", strings.NewReader(input), io.Discard, Options{MaxResolution: ptr(4)})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeData))
		assert.Contains(t, err.Error(), "row 2 of file in")
	})
}

func TestWriteFileKeepsCompression(t *testing.T) {
	dir := t.TempDir()
	gz := spec
	gz.Iterations = []int{1}
	gz.Suffix = ".gz"
	gz.SkipModel = true
	paths := testutil.WriteRun(t, dir, gz)

	src := discovery.IterationFile{Iteration: 1, Name: filepath.Base(paths[0]), Path: paths[0]}
	dst := OutputPath(dir, "run", src)
	assert.Equal(t, filepath.Join(dir, "run_filtered.star.gz"), dst)

	res, err := WriteFile(src, dst, Options{Unwanted: map[int]struct{}{2: {}}}, testutil.TestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, dst, res.Path)
	assert.Equal(t, 9, res.Written)

	rc, err := star.Open(dst)
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Len(t, dataLines(t, string(content)), 9)
	assert.Equal(t, metaLines(t, spec.DataFile(1)), metaLines(t, string(content)))
}
