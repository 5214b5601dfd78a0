// Package filter writes a copy of a particle STAR file without the
// particles that jump between classes or whose CTF resolution estimate is
// worse than a cutoff.
package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/ajitpratap0/classwiz/internal/discovery"
	"github.com/ajitpratap0/classwiz/pkg/compression"
	"github.com/ajitpratap0/classwiz/pkg/errors"
	"github.com/ajitpratap0/classwiz/pkg/star"
)

// Options selects the exclusion rules. A row is kept only if it passes
// every enabled rule.
type Options struct {
	// Unwanted holds positional particle indices to drop; nil disables
	// change-based filtering.
	Unwanted map[int]struct{}
	// MaxResolution drops rows whose _rlnCtfMaxResolution exceeds it; nil
	// disables the resolution rule.
	MaxResolution *float64
}

// Enabled reports whether any rule is active.
func (o Options) Enabled() bool {
	return o.Unwanted != nil || o.MaxResolution != nil
}

// Result summarises one filtering pass.
type Result struct {
	Path     string `json:"path" yaml:"path"`
	Rows     int    `json:"rows" yaml:"rows"`
	Written  int    `json:"written" yaml:"written"`
	Excluded int    `json:"excluded" yaml:"excluded"`
}

// OutputPath is "<dir>/<root>_filtered.star" with the compression suffix of
// the input file.
func OutputPath(dir, root string, input discovery.IterationFile) string {
	return filepath.Join(dir, root+"_filtered.star"+compression.Suffix(input.Name))
}

// WriteFile filters src into dst, compressing by the suffix of dst.
func WriteFile(src discovery.IterationFile, dst string, opts Options, logger *zap.Logger) (Result, error) {
	in, err := star.Open(src.Path)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to open filter input").
			WithDetail("file", src.Path)
	}
	defer in.Close()

	fh, err := os.Create(dst) //nolint:gosec // G304: output path is operator supplied
	if err != nil {
		return Result{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to create filtered file").
			WithDetail("file", dst)
	}
	out, err := compression.NewWriter(fh, compression.Detect(dst))
	if err != nil {
		_ = fh.Close()
		return Result{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to open filtered file writer").
			WithDetail("file", dst)
	}

	res, err := Filter(src.Name, in, out, opts)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, errors.ErrorTypeFile, "failed to flush filtered file").WithDetail("file", dst)
	}
	if cerr := fh.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, errors.ErrorTypeFile, "failed to close filtered file").WithDetail("file", dst)
	}
	if err != nil {
		_ = os.Remove(dst)
		return Result{}, err
	}

	res.Path = dst
	logger.Info("wrote filtered particle file",
		zap.String("input", src.Name),
		zap.String("output", dst),
		zap.Int("rows", res.Rows),
		zap.Int("excluded", res.Excluded))
	return res, nil
}

// Filter copies every non-particle line of r to w verbatim and every
// particle row that passes opts.
func Filter(name string, r io.Reader, w io.Writer, opts Options) (Result, error) {
	bw := bufio.NewWriterSize(w, 1<<16)
	var (
		res    Result
		resCol = -1
	)

	sc := star.NewScanner(r)
	for sc.Scan() {
		line := sc.Line()
		if line.Kind != star.KindData {
			if _, err := bw.WriteString(line.Raw); err != nil {
				return Result{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to write filtered file")
			}
			continue
		}

		if line.Row == 0 && opts.MaxResolution != nil {
			layout, _ := sc.Layout()
			c, ok := layout.Column(star.FieldCtfMaxResolution)
			if !ok {
				return Result{}, errors.MissingField(name, star.FieldCtfMaxResolution)
			}
			resCol = c
		}

		res.Rows++
		keep, err := opts.keep(name, line, resCol)
		if err != nil {
			return Result{}, err
		}
		if !keep {
			res.Excluded++
			continue
		}
		if _, err := bw.WriteString(line.Raw); err != nil {
			return Result{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to write filtered file")
		}
		res.Written++
	}
	if err := sc.Err(); err != nil {
		return Result{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to read filter input").
			WithDetail("file", name)
	}
	if err := bw.Flush(); err != nil {
		return Result{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to write filtered file")
	}
	return res, nil
}

func (o Options) keep(name string, line star.Line, resCol int) (bool, error) {
	if o.MaxResolution != nil {
		cols := line.Columns()
		if resCol >= len(cols) {
			return false, errors.Malformed(name, line.Row+1,
				fmt.Sprintf("expected %d columns, found %d", resCol+1, len(cols)))
		}
		res, err := strconv.ParseFloat(cols[resCol], 64)
		if err != nil {
			return false, errors.Malformed(name, line.Row+1,
				fmt.Sprintf("resolution %q is not a number", cols[resCol]))
		}
		if res > *o.MaxResolution {
			return false, nil
		}
	}
	if o.Unwanted != nil {
		if _, drop := o.Unwanted[line.Row]; drop {
			return false, nil
		}
	}
	return true, nil
}
