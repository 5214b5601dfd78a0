package analysis

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ajitpratap0/classwiz/internal/discovery"
	"github.com/ajitpratap0/classwiz/pkg/errors"
	"github.com/ajitpratap0/classwiz/pkg/star"
)

// AutoReference selects the first parseable iteration as reference.
const AutoReference = -1

// Reference holds what one representative iteration file tells us about
// the run: its column layout, the number of classes and particles, and the
// particle identifiers used to check row alignment of the other files.
type Reference struct {
	File        discovery.IterationFile
	Layout      star.Layout
	Classes     int
	Particles   int
	Identifiers []string
}

// ResolveReference reads the designated reference iteration, or with
// AutoReference the first file with index >= 1 that parses completely.
func ResolveReference(run *discovery.Run, iteration int, logger *zap.Logger) (*Reference, error) {
	if iteration != AutoReference {
		f, ok := run.File(iteration)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "reference iteration %d was not found", iteration).
				WithDetail("root", run.Root)
		}
		return ReadReference(f)
	}

	var lastErr error
	for _, f := range run.Files {
		if f.Iteration < 1 {
			continue
		}
		ref, err := ReadReference(f)
		if err == nil {
			return ref, nil
		}
		logger.Warn("iteration file is not usable as reference",
			zap.String("file", f.Name),
			zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		return nil, errors.New(errors.ErrorTypeNotFound, "no iteration after iteration 0 was found").
			WithDetail("root", run.Root)
	}
	return nil, errors.Wrap(lastErr, errors.ErrorTypeValidation, "no iteration file can serve as reference")
}

// ReadReference scans one file for its layout, class count and particle count.
func ReadReference(f discovery.IterationFile) (*Reference, error) {
	rc, err := star.Open(f.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open reference file").
			WithDetail("file", f.Path)
	}
	defer rc.Close()

	ref := &Reference{File: f}
	var classCol, imageCol, width int

	sc := star.NewScanner(rc)
	for sc.Scan() {
		line := sc.Line()
		if line.Kind != star.KindData {
			continue
		}
		if line.Row == 0 {
			ref.Layout, _ = sc.Layout()
			if err := ref.Layout.Require(f.Name, star.RequiredFields...); err != nil {
				return nil, err
			}
			classCol, _ = ref.Layout.Column(star.FieldClassNumber)
			imageCol, _ = ref.Layout.Column(star.FieldImageName)
			width = ref.Layout.Width()
		}

		cols := line.Columns()
		if len(cols) < width {
			return nil, errors.Malformed(f.Name, line.Row+1,
				fmt.Sprintf("expected %d columns, found %d", width, len(cols)))
		}
		class, err := strconv.Atoi(cols[classCol])
		if err != nil {
			return nil, errors.Malformed(f.Name, line.Row+1,
				fmt.Sprintf("class number %q is not an integer", cols[classCol]))
		}
		if class > ref.Classes {
			ref.Classes = class
		}
		ref.Identifiers = append(ref.Identifiers, cols[imageCol])
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read reference file").
			WithDetail("file", f.Path)
	}

	ref.Particles = len(ref.Identifiers)
	if ref.Particles == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "reference file has no particle rows").
			WithDetail("file", f.Name)
	}
	if ref.Classes < 1 {
		return nil, errors.New(errors.ErrorTypeValidation, "reference file has no class assignments").
			WithDetail("file", f.Name)
	}
	return ref, nil
}
