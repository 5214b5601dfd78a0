// Package discovery finds the per-iteration particle files of a RELION
// classification job.
//
// RELION writes one "<root>_itNNN_data.star" per iteration. A continued job
// writes "<root>_ctMMM_itNNN_data.star", where MMM is the iteration it was
// continued from. The first file of a continuation re-describes iteration
// MMM (ct == it) and is skipped so the iteration is not counted twice.
// Subset files ("sub") are never part of the run.
package discovery

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/classwiz/pkg/compression"
	"github.com/ajitpratap0/classwiz/pkg/errors"
)

const (
	dataSuffix  = "_data.star"
	modelSuffix = "_model.star"
)

// IterationFile is the particle file of one iteration.
type IterationFile struct {
	Iteration    int
	Continuation int // iteration the job was continued from, -1 if none
	Name         string
	Path         string
	ModelPath    string // "" when no model file exists
}

// Run is the ordered set of iteration files of one job.
type Run struct {
	Folder     string
	Root       string
	Files      []IterationFile
	Iterations int // 1 + highest iteration index
}

// Final returns the index of the last iteration.
func (r *Run) Final() int { return r.Iterations - 1 }

// File returns the file of an iteration.
func (r *Run) File(iteration int) (IterationFile, bool) {
	for _, f := range r.Files {
		if f.Iteration == iteration {
			return f, true
		}
	}
	return IterationFile{}, false
}

// First returns the earliest iteration file with index >= 1.
func (r *Run) First() (IterationFile, bool) {
	for _, f := range r.Files {
		if f.Iteration >= 1 {
			return f, true
		}
	}
	return IterationFile{}, false
}

// ParseName extracts iteration tags from a data file name. ok is false for
// names that are not data files of root.
func ParseName(name, root string) (iteration, continuation int, ok bool) {
	base := compression.TrimSuffix(name)
	if !strings.HasSuffix(base, dataSuffix) || !strings.HasPrefix(base, root+"_") {
		return 0, 0, false
	}
	if strings.Contains(base, "sub") {
		return 0, 0, false
	}

	tags := strings.Split(strings.TrimSuffix(base, dataSuffix), "_")
	iteration, ok = tagValue(tags[len(tags)-1], "it")
	if !ok {
		return 0, 0, false
	}
	continuation = -1
	if len(tags) >= 2 {
		if ct, isCt := tagValue(tags[len(tags)-2], "ct"); isCt {
			continuation = ct
		}
	}
	return iteration, continuation, true
}

func tagValue(tag, prefix string) (int, bool) {
	if !strings.HasPrefix(tag, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(tag[len(prefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Discover scans folder for the iteration files of root.
func Discover(folder, root string, logger *zap.Logger) (*Run, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list input folder").
			WithDetail("folder", folder)
	}

	byIteration := make(map[int]IterationFile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		iteration, continuation, ok := ParseName(name, root)
		if !ok {
			continue
		}
		if continuation >= 0 && continuation == iteration {
			logger.Debug("skipping continuation restart file", zap.String("file", name))
			continue
		}

		file := IterationFile{
			Iteration:    iteration,
			Continuation: continuation,
			Name:         name,
			Path:         filepath.Join(folder, name),
			ModelPath:    modelPath(folder, name),
		}
		// A continued job rewrites iterations of the original one; the
		// continuation is the newer result.
		if prev, dup := byIteration[iteration]; dup {
			if prev.Continuation >= file.Continuation {
				logger.Debug("duplicate iteration ignored",
					zap.Int("iteration", iteration),
					zap.String("kept", prev.Name),
					zap.String("ignored", name))
				continue
			}
			logger.Debug("duplicate iteration replaced",
				zap.Int("iteration", iteration),
				zap.String("kept", name),
				zap.String("ignored", prev.Name))
		}
		byIteration[iteration] = file
	}

	if len(byIteration) == 0 {
		return nil, errors.New(errors.ErrorTypeNotFound, "cannot find any data.star files in the provided folder").
			WithDetail("folder", folder).
			WithDetail("root", root)
	}

	run := &Run{Folder: folder, Root: root}
	for _, f := range byIteration {
		run.Files = append(run.Files, f)
		if f.Iteration+1 > run.Iterations {
			run.Iterations = f.Iteration + 1
		}
	}
	sort.Slice(run.Files, func(i, j int) bool { return run.Files[i].Iteration < run.Files[j].Iteration })

	logger.Info("discovered iteration files",
		zap.String("folder", folder),
		zap.String("root", root),
		zap.Int("files", len(run.Files)),
		zap.Int("iterations", run.Iterations))
	return run, nil
}

func modelPath(folder, dataName string) string {
	suffix := compression.Suffix(dataName)
	prefix := strings.TrimSuffix(compression.TrimSuffix(dataName), dataSuffix)
	for _, candidate := range []string{prefix + modelSuffix + suffix, prefix + modelSuffix} {
		path := filepath.Join(folder, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
