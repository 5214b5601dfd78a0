// Package classwiz analyses the convergence of RELION 3D classifications.
//
// A 3D classification writes one particle file per iteration. Classwiz
// reads all of them, tracks the class every particle was assigned in every
// iteration and scores how long each particle has stayed in its latest
// class. The result is a multi-page PDF report and, on request, a copy of
// the first iteration's particle file without the particles that keep
// jumping between classes or whose CTF resolution estimate is too poor.
//
// # Quick Start
//
//	classwiz --f Class3D/job012 --root run --o job012.pdf
//	classwiz --f Class3D/job012 --root run --filt true --sigmafac 1.5 --mic 5
//
// # Report
//
// The report has one page per analysis, in this order:
//   - Class colours
//   - Rotational and translational accuracy per class (only when images were aligned)
//   - Class assignments of every particle over all iterations, and over the last five
//   - Class of the last iteration against the class of the one before
//   - Class occupancy per micrograph in the final iteration
//   - Jump-score distribution with its Gaussian
//   - Particles changing class per iteration
//   - One histogram per STAR column, grouped by final class
//
// # Key Packages
//
//	internal/discovery - Finds the iteration files of a run
//	internal/analysis  - Reference layout, accumulation and jump scores
//	internal/report    - Page builder and PDF writer
//	internal/filter    - Filtered STAR file writer
//	internal/pipeline  - Runs the stages with logging, tracing and metrics
//	pkg/star           - STAR file scanner
//	pkg/config         - Flags, environment and YAML configuration
//	pkg/errors         - Structured error handling
//
// # Configuration
//
// Every flag can also be set as a CLASSWIZ_* environment variable or in a
// YAML file passed with --config. Environment variables are supported in
// the file with ${VAR_NAME} syntax. "classwiz config" prints the effective
// configuration.
package classwiz
