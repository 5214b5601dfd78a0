// Package compression provides transparent stream compression for STAR
// files. RELION projects are frequently archived with gzip or zstd; classwiz
// reads such files directly and writes derived files with the same codec.
//
// The algorithm is chosen from the file suffix:
//
//	run_it025_data.star      -> None
//	run_it025_data.star.gz   -> Gzip
//	run_it025_data.star.zst  -> Zstd
//	run_it025_data.star.lz4  -> LZ4
//	run_it025_data.star.s2   -> S2
package compression

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// S2 represents s2 stream compression (Snappy compatible)
	S2 Algorithm = "s2"
)

var suffixes = []struct {
	suffix    string
	algorithm Algorithm
}{
	{".gz", Gzip},
	{".gzip", Gzip},
	{".zst", Zstd},
	{".zstd", Zstd},
	{".lz4", LZ4},
	{".s2", S2},
}

// Detect returns the algorithm implied by the path suffix.
func Detect(path string) Algorithm {
	lower := strings.ToLower(path)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.algorithm
		}
	}
	return None
}

// Suffix returns the file suffix (including the dot) of a compressed path,
// or the empty string for uncompressed files.
func Suffix(path string) string {
	lower := strings.ToLower(path)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return path[len(path)-len(s.suffix):]
		}
	}
	return ""
}

// TrimSuffix strips a compression suffix from path.
func TrimSuffix(path string) string {
	return strings.TrimSuffix(path, Suffix(path))
}

// NewReader wraps src with a decompressing reader. Closing the returned
// reader releases decoder resources but does not close src.
func NewReader(src io.Reader, algorithm Algorithm) (io.ReadCloser, error) {
	switch algorithm {
	case None, "":
		return io.NopCloser(src), nil
	case Gzip:
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return r, nil
	case Zstd:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(src)), nil
	case S2:
		return io.NopCloser(s2.NewReader(src)), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// NewWriter wraps dst with a compressing writer. The returned writer must be
// closed to flush the final frame; closing it does not close dst.
func NewWriter(dst io.Writer, algorithm Algorithm) (io.WriteCloser, error) {
	switch algorithm {
	case None, "":
		return nopWriteCloser{dst}, nil
	case Gzip:
		return gzip.NewWriter(dst), nil
	case Zstd:
		enc, err := zstd.NewWriter(dst)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return enc, nil
	case LZ4:
		return lz4.NewWriter(dst), nil
	case S2:
		return s2.NewWriter(dst), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
