// Package star reads RELION STAR files line by line.
//
// A STAR file is a sequence of data_ blocks. Loop blocks declare their
// columns with header lines ("_rlnClassNumber #3") followed by whitespace
// separated rows. Particle rows are recognised by the "@" in their image
// name. The scanner keeps every raw line, including its line ending, so
// callers can copy metadata verbatim.
package star

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/ajitpratap0/classwiz/pkg/compression"
)

// Kind classifies a line.
type Kind int

const (
	// KindMeta is anything that is not a header or a particle row: blank
	// lines, comments, loop_ markers, key/value pairs, optics rows.
	KindMeta Kind = iota
	// KindBlock starts a new data_ block.
	KindBlock
	// KindHeader declares a column.
	KindHeader
	// KindData is a particle row.
	KindData
)

const opticsBlock = "data_optics"

// Line is one physical line of a STAR file.
type Line struct {
	Kind   Kind
	Raw    string // exact bytes including the line ending
	Text   string // Raw without the trailing line ending
	Number int    // 1-based physical line number
	Row    int    // 0-based particle row index, -1 for non-data lines
	Block  string
	Header Field // set for KindHeader
}

// Columns splits the line into whitespace separated values.
func (l Line) Columns() []string {
	return strings.Fields(l.Text)
}

// Scanner iterates over the lines of a STAR stream.
type Scanner struct {
	r       *bufio.Reader
	line    Line
	err     error
	block   string
	headers []Field
	layout  Layout
	frozen  bool
	rows    int
	lineNo  int
}

// NewScanner creates a scanner over r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 1<<16)}
}

// Scan advances to the next line. It returns false at EOF or on error.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}
	raw, err := s.r.ReadString('\n')
	if err != nil && err != io.EOF {
		s.err = err
		return false
	}
	if raw == "" && err == io.EOF {
		return false
	}

	s.lineNo++
	text := strings.TrimRight(raw, "\r\n")
	line := Line{Raw: raw, Text: text, Number: s.lineNo, Row: -1}

	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "data_"):
		s.block = strings.Fields(trimmed)[0]
		s.headers = s.headers[:0]
		line.Kind = KindBlock
	case strings.HasPrefix(trimmed, "_"):
		if f, ok := ParseHeader(trimmed); ok {
			s.headers = append(s.headers, f)
			line.Kind = KindHeader
			line.Header = f
		}
	case strings.Contains(trimmed, "@") && s.block != opticsBlock:
		if !s.frozen {
			s.layout = NewLayout(s.headers)
			s.frozen = true
		}
		line.Kind = KindData
		line.Row = s.rows
		s.rows++
	}
	line.Block = s.block
	s.line = line
	return true
}

// Line returns the current line.
func (s *Scanner) Line() Line { return s.line }

// Err returns the first read error, excluding EOF.
func (s *Scanner) Err() error { return s.err }

// Layout returns the column layout of the block holding particle rows. It
// is available once the first particle row has been scanned.
func (s *Scanner) Layout() (Layout, bool) { return s.layout, s.frozen }

// BlockLayout returns the columns declared so far in the current block.
func (s *Scanner) BlockLayout() Layout { return NewLayout(s.headers) }

// Rows returns the number of particle rows scanned so far.
func (s *Scanner) Rows() int { return s.rows }

// multiReadCloser closes multiple io.Closers when Close() is called.
type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var err error
	for _, c := range m.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Open opens a STAR file, decompressing it when the suffix names a codec.
func Open(path string) (io.ReadCloser, error) {
	fh, err := os.Open(path) //nolint:gosec // G304: paths come from directory discovery
	if err != nil {
		return nil, err
	}
	algorithm := compression.Detect(path)
	if algorithm == compression.None {
		return fh, nil
	}
	zr, err := compression.NewReader(fh, algorithm)
	if err != nil {
		_ = fh.Close()
		return nil, err
	}
	return &multiReadCloser{Reader: zr, closers: []io.Closer{zr, fh}}, nil
}
