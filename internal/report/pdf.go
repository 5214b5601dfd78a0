package report

import (
	"io"
	"os"

	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgpdf"

	"github.com/ajitpratap0/classwiz/pkg/errors"
)

// Page geometry of the PDF report.
var (
	PageWidth  = 9 * vg.Inch
	PageHeight = 11 * vg.Inch

	colorBarWidth = 1.2 * vg.Inch
	captionHeight = 0.5 * vg.Inch
)

// PDFSink draws every page onto one multi-page PDF canvas and writes the
// document on Close.
type PDFSink struct {
	path   string
	w      io.WriteCloser
	canvas *vgpdf.Canvas
	pages  int
}

// CreatePDF creates the report file at path.
func CreatePDF(path string) (*PDFSink, error) {
	fh, err := os.Create(path) //nolint:gosec // G304: output path is operator supplied
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create report").
			WithDetail("file", path)
	}
	return NewPDFSink(path, fh), nil
}

// NewPDFSink writes the document to w on Close; w is closed afterwards.
func NewPDFSink(name string, w io.WriteCloser) *PDFSink {
	c := vgpdf.New(PageWidth, PageHeight)
	c.EmbedFonts(true)
	return &PDFSink{path: name, w: w, canvas: c}
}

// Pages returns the number of pages drawn so far.
func (s *PDFSink) Pages() int { return s.pages }

// Add draws page on a new PDF page.
func (s *PDFSink) Add(page Page) error {
	if s.pages > 0 {
		s.canvas.NextPage()
	}
	area := draw.New(s.canvas)

	if page.Caption != "" {
		sty := page.Plot.X.Label.TextStyle
		sty.XAlign = text.XLeft
		sty.YAlign = text.YBottom
		area.FillText(sty, vg.Point{X: area.Min.X + vg.Points(6), Y: area.Min.Y + vg.Points(6)}, page.Caption)
		area = draw.Crop(area, 0, 0, captionHeight, 0)
	}
	if page.ColorBar != nil {
		width := area.Max.X - area.Min.X
		page.ColorBar.Draw(draw.Crop(area, width-colorBarWidth, 0, 0, 0))
		area = draw.Crop(area, 0, -colorBarWidth, 0, 0)
	}
	page.Plot.Draw(area)
	s.pages++
	return nil
}

// Close writes the document and closes the underlying writer.
func (s *PDFSink) Close() error {
	_, err := s.canvas.WriteTo(s.w)
	if cerr := s.w.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write report").
			WithDetail("file", s.path)
	}
	return nil
}

// Recorder is a Sink that keeps pages in memory.
type Recorder struct {
	Pages  []Page
	Closed bool
}

// Add records page.
func (r *Recorder) Add(page Page) error {
	r.Pages = append(r.Pages, page)
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.Closed = true
	return nil
}

// Names returns the recorded page names in order.
func (r *Recorder) Names() []string {
	names := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		names[i] = p.Name
	}
	return names
}
