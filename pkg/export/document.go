package export

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"

	"duplexscan/pkg/log"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/xerrors"
)

// PageLayout is a document page in points.
type PageLayout struct {
	Width, Height, Margin float64
}

// A4 with 25 pt margins.
var A4 = PageLayout{Width: 595.28, Height: 841.89, Margin: 25}

// Rect is a placement on the page in points, origin top-left.
type Rect struct {
	X, Y, W, H float64
}

// Fit places a w×h image on the page. The image is scaled down, keeping its
// aspect ratio, only when it exceeds the printable width or height; it is
// never enlarged. The result is centred on the page.
func (p PageLayout) Fit(w, h float64) Rect {
	bw, bh := p.Width-2*p.Margin, p.Height-2*p.Margin
	if w > bw || h > bh {
		s := math.Min(bw/w, bh/h)
		w, h = w*s, h*s
	}
	return Rect{X: (p.Width - w) / 2, Y: (p.Height - h) / 2, W: w, H: h}
}

// DocumentExporter writes one single-page PDF per page.
type DocumentExporter struct {
	RunDir string
	Layout PageLayout
	Retry  RetryPolicy
	// Acquire opens the writer bound to the output file. Defaults to
	// os.Create.
	Acquire func(path string) (io.WriteCloser, error)
}

// NewDocumentExporter returns an A4 exporter with the writer retry policy.
func NewDocumentExporter(runDir string) *DocumentExporter {
	return &DocumentExporter{RunDir: runDir, Layout: A4, Retry: WriterRetry}
}

func (e *DocumentExporter) Destination() Destination { return DocumentOut }

// Export writes DocumentOut/name.pdf. The document is composed in memory
// first; nothing reaches the file until a writer has been acquired.
func (e *DocumentExporter) Export(page image.Image, name string, blank bool) (string, error) {
	path := Path(e.RunDir, DocumentOut, name, blank)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	pdf, err := e.compose(page, name)
	if err != nil {
		return "", err
	}

	acquire := e.Acquire
	if acquire == nil {
		acquire = func(p string) (io.WriteCloser, error) { return os.Create(p) }
	}
	var w io.WriteCloser
	err = e.Retry.Do(func(attempt int) error {
		var aerr error
		w, aerr = acquire(path)
		return aerr
	})
	if err != nil {
		log.Warn("Document writer for %s unavailable: %v", path, err)
		return "", xerrors.Errorf("document writer for %s: %w", path, err)
	}

	if err := pdf.Output(w); err != nil {
		w.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write PDF %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

// compose builds the document with the page placed by the layout. Pixels
// map to points one to one before fitting.
func (e *DocumentExporter) compose(page image.Image, name string) (*gofpdf.Fpdf, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, page, &jpeg.Options{Quality: jpeg.DefaultQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encoding failed: %w", err)
	}

	layout := e.Layout
	if layout.Width == 0 {
		layout = A4
	}
	pageSize := gofpdf.SizeType{Wd: layout.Width, Ht: layout.Height}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt", Size: pageSize})
	pdf.SetMargins(layout.Margin, layout.Margin, layout.Margin)
	pdf.SetAutoPageBreak(false, layout.Margin)
	pdf.AddPageFormat("P", pageSize)

	options := gofpdf.ImageOptions{ImageType: "JPEG"}
	pdf.RegisterImageOptionsReader(name, options, buf)

	b := page.Bounds()
	r := layout.Fit(float64(b.Dx()), float64(b.Dy()))
	pdf.ImageOptions(name, r.X, r.Y, r.W, r.H, false, options, 0, "")
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to compose PDF: %w", err)
	}
	return pdf, nil
}
