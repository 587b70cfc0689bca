package export

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"duplexscan/pkg/metrics"
	"duplexscan/pkg/paging"
	"duplexscan/pkg/runlog"
	"duplexscan/pkg/scanerr"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

func testPage(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	return img
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{"first_attempt", 0, 1, false},
		{"succeeds_on_sixth", 5, 6, false},
		{"exhausted", 6, 6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var slept []time.Duration
			p := WriterRetry
			p.Sleep = func(d time.Duration) { slept = append(slept, d) }
			calls := 0
			err := p.Do(func(attempt int) error {
				calls++
				if attempt != calls {
					t.Errorf("attempt %d on call %d", attempt, calls)
				}
				if calls <= tt.failures {
					return errors.New("writer not ready")
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr || (err != nil && !errors.Is(err, scanerr.ErrWriterUnavailable)) {
				t.Errorf("err = %v", err)
			}
			if len(slept) != tt.wantCalls-1 {
				t.Errorf("slept %d times, want %d", len(slept), tt.wantCalls-1)
			}
			for _, d := range slept {
				if d != 250*time.Millisecond {
					t.Errorf("delay %s, want fixed 250ms", d)
				}
			}
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name string
		w, h float64
		want Rect
	}{
		{"small_is_centred_not_enlarged", 100, 200, Rect{X: 247.64, Y: 320.945, W: 100, H: 200}},
		{"too_tall", 545.28 / 2, 791.89 * 2, Rect{W: 545.28 / 4, H: 791.89}},
		{"too_wide", 545.28 * 2, 100, Rect{W: 545.28, H: 50}},
		{"exact_fit", 545.28, 791.89, Rect{X: 25, Y: 25, W: 545.28, H: 791.89}},
	}
	const eps = 1e-6
	near := func(a, b float64) bool { return a-b < eps && b-a < eps }
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := A4.Fit(tt.w, tt.h)
			if !near(got.W, tt.want.W) || !near(got.H, tt.want.H) {
				t.Errorf("size = %gx%g, want %gx%g", got.W, got.H, tt.want.W, tt.want.H)
			}
			if !near(got.X, (A4.Width-got.W)/2) || !near(got.Y, (A4.Height-got.H)/2) {
				t.Errorf("not centred: %+v", got)
			}
			if !near(got.W/got.H, tt.w/tt.h) {
				t.Errorf("aspect changed: %g vs %g", got.W/got.H, tt.w/tt.h)
			}
		})
	}
}

func TestImageExporter(t *testing.T) {
	dir := t.TempDir()
	e := &ImageExporter{RunDir: dir}
	for _, blank := range []bool{false, true} {
		path, err := e.Export(testPage(40, 60), "1_2", blank)
		if err != nil {
			t.Fatalf("Export(blank=%t): %v", blank, err)
		}
		if path != Path(dir, ImageOut, "1_2", blank) {
			t.Errorf("path = %s", path)
		}
		if strings.Contains(path, BlankDir) != blank {
			t.Errorf("blank=%t routed to %s", blank, path)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		cfg, err := jpeg.DecodeConfig(f)
		f.Close()
		if err != nil || cfg.Width != 40 || cfg.Height != 60 {
			t.Errorf("decoded %+v, %v", cfg, err)
		}
	}
}

type recordingWriter struct {
	bytes.Buffer
	closed bool
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestDocumentExporter(t *testing.T) {
	noSleep := WriterRetry
	noSleep.Sleep = func(time.Duration) {}

	t.Run("TestValidPDF", func(t *testing.T) {
		dir := t.TempDir()
		e := NewDocumentExporter(dir)
		path, err := e.Export(testPage(1654, 2339), "3_1", false)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if path != filepath.Join(dir, "DocumentOut", "3_1.pdf") {
			t.Errorf("path = %s", path)
		}
		if err := api.ValidateFile(path, nil); err != nil {
			t.Errorf("invalid PDF: %v", err)
		}
		if n, err := api.PageCountFile(path); err != nil || n != 1 {
			t.Errorf("page count = %d, %v", n, err)
		}
	})

	t.Run("TestNoOutputBeforeAcquisition", func(t *testing.T) {
		var writers []*recordingWriter
		attempts := 0
		e := &DocumentExporter{RunDir: t.TempDir(), Layout: A4, Retry: noSleep,
			Acquire: func(string) (io.WriteCloser, error) {
				attempts++
				if attempts < 3 {
					return nil, errors.New("transient")
				}
				w := &recordingWriter{}
				writers = append(writers, w)
				return w, nil
			}}
		if _, err := e.Export(testPage(10, 10), "1_1", false); err != nil {
			t.Fatalf("Export: %v", err)
		}
		if attempts != 3 || len(writers) != 1 {
			t.Fatalf("attempts = %d, writers = %d", attempts, len(writers))
		}
		if !bytes.HasPrefix(writers[0].Bytes(), []byte("%PDF")) || !writers[0].closed {
			t.Errorf("writer got %d bytes, closed=%t", writers[0].Len(), writers[0].closed)
		}
	})

	t.Run("TestWriterUnavailable", func(t *testing.T) {
		dir := t.TempDir()
		e := &DocumentExporter{RunDir: dir, Layout: A4, Retry: noSleep,
			Acquire: func(string) (io.WriteCloser, error) { return nil, errors.New("locked") }}
		_, err := e.Export(testPage(10, 10), "1_1", false)
		if !errors.Is(err, scanerr.ErrWriterUnavailable) {
			t.Fatalf("err = %v, want ErrWriterUnavailable", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "DocumentOut", "1_1.pdf")); !os.IsNotExist(err) {
			t.Errorf("output exists after exhaustion: %v", err)
		}
	})
}

type failingExporter struct{ panics bool }

func (failingExporter) Destination() Destination { return ImageOut }

func (f failingExporter) Export(image.Image, string, bool) (string, error) {
	if f.panics {
		panic("disk on fire")
	}
	return "", errors.New("disk full")
}

func TestRouter(t *testing.T) {
	t.Run("TestIndependentDestinations", func(t *testing.T) {
		dir := t.TempDir()
		log := runlog.New(metrics.Milliseconds, nil)
		rec := metrics.NewRecorder()
		r := NewRouter(log, rec, failingExporter{}, NewDocumentExporter(dir))
		id := paging.Identity{Delivery: 2, Sheet: 1, Side: paging.Back}

		res := r.Route(testPage(20, 20), id, false)
		if len(res) != 2 || res[0].Err == nil || res[1].Err != nil {
			t.Fatalf("results = %+v", res)
		}
		lines := log.Lines()
		if len(lines) != 2 {
			t.Fatalf("log = %q", lines)
		}
		if !strings.HasPrefix(lines[0], "1_2 Save jpeg error: disk full ") || !strings.HasSuffix(lines[0], " msec") {
			t.Errorf("failure line = %q", lines[0])
		}
		if !strings.HasPrefix(lines[1], "1_2 Save pdf ") {
			t.Errorf("success line = %q", lines[1])
		}
		if len(rec.RootMeasurements()) != 2 {
			t.Errorf("recorded %d measurements, want 2", len(rec.RootMeasurements()))
		}
	})

	t.Run("TestPanickingExporterIsLogged", func(t *testing.T) {
		log := runlog.New(metrics.Seconds, nil)
		r := NewRouter(log, nil, failingExporter{panics: true})
		res := r.Route(testPage(4, 4), paging.Identity{Delivery: 1, Sheet: 1, Side: paging.Front}, true)
		if res[0].Err == nil || len(log.Lines()) != 1 {
			t.Errorf("results %+v, log %q", res, log.Lines())
		}
	})
}
