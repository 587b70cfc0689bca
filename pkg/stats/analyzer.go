// Package stats decides whether a captured page is blank.
//
// The blankness score is the population standard deviation of the page's
// luminance on a 0..255 scale. Luminance is the ITU-R BT.601 luma
// Y = 0.299 R + 0.587 G + 0.114 B, computed from the 16-bit channels reported
// by color.Color and divided by 257. Gray and Gray16 pages use their sample
// directly; YCbCr pages (JPEG transfers) use their stored Y sample, which is
// BT.601 luma by construction. Colour channels are un-premultiplied before
// weighting, so alpha does not scale the score; fully transparent pixels
// read as black. A page is blank when its score is strictly below the
// threshold.
package stats

import (
	"image"
	"image/color"
	"math"
	"sync/atomic"

	"duplexscan/pkg/concurrency"

	"gonum.org/v1/gonum/stat"
)

// Classification is the page/no-page decision.
type Classification int

const (
	Content Classification = iota
	Blank
)

func (c Classification) String() string {
	if c == Blank {
		return "Blank"
	}
	return "Content"
}

// Classify applies the threshold rule to a score.
func Classify(score, threshold float64) Classification {
	if score < threshold {
		return Blank
	}
	return Content
}

// Analyzer scores pages against a threshold that may be changed while a run
// is in progress; the new value applies from the next classified page.
type Analyzer struct {
	threshold atomic.Uint64
	workers   int
}

// NewAnalyzer creates an analyzer. workers bounds the goroutines used to
// extract luminance from large pages.
func NewAnalyzer(threshold float64, workers int) *Analyzer {
	a := &Analyzer{workers: workers}
	a.SetThreshold(threshold)
	return a
}

// Threshold returns the current threshold.
func (a *Analyzer) Threshold() float64 {
	return math.Float64frombits(a.threshold.Load())
}

// SetThreshold replaces the threshold.
func (a *Analyzer) SetThreshold(v float64) {
	a.threshold.Store(math.Float64bits(v))
}

// Score returns the blankness score of img.
func (a *Analyzer) Score(img image.Image) float64 {
	y := Luminance(img, a.workers)
	if len(y) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(y, nil)
	return std
}

// Classify scores img and reports whether it is blank under the current
// threshold.
func (a *Analyzer) Classify(img image.Image) (score float64, isBlank bool) {
	score = a.Score(img)
	return score, Classify(score, a.Threshold()) == Blank
}

// Luminance returns the row-major luma samples of img.
func Luminance(img image.Image, workers int) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil
	}
	out := make([]float64, w*h)
	_ = concurrency.Range(workers, h, func(row int) error {
		y := b.Min.Y + row
		dst := out[row*w : (row+1)*w]
		switch src := img.(type) {
		case *image.Gray:
			off := src.PixOffset(b.Min.X, y)
			for x := 0; x < w; x++ {
				dst[x] = float64(src.Pix[off+x])
			}
		case *image.YCbCr:
			for x := 0; x < w; x++ {
				dst[x] = float64(src.Y[src.YOffset(b.Min.X+x, y)])
			}
		case *image.NRGBA:
			off := src.PixOffset(b.Min.X, y)
			for x := 0; x < w; x++ {
				p := src.Pix[off+4*x : off+4*x+3 : off+4*x+3]
				dst[x] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
			}
		case *image.Gray16:
			for x := 0; x < w; x++ {
				dst[x] = float64(src.Gray16At(b.Min.X+x, y).Y) / 257
			}
		default:
			for x := 0; x < w; x++ {
				dst[x] = luma(img.At(b.Min.X+x, y))
			}
		}
		return nil
	})
	return out
}

func luma(c color.Color) float64 {
	n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	return (0.299*float64(n.R) + 0.587*float64(n.G) + 0.114*float64(n.B)) / 257
}
