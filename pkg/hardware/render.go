package hardware

import (
	"fmt"
	"image"
	"image/color"

	"duplexscan/pkg/device"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/makiuchi-d/gozxing/qrcode/decoder"
)

const (
	// pageScale divides the physical pixel size of synthetic pages so that
	// Core batches stay small in memory.
	pageScale    = 4
	qrCodeSize   = 96
	paperMargin  = 24
	lineHeight   = 6
	lineSpacing  = 14
	blankBase    = 250
	blankJitter  = 3
	contentInk   = 30
	defaultWidth = 210.0 // mm, used when the paper size is None
	defaultHgt   = 297.0
)

// PageSettings is what a Core source knows about the page it is producing.
type PageSettings struct {
	Resolution float64
	PixelType  device.PixelType
	Paper      device.PaperSize
}

// SyntheticPage renders a page for delivery n. Content pages carry ruled
// "text" and a QR patch code reading "sheet-<n>"; blank pages are off-white
// with a little deterministic noise.
func SyntheticPage(n int, blank bool, s PageSettings) image.Image {
	w, h := s.Paper.Millimetres()
	if w == 0 || h == 0 {
		w, h = defaultWidth, defaultHgt
	}
	dpi := s.Resolution
	if dpi <= 0 {
		dpi = 100
	}
	pw := int(w / 25.4 * dpi / pageScale)
	ph := int(h / 25.4 * dpi / pageScale)
	if pw < qrCodeSize+2*paperMargin {
		pw = qrCodeSize + 2*paperMargin
	}
	if ph < qrCodeSize+2*paperMargin {
		ph = qrCodeSize + 2*paperMargin
	}

	img := image.NewGray(image.Rect(0, 0, pw, ph))
	seed := uint32(n*7919 + 1)
	for i := range img.Pix {
		seed = seed*1664525 + 1013904223
		img.Pix[i] = uint8(blankBase - int(seed>>29)%blankJitter)
	}
	if blank {
		return colourise(img, s.PixelType)
	}

	// QR patch code in the top-right corner.
	if qr, err := patchCode(fmt.Sprintf("sheet-%d", n)); err == nil {
		b := qr.Bounds()
		ox := pw - paperMargin - b.Dx()
		oy := paperMargin
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				img.SetGray(ox+x, oy+y, color.GrayModel.Convert(qr.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
			}
		}
	}

	// Ruled text lines below the patch code.
	for y := paperMargin + qrCodeSize + lineSpacing; y+lineHeight < ph-paperMargin; y += lineSpacing {
		end := pw - paperMargin - (y*31)%(pw/3+1)
		for dy := 0; dy < lineHeight; dy++ {
			for x := paperMargin; x < end; x++ {
				img.Pix[img.PixOffset(x, y+dy)] = contentInk
			}
		}
	}
	return colourise(img, s.PixelType)
}

// patchCode encodes text as a QR code image.
func patchCode(text string) (image.Image, error) {
	hints := map[gozxing.EncodeHintType]interface{}{
		gozxing.EncodeHintType_ERROR_CORRECTION: decoder.ErrorCorrectionLevel_M,
	}
	return qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, qrCodeSize, qrCodeSize, hints)
}

// colourise converts a gray page to the requested pixel type.
func colourise(img image.Image, pt device.PixelType) image.Image {
	g, ok := img.(*image.Gray)
	if !ok {
		return img
	}
	switch pt {
	case device.PixelBW:
		out := image.NewGray(g.Rect)
		for i, v := range g.Pix {
			if v >= 128 {
				out.Pix[i] = 255
			}
		}
		return out
	case device.PixelRGB:
		out := image.NewRGBA(g.Rect)
		for i, v := range g.Pix {
			out.Pix[4*i] = v
			out.Pix[4*i+1] = v
			out.Pix[4*i+2] = uint8(int(v) * 15 / 16)
			out.Pix[4*i+3] = 255
		}
		return out
	default:
		return g
	}
}
