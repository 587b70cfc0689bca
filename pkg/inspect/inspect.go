// Package inspect reads patch codes printed on scanned pages.
package inspect

import (
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Format names a patch code symbology.
type Format string

const (
	QRCode  Format = "QR"
	Code128 Format = "Code128"
)

// PatchCode is a code found on a page.
type PatchCode struct {
	Format Format
	Text   string
}

// ReadCode looks for a QR code and then a Code 128 barcode anywhere on the
// page. ok is false when neither is found.
func ReadCode(img image.Image) (code PatchCode, ok bool) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return PatchCode{}, false
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	if res, err := qrcode.NewQRCodeReader().Decode(bmp, hints); err == nil {
		return PatchCode{Format: QRCode, Text: res.GetText()}, true
	}
	if res, err := oned.NewCode128Reader().Decode(bmp, hints); err == nil {
		return PatchCode{Format: Code128, Text: res.GetText()}, true
	}
	return PatchCode{}, false
}
