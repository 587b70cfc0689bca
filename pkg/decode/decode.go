// Package decode turns device transfers into in-memory pages.
package decode

import (
	"bytes"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"duplexscan/pkg/device"
	"duplexscan/pkg/scanerr"

	"github.com/gen2brain/heic"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "golang.org/x/image/bmp"  // Register BMP decoder for native transfers
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	"golang.org/x/xerrors"
)

// PageBuffer is a decoded page. It is owned by the transfer that produced
// it and lives only for the duration of that transfer.
type PageBuffer struct {
	Image      image.Image
	Format     string
	Resolution float64
	Delivered  time.Time
	Source     string // file path, empty for native transfers
}

// Decode decodes a transfer. Native bytes take precedence over a file path.
// resolution is the negotiated resolution and is recorded with the page.
func Decode(t device.Transfer, resolution float64) (*PageBuffer, error) {
	var (
		img    image.Image
		format string
		err    error
	)
	switch {
	case len(t.Native) > 0:
		img, format, err = decodeBytes(t.Native)
	case t.FilePath != "":
		img, format, err = decodeFile(t.FilePath)
	default:
		return nil, xerrors.Errorf("empty transfer: %w", scanerr.ErrDecodeFailure)
	}
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, scanerr.ErrDecodeFailure)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, xerrors.Errorf("page has no pixels: %w", scanerr.ErrDecodeFailure)
	}
	return &PageBuffer{
		Image:      img,
		Format:     format,
		Resolution: resolution,
		Delivered:  t.Delivered,
		Source:     t.FilePath,
	}, nil
}

func decodeBytes(data []byte) (image.Image, string, error) {
	if isHEICFormat(data) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", xerrors.Errorf("decoding HEIC image: %v", err)
		}
		return img, "heic", nil
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", xerrors.Errorf("decoding image: %v", err)
	}
	return img, format, nil
}

func decodeFile(path string) (image.Image, string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return decodePDF(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", xerrors.Errorf("could not read file %s: %v", path, err)
	}
	return decodeBytes(data)
}

// decodePDF extracts the first image of the first page that has one.
func decodePDF(path string) (image.Image, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", xerrors.Errorf("could not open file %s: %v", path, err)
	}
	defer file.Close()

	extracted, err := api.ExtractImagesRaw(file, nil, nil)
	if err != nil {
		return nil, "", xerrors.Errorf("could not extract images from PDF %s: %v", path, err)
	}
	for _, imgs := range extracted {
		objNrs := make([]int, 0, len(imgs))
		for nr := range imgs {
			objNrs = append(objNrs, nr)
		}
		sort.Ints(objNrs)
		for _, nr := range objNrs {
			data, err := io.ReadAll(imgs[nr])
			if err != nil {
				continue
			}
			if img, format, err := decodeBytes(data); err == nil {
				return img, "pdf/" + format, nil
			}
		}
	}
	return nil, "", xerrors.Errorf("no decodable image found in %s", path)
}

// isHEICFormat checks for an ftyp box with a HEIC/HEIF brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}
