// Package export writes classified pages to their destinations: raster
// image files and single-page PDF documents.
package export

import (
	"image"
	"path/filepath"
)

// Destination is an export pipeline.
type Destination int

const (
	ImageOut Destination = iota + 1
	DocumentOut
)

// String returns the destination's directory name.
func (d Destination) String() string {
	switch d {
	case ImageOut:
		return "ImageOut"
	case DocumentOut:
		return "DocumentOut"
	default:
		return "Unknown"
	}
}

// BlankDir is the subdirectory of ImageOut holding pages classified blank.
const BlankDir = "EmptyImage"

// ImageQuality is the fixed JPEG quality of ImageOut files.
const ImageQuality = 50

// Exporter writes one page to one destination and returns the file written.
type Exporter interface {
	Destination() Destination
	Export(page image.Image, name string, blank bool) (string, error)
}

// Path returns where a page named name lands under runDir.
func Path(runDir string, d Destination, name string, blank bool) string {
	switch d {
	case ImageOut:
		if blank {
			return filepath.Join(runDir, d.String(), BlankDir, name+".jpeg")
		}
		return filepath.Join(runDir, d.String(), name+".jpeg")
	default:
		return filepath.Join(runDir, d.String(), name+".pdf")
	}
}
