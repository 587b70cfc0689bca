package export

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
)

// ImageExporter writes JPEG files at ImageQuality.
type ImageExporter struct {
	RunDir string
}

func (e *ImageExporter) Destination() Destination { return ImageOut }

// Export writes ImageOut/[EmptyImage/]name.jpeg.
func (e *ImageExporter) Export(page image.Image, name string, blank bool) (string, error) {
	path := Path(e.RunDir, ImageOut, name, blank)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", path, err)
	}
	if err := jpeg.Encode(file, page, &jpeg.Options{Quality: ImageQuality}); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("jpeg encoding failed: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}
