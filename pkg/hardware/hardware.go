// Package hardware provides the simulated device layers: Core delivers
// synthetic pages from memory and Disk delivers page files from a
// directory. Both support the full capability set and fault injection so
// that the session engine can be driven without a physical scanner.
package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"duplexscan/pkg/config"
	"duplexscan/pkg/device"
)

// Source names reported by the simulated managers.
const (
	CoreSourceName = "Core Duplex Scanner"
	DiskSourceName = "Disk Page Feeder"
)

// pageExtensions lists the file types the Disk layer feeds.
var pageExtensions = map[string]bool{
	".bmp": true, ".png": true, ".jpg": true, ".jpeg": true,
	".tif": true, ".tiff": true, ".heic": true, ".pdf": true,
}

// newCore creates the in-memory device layer.
func newCore(cfg *config.Config) *Core {
	return NewCore(NewCoreSource(CoreSourceName, CoreOptions{Sheets: cfg.CoreSheets}))
}

// newDisk creates a device layer that feeds the page files of cfg.PagePath
// in name order.
func newDisk(cfg *config.Config) (*Core, error) {
	files, err := PageFiles(cfg.PagePath)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no page files in %s", cfg.PagePath)
	}
	return NewCore(NewCoreSource(DiskSourceName, CoreOptions{Files: files})), nil
}

// PageFiles lists the page files in dir sorted by name.
func PageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read page directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !pageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// New selects and creates the appropriate device layer based on config.
func New(cfg *config.Config) (device.Manager, error) {
	switch cfg.HardwareType {
	case config.HWCore:
		return newCore(cfg), nil
	case config.HWDisk:
		return newDisk(cfg)
	default:
		return nil, fmt.Errorf("unknown hardware type specified: %s", cfg.HardwareType)
	}
}
