package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"duplexscan/pkg/log"
	"duplexscan/pkg/metrics"

	"github.com/peterbourgon/ff/v4"
)

// EnvVarPrefix prefixes the environment variables that mirror every flag,
// e.g. DUPLEXSCAN_THRESHOLD.
const EnvVarPrefix = "DUPLEXSCAN"

// HardwareType defines the device layer implementation to use.
type HardwareType string

const (
	HWCore HardwareType = "Core" // In-memory scanner producing synthetic pages.
	HWDisk HardwareType = "Disk" // Delivers page files from a directory.
)

// Destination names accepted by --destinations.
const (
	DestImage    = "image"
	DestDocument = "document"
)

// Config holds all parameters for a scan session.
type Config struct {
	HardwareType HardwareType
	PagePath     string // Disk: directory holding page files
	CoreSheets   int    // Core: sheets fed per batch

	Device     string // Source to open; empty selects the first one
	OutputRoot string
	Threshold  float64

	// Capability requests; zero values leave the source's setting alone.
	Resolution float64
	PixelType  string
	PaperSize  string
	Duplex     string

	Image    bool
	Document bool
	TimeUnit metrics.Unit
	ShowUI   bool

	DBPath       string
	Workers      int
	LogLevel     log.LogLevel
	PrintMetrics bool
}

// NewConfig parses args (without the program name) and the DUPLEXSCAN_*
// environment.
func NewConfig(args []string) (*Config, error) {
	fs := ff.NewFlagSet("scansession")
	var (
		hwType       = fs.StringLong("hw", string(HWCore), "Device layer implementation (Core, Disk).")
		pagePath     = fs.StringLong("pages", "input/pages/", "Directory of page files for the Disk device layer.")
		coreSheets   = fs.IntLong("sheets", 4, "Sheets fed per batch by the Core device layer.")
		deviceName   = fs.StringLong("device", "", "Source to open (default: first listed).")
		outputRoot   = fs.StringLong("output", "output/scans/", "Root directory for run output.")
		threshold    = fs.StringLong("threshold", "60", "Blank-page threshold (std-dev of luminance).")
		resolution   = fs.StringLong("resolution", "", "Resolution in DPI; must be a multiple of 50.")
		pixelType    = fs.StringLong("pixel-type", "", "Pixel type (BlackWhite, Gray, RGB).")
		paperSize    = fs.StringLong("paper-size", "", "Paper size (A4, A5, USLetter, USLegal, None).")
		duplex       = fs.StringLong("duplex", "", "Enable duplex (true, false).")
		destinations = fs.StringLong("destinations", "image,document", "Comma-separated export destinations (image, document).")
		timeUnit     = fs.StringLong("time-unit", "sec", "Unit for timings in the run log (sec, msec).")
		showUI       = fs.BoolLong("show-ui", "Show the source's own dialog even if it can scan without one.")
		dbPath       = fs.StringLong("db", "duplexscan.db", "Profile database path; empty disables profiles.")
		workers      = fs.IntLong("workers", 4, "Goroutines used for page analysis.")
		logLevel     = fs.StringLong("log-level", "info", "Set log level (trace, debug, info, warn, error).")
		printMetrics = fs.BoolLong("print-metrics", "Print the measurement tree after each run.")
	)

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(EnvVarPrefix)); err != nil {
		return nil, err
	}

	level, ok := log.ParseLevel(*logLevel)
	if !ok {
		log.Info("Unknown log level '%s', defaulting to 'info'", *logLevel)
	}
	log.SetLevel(level)

	cfg := &Config{
		HardwareType: HardwareType(*hwType),
		PagePath:     filepath.Clean(*pagePath),
		CoreSheets:   *coreSheets,
		Device:       *deviceName,
		OutputRoot:   filepath.Clean(*outputRoot),
		PixelType:    *pixelType,
		PaperSize:    *paperSize,
		Duplex:       *duplex,
		ShowUI:       *showUI,
		DBPath:       *dbPath,
		Workers:      *workers,
		LogLevel:     level,
		PrintMetrics: *printMetrics,
	}

	var err error
	if cfg.Threshold, err = strconv.ParseFloat(*threshold, 64); err != nil || cfg.Threshold < 0 {
		return nil, fmt.Errorf("invalid threshold %q", *threshold)
	}
	if *resolution != "" {
		if cfg.Resolution, err = strconv.ParseFloat(*resolution, 64); err != nil || cfg.Resolution <= 0 {
			return nil, fmt.Errorf("invalid resolution %q", *resolution)
		}
	}
	if cfg.TimeUnit, err = metrics.ParseUnit(*timeUnit); err != nil {
		return nil, err
	}
	if cfg.Image, cfg.Document, err = parseDestinations(*destinations); err != nil {
		return nil, err
	}
	switch cfg.HardwareType {
	case HWCore, HWDisk:
	default:
		return nil, fmt.Errorf("unknown hardware type specified: %s", cfg.HardwareType)
	}
	if cfg.CoreSheets < 0 {
		return nil, fmt.Errorf("invalid sheet count %d", cfg.CoreSheets)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	log.Debug("Config: %s", cfg)
	return cfg, nil
}

func parseDestinations(s string) (image, document bool, err error) {
	for _, d := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(d)) {
		case "":
		case DestImage:
			image = true
		case DestDocument:
			document = true
		default:
			return false, false, fmt.Errorf("unknown destination %q", d)
		}
	}
	return image, document, nil
}

// PrepareOutputRoot ensures the output root exists and returns it.
func (c *Config) PrepareOutputRoot() (string, error) {
	path := filepath.Clean(c.OutputRoot)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return path, nil
}

// String returns a string representation of the Config instance
func (c *Config) String() string {
	return fmt.Sprintf("Config{HW:%s Pages:%s Sheets:%d Device:%q Output:%s Threshold:%g "+
		"Resolution:%g PixelType:%q PaperSize:%q Duplex:%q Image:%t Document:%t TimeUnit:%s "+
		"ShowUI:%t DB:%q Workers:%d LogLevel:%s PrintMetrics:%t}",
		c.HardwareType, c.PagePath, c.CoreSheets, c.Device, c.OutputRoot, c.Threshold,
		c.Resolution, c.PixelType, c.PaperSize, c.Duplex, c.Image, c.Document, c.TimeUnit,
		c.ShowUI, c.DBPath, c.Workers, c.LogLevel, c.PrintMetrics)
}
