// Package device defines the contract between the scan engine and the
// protocol layer that talks to a physical scanner: a source manager that
// enumerates and opens sources, and sources that negotiate capabilities and
// deliver pages asynchronously once enabled.
package device

import (
	"time"
)

// CapabilityID names a negotiable source setting.
type CapabilityID string

const (
	CapXResolution    CapabilityID = "ICAP_XRESOLUTION"
	CapYResolution    CapabilityID = "ICAP_YRESOLUTION"
	CapPixelType      CapabilityID = "ICAP_PIXELTYPE"
	CapDuplexEnabled  CapabilityID = "CAP_DUPLEXENABLED"
	CapSupportedSizes CapabilityID = "ICAP_SUPPORTEDSIZES"
	CapUIControllable CapabilityID = "CAP_UICONTROLLABLE"
	CapEnableDSUIOnly CapabilityID = "CAP_ENABLEDSUIONLY"
)

// PixelType is the colour depth of acquired pages.
type PixelType int

const (
	PixelBW PixelType = iota
	PixelGray
	PixelRGB
)

func (p PixelType) String() string {
	switch p {
	case PixelBW:
		return "BlackWhite"
	case PixelGray:
		return "Gray"
	case PixelRGB:
		return "RGB"
	default:
		return "Unknown"
	}
}

// PaperSize is a supported page size reported by the source.
type PaperSize int

const (
	PaperNone PaperSize = iota
	PaperA4
	PaperA5
	PaperUSLetter
	PaperUSLegal
)

func (s PaperSize) String() string {
	switch s {
	case PaperNone:
		return "None"
	case PaperA4:
		return "A4"
	case PaperA5:
		return "A5"
	case PaperUSLetter:
		return "USLetter"
	case PaperUSLegal:
		return "USLegal"
	default:
		return "Unknown"
	}
}

// Millimetres returns the page width and height, or zeros for PaperNone.
func (s PaperSize) Millimetres() (float64, float64) {
	switch s {
	case PaperA4:
		return 210, 297
	case PaperA5:
		return 148, 210
	case PaperUSLetter:
		return 215.9, 279.4
	case PaperUSLegal:
		return 215.9, 355.6
	default:
		return 0, 0
	}
}

// CapabilityInfo is what a source reports for one capability. Values and
// Current hold float64 for resolutions, PixelType, PaperSize or bool
// depending on the capability.
type CapabilityInfo struct {
	Supported bool
	Values    []any
	Current   any
	Label     string
}

// EnableMode selects how a source is enabled.
type EnableMode int

const (
	// NoUI starts capture without showing the source's own dialog.
	NoUI EnableMode = iota
	// ShowUI shows the source's dialog, which then starts capture.
	ShowUI
	// ShowUIOnly shows the source's settings dialog without capturing.
	ShowUIOnly
)

func (m EnableMode) String() string {
	switch m {
	case NoUI:
		return "NoUI"
	case ShowUI:
		return "ShowUI"
	case ShowUIOnly:
		return "ShowUIOnly"
	default:
		return "Unknown"
	}
}

// Transfer is one page delivered by a source. Exactly one of Native or
// FilePath is set.
type Transfer struct {
	Native    []byte
	FilePath  string
	Delivered time.Time
	// Info carries extended image information reported with the page.
	Info map[string]string
}

// Events receives the asynchronous notifications of an enabled source. All
// methods are called from the source's delivery goroutine, never
// concurrently, and a page is not delivered before the previous
// DataTransferred call has returned.
type Events interface {
	// TransferReady is called before each physical transfer. Returning true
	// cancels the remaining transfers of the batch.
	TransferReady() (cancelAll bool)
	// DataTransferred delivers a page.
	DataTransferred(t Transfer)
	// TransferError reports a transfer the source could not complete.
	TransferError(err error)
	// SourceDisabled ends the batch.
	SourceDisabled()
}

// Source is an opened scanner.
type Source interface {
	Name() string
	QueryCapability(id CapabilityID) (CapabilityInfo, error)
	SetCapability(id CapabilityID, value any) error
	// Enable starts the source. It returns once capture has started; pages
	// then arrive through events on another goroutine.
	Enable(mode EnableMode, events Events) error
	Close() error
}

// Manager is the source manager (the protocol library plus its data source
// manager).
type Manager interface {
	// Load initialises the protocol library.
	Load() error
	// Open connects to the data source manager.
	Open() error
	// Sources lists the names of available sources.
	Sources() ([]string, error)
	// OpenSource opens the named source.
	OpenSource(name string) (Source, error)
	// Close disconnects from the data source manager.
	Close() error
	// Unload releases the protocol library.
	Unload() error
}
