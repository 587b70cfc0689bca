package capability

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"duplexscan/pkg/device"
	"duplexscan/pkg/log"
	"duplexscan/pkg/scanerr"

	"golang.org/x/xerrors"
)

// ResolutionStep is the granularity of resolutions offered to the operator.
// Sources often list every supported value; only multiples of this step are
// exposed.
const ResolutionStep = 50

// Names accepted by Negotiator.Set.
const (
	NameResolution = "resolution"
	NamePixelType  = "pixeltype"
	NameDuplex     = "duplex"
	NamePaperSize  = "papersize"
)

// Setting is one capability as seen by the operator.
type Setting[T comparable] struct {
	Supported bool
	Values    []T
	Current   T
	Label     string
}

// Snapshot is the operator-facing view of every negotiated capability.
type Snapshot struct {
	Device     string
	Resolution Setting[float64]
	PixelType  Setting[device.PixelType]
	Duplex     Setting[bool]
	PaperSize  Setting[device.PaperSize]
	// UIControllable means the source can capture without its own dialog.
	UIControllable bool
	// SettingsUI means the source offers a settings-only dialog.
	SettingsUI bool
}

// Negotiator exposes the capabilities of the currently open source.
type Negotiator struct {
	guard Guard

	Resolution     *Capability[float64]
	PixelType      *Capability[device.PixelType]
	Duplex         *Capability[bool]
	PaperSize      *Capability[device.PaperSize]
	UIControllable *Capability[bool]
	SettingsUIOnly *Capability[bool]

	suppressed atomic.Int32
}

// NewNegotiator binds the capability set to whatever source the guard has
// open at call time.
func NewNegotiator(g Guard) *Negotiator {
	n := &Negotiator{
		guard:          g,
		Resolution:     newCapability(g, toFloat, device.CapXResolution, device.CapYResolution),
		PixelType:      newCapability(g, toPixelType, device.CapPixelType),
		Duplex:         newCapability(g, toBool, device.CapDuplexEnabled),
		PaperSize:      newCapability(g, toPaperSize, device.CapSupportedSizes),
		UIControllable: newCapability(g, toBool, device.CapUIControllable),
		SettingsUIOnly: newCapability(g, toBool, device.CapEnableDSUIOnly),
	}
	n.Resolution.filter = func(dpi float64) bool {
		return math.Mod(dpi, ResolutionStep) == 0
	}
	return n
}

// Suppress opens a scope during which Set is a no-op. It is taken while the
// host widgets are being refilled from a snapshot so their change handlers
// do not write back to the source. The returned release must be called
// exactly once; scopes nest.
func (n *Negotiator) Suppress() (release func()) {
	n.suppressed.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			n.suppressed.Add(-1)
		}
	}
}

// Suppressed reports whether a suppress scope is open.
func (n *Negotiator) Suppressed() bool {
	return n.suppressed.Load() > 0
}

// Snapshot reads every capability from the source. Unsupported or
// unreadable capabilities come back with Supported false.
func (n *Negotiator) Snapshot() (Snapshot, error) {
	src := n.guard.Source()
	if src == nil {
		return Snapshot{}, xerrors.Errorf("snapshot: no source open: %w", scanerr.ErrPreconditionNotMet)
	}
	snap := Snapshot{Device: src.Name()}
	var err error
	if snap.Resolution, err = readSetting(n.Resolution); err != nil {
		return snap, err
	}
	if snap.PixelType, err = readSetting(n.PixelType); err != nil {
		return snap, err
	}
	if snap.Duplex, err = readSetting(n.Duplex); err != nil {
		return snap, err
	}
	if snap.PaperSize, err = readSetting(n.PaperSize); err != nil {
		return snap, err
	}
	snap.UIControllable = n.UIControllable.IsSupported()
	snap.SettingsUI = n.SettingsUIOnly.IsSupported()
	return snap, nil
}

func readSetting[T comparable](c *Capability[T]) (Setting[T], error) {
	info, err := c.read()
	if err != nil {
		if errors.Is(err, scanerr.ErrPreconditionNotMet) {
			return Setting[T]{}, err
		}
		log.Debug("Capability %s unreadable: %v", c.ID(), err)
		return Setting[T]{}, nil
	}
	if !info.Supported {
		return Setting[T]{Label: info.Label}, nil
	}
	s := Setting[T]{Supported: true, Label: info.Label}
	if s.Values, err = c.GetValues(); err != nil {
		return Setting[T]{}, err
	}
	if s.Current, err = c.GetCurrent(); err != nil {
		return Setting[T]{}, err
	}
	return s, nil
}

// Set parses value and writes it to the named capability. Inside a suppress
// scope it does nothing.
func (n *Negotiator) Set(name, value string) error {
	if n.Suppressed() {
		log.Trace("Ignoring %s=%s during capability refresh", name, value)
		return nil
	}
	switch strings.ToLower(name) {
	case NameResolution:
		dpi, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return xerrors.Errorf("resolution %q: %v: %w", value, err, scanerr.ErrRejected)
		}
		return n.Resolution.SetValue(dpi)
	case NamePixelType:
		p, err := ParsePixelType(value)
		if err != nil {
			return err
		}
		return n.PixelType.SetValue(p)
	case NameDuplex:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return xerrors.Errorf("duplex %q: %v: %w", value, err, scanerr.ErrRejected)
		}
		return n.Duplex.SetValue(b)
	case NamePaperSize:
		p, err := ParsePaperSize(value)
		if err != nil {
			return err
		}
		return n.PaperSize.SetValue(p)
	default:
		return xerrors.Errorf("capability %q: %w", name, scanerr.ErrUnsupported)
	}
}

// Apply writes every supported setting of s back to the source, skipping
// values the source does not currently list. It returns the failures; none
// of them is fatal.
func (n *Negotiator) Apply(s Snapshot) []error {
	var errs []error
	try := func(name string, supported bool, f func() error) {
		if !supported {
			return
		}
		if err := f(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	try(NameResolution, s.Resolution.Supported, func() error { return n.Resolution.SetValue(s.Resolution.Current) })
	try(NamePixelType, s.PixelType.Supported, func() error { return n.PixelType.SetValue(s.PixelType.Current) })
	try(NameDuplex, s.Duplex.Supported, func() error { return n.Duplex.SetValue(s.Duplex.Current) })
	try(NamePaperSize, s.PaperSize.Supported, func() error { return n.PaperSize.SetValue(s.PaperSize.Current) })
	return errs
}

// ParsePixelType accepts the PixelType names, case-insensitively.
func ParsePixelType(s string) (device.PixelType, error) {
	for _, p := range []device.PixelType{device.PixelBW, device.PixelGray, device.PixelRGB} {
		if strings.EqualFold(p.String(), s) {
			return p, nil
		}
	}
	return 0, xerrors.Errorf("pixel type %q: %w", s, scanerr.ErrRejected)
}

// ParsePaperSize accepts the PaperSize names, case-insensitively.
func ParsePaperSize(s string) (device.PaperSize, error) {
	for _, p := range []device.PaperSize{device.PaperNone, device.PaperA4, device.PaperA5, device.PaperUSLetter, device.PaperUSLegal} {
		if strings.EqualFold(p.String(), s) {
			return p, nil
		}
	}
	return 0, xerrors.Errorf("paper size %q: %w", s, scanerr.ErrRejected)
}
