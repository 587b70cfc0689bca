package hardware

import (
	"bytes"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"duplexscan/pkg/device"
	"duplexscan/pkg/log"
	"duplexscan/pkg/scanerr"

	"golang.org/x/image/bmp"
	"golang.org/x/xerrors"
)

// CoreOptions configures an in-memory source. Zero values give a duplex
// capable sheet-fed scanner with the usual capability set.
type CoreOptions struct {
	// Sheets fed per batch. Duplex delivers two pages per sheet.
	Sheets int
	// Files, when set, are delivered by path in order instead of synthetic
	// pages, one per delivery regardless of duplex.
	Files []string
	// Page overrides the synthetic page renderer.
	Page func(n int, s PageSettings) image.Image
	// Blank marks deliveries as blank for the synthetic renderer. By default
	// the backs of duplex sheets are blank.
	Blank func(n int, duplex bool) bool
	// Capabilities replaces the default capability table.
	Capabilities map[device.CapabilityID]*device.CapabilityInfo

	// Faults.
	OpenErr     error
	EnableErr   error
	CloseErr    error
	ClosePanics bool
	// TransferErr fails the numbered deliveries with a transfer error.
	TransferErr map[int]error
	// Corrupt replaces the numbered deliveries with undecodable bytes.
	Corrupt map[int]bool

	// BeforeTransfer runs on the delivery goroutine once a delivery has been
	// accepted by TransferReady and before it is handed over.
	BeforeTransfer func(n int)
	// Delay is slept before each delivery.
	Delay time.Duration
}

// DefaultCapabilities returns the capability table of a typical sheet-fed
// duplex scanner. Resolutions include values that are not multiples of 50,
// as real sources report.
func DefaultCapabilities() map[device.CapabilityID]*device.CapabilityInfo {
	res := []any{75.0, 100.0, 150.0, 200.0, 203.0, 240.0, 300.0, 600.0}
	return map[device.CapabilityID]*device.CapabilityInfo{
		device.CapXResolution: {Supported: true, Values: res, Current: 200.0},
		device.CapYResolution: {Supported: true, Values: res, Current: 200.0},
		device.CapPixelType: {Supported: true, Label: "Pixel type", Current: device.PixelGray,
			Values: []any{device.PixelBW, device.PixelGray, device.PixelRGB}},
		device.CapDuplexEnabled: {Supported: true, Values: []any{false, true}, Current: false},
		device.CapSupportedSizes: {Supported: true, Label: "Paper size", Current: device.PaperA4,
			Values: []any{device.PaperA4, device.PaperA5, device.PaperUSLetter, device.PaperUSLegal}},
		device.CapUIControllable: {Supported: true, Values: []any{true}, Current: true},
		device.CapEnableDSUIOnly: {Supported: true, Values: []any{true}, Current: true},
	}
}

// CoreSource is an in-memory scanner.
type CoreSource struct {
	name string
	opts CoreOptions

	mu      sync.Mutex
	caps    map[device.CapabilityID]*device.CapabilityInfo
	enabled bool
	closed  bool
	done    chan struct{}
}

// NewCoreSource creates an in-memory source.
func NewCoreSource(name string, opts CoreOptions) *CoreSource {
	caps := opts.Capabilities
	if caps == nil {
		caps = DefaultCapabilities()
	}
	if opts.Blank == nil {
		opts.Blank = func(n int, duplex bool) bool { return duplex && n%2 == 0 }
	}
	return &CoreSource{name: name, opts: opts, caps: caps}
}

func (s *CoreSource) Name() string { return s.name }

// QueryCapability returns a copy of the capability's current state.
func (s *CoreSource) QueryCapability(id device.CapabilityID) (device.CapabilityInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return device.CapabilityInfo{}, fmt.Errorf("source %q is closed", s.name)
	}
	info, ok := s.caps[id]
	if !ok {
		return device.CapabilityInfo{}, nil
	}
	cp := *info
	cp.Values = append([]any(nil), info.Values...)
	return cp, nil
}

// SetCapability accepts only listed values and refuses changes while the
// source is enabled.
func (s *CoreSource) SetCapability(id device.CapabilityID, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.caps[id]
	if !ok || !info.Supported {
		return xerrors.Errorf("%s: %w", id, scanerr.ErrUnsupported)
	}
	if s.enabled {
		return xerrors.Errorf("%s: source is transferring: %w", id, scanerr.ErrRejected)
	}
	for _, v := range info.Values {
		if v == value {
			info.Current = value
			return nil
		}
	}
	return xerrors.Errorf("%s=%v not in %v: %w", id, value, info.Values, scanerr.ErrRejected)
}

func (s *CoreSource) current(id device.CapabilityID) any {
	if info, ok := s.caps[id]; ok && info.Supported {
		return info.Current
	}
	return nil
}

// Enable starts a batch. ShowUIOnly returns at once, as if the operator had
// closed the settings dialog.
func (s *CoreSource) Enable(mode device.EnableMode, events device.Events) error {
	if s.opts.EnableErr != nil {
		return s.opts.EnableErr
	}
	if mode == device.ShowUIOnly {
		return nil
	}
	s.mu.Lock()
	if s.closed || s.enabled {
		s.mu.Unlock()
		return fmt.Errorf("source %q cannot be enabled", s.name)
	}
	s.enabled = true
	s.done = make(chan struct{})
	settings := PageSettings{}
	settings.Resolution, _ = s.current(device.CapXResolution).(float64)
	settings.PixelType, _ = s.current(device.CapPixelType).(device.PixelType)
	settings.Paper, _ = s.current(device.CapSupportedSizes).(device.PaperSize)
	duplex, _ := s.current(device.CapDuplexEnabled).(bool)
	done := s.done
	s.mu.Unlock()

	pages := s.opts.Sheets
	if duplex {
		pages *= 2
	}
	if len(s.opts.Files) > 0 {
		pages = len(s.opts.Files)
	}
	go s.deliver(pages, duplex, settings, events, done)
	return nil
}

func (s *CoreSource) deliver(pages int, duplex bool, settings PageSettings, events device.Events, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.enabled = false
		s.mu.Unlock()
		events.SourceDisabled()
	}()
	for n := 1; n <= pages; n++ {
		if s.isClosed() {
			return
		}
		if s.opts.Delay > 0 {
			time.Sleep(s.opts.Delay)
		}
		if events.TransferReady() {
			log.Debug("Source %q: remaining transfers cancelled before delivery %d", s.name, n)
			return
		}
		if s.opts.BeforeTransfer != nil {
			s.opts.BeforeTransfer(n)
		}
		if err := s.opts.TransferErr[n]; err != nil {
			events.TransferError(err)
			continue
		}
		side := "front"
		if duplex && n%2 == 0 {
			side = "back"
		}
		if len(s.opts.Files) > 0 {
			events.DataTransferred(device.Transfer{
				FilePath:  s.opts.Files[n-1],
				Delivered: time.Now(),
				Info:      map[string]string{"Camera": side},
			})
			continue
		}
		var data []byte
		if s.opts.Corrupt[n] {
			data = []byte("BM\x00\x00 not a bitmap")
		} else {
			var err error
			data, err = encodeNative(s.page(n, duplex, settings))
			if err != nil {
				events.TransferError(err)
				continue
			}
		}
		events.DataTransferred(device.Transfer{
			Native:    data,
			Delivered: time.Now(),
			Info:      map[string]string{"Camera": side},
		})
	}
}

func (s *CoreSource) page(n int, duplex bool, settings PageSettings) image.Image {
	if s.opts.Page != nil {
		return s.opts.Page(n, settings)
	}
	return SyntheticPage(n, s.opts.Blank(n, duplex), settings)
}

// encodeNative encodes a page the way a native transfer arrives: as a
// device-independent bitmap.
func encodeNative(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("bmp encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *CoreSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops any batch in progress after its current delivery.
func (s *CoreSource) Close() error {
	if s.opts.ClosePanics {
		panic(fmt.Sprintf("source %q crashed on close", s.name))
	}
	if s.opts.CloseErr != nil {
		return s.opts.CloseErr
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Wait blocks until the current batch, if any, has ended.
func (s *CoreSource) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Core is an in-memory source manager.
type Core struct {
	mu      sync.Mutex
	sources map[string]*CoreSource
	// LoadErr, OpenErr, CloseErr and UnloadErr inject manager faults.
	LoadErr, OpenErr, CloseErr, UnloadErr error
}

// NewCore creates a manager over the given sources.
func NewCore(sources ...*CoreSource) *Core {
	c := &Core{sources: make(map[string]*CoreSource)}
	for _, s := range sources {
		c.sources[s.name] = s
	}
	return c
}

func (c *Core) Load() error   { return c.LoadErr }
func (c *Core) Open() error   { return c.OpenErr }
func (c *Core) Close() error  { return c.CloseErr }
func (c *Core) Unload() error { return c.UnloadErr }

// Sources lists the source names in alphabetical order.
func (c *Core) Sources() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// OpenSource reopens the named source.
func (c *Core) OpenSource(name string) (device.Source, error) {
	c.mu.Lock()
	s, ok := c.sources[name]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no source named %q", name)
	}
	if s.opts.OpenErr != nil {
		return nil, s.opts.OpenErr
	}
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
	return s, nil
}
