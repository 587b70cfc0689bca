// Package capability negotiates acquisition settings with the open source.
package capability

import (
	"errors"

	"duplexscan/pkg/device"
	"duplexscan/pkg/scanerr"
	"duplexscan/pkg/session"

	"golang.org/x/xerrors"
)

// Guard runs device calls behind a session precondition.
type Guard interface {
	RequestTransition(op session.Operation, action func() error) error
	Source() device.Source
}

// Capability is a typed view of one source setting. Some settings span
// several device capabilities (resolution is set on both axes); the first
// ID is the one read from.
type Capability[T comparable] struct {
	ids     []device.CapabilityID
	guard   Guard
	convert func(any) (T, bool)
	filter  func(T) bool
}

func newCapability[T comparable](g Guard, convert func(any) (T, bool), ids ...device.CapabilityID) *Capability[T] {
	return &Capability[T]{ids: ids, guard: g, convert: convert}
}

// ID returns the capability read from.
func (c *Capability[T]) ID() device.CapabilityID {
	return c.ids[0]
}

// query reads every underlying capability; the result is supported only if
// all of them are.
func (c *Capability[T]) query() (device.CapabilityInfo, error) {
	src := c.guard.Source()
	var first device.CapabilityInfo
	for i, id := range c.ids {
		info, err := src.QueryCapability(id)
		if err != nil {
			return device.CapabilityInfo{}, xerrors.Errorf("query %s: %w", id, err)
		}
		if i == 0 {
			first = info
		}
		if !info.Supported {
			first.Supported = false
		}
	}
	return first, nil
}

func (c *Capability[T]) read() (device.CapabilityInfo, error) {
	var info device.CapabilityInfo
	err := c.guard.RequestTransition(session.OpQuery, func() error {
		var err error
		info, err = c.query()
		return err
	})
	return info, err
}

// IsSupported reports whether the source supports the capability. Query
// failures count as unsupported.
func (c *Capability[T]) IsSupported() bool {
	info, err := c.read()
	return err == nil && info.Supported
}

// Label returns the source-provided label, if any.
func (c *Capability[T]) Label() string {
	info, err := c.read()
	if err != nil {
		return ""
	}
	return info.Label
}

// GetValues returns the supported values in source order, filtered where
// the capability defines a filter.
func (c *Capability[T]) GetValues() ([]T, error) {
	info, err := c.read()
	if err != nil {
		return nil, err
	}
	if !info.Supported {
		return nil, xerrors.Errorf("%s: %w", c.ID(), scanerr.ErrUnsupported)
	}
	values := make([]T, 0, len(info.Values))
	for _, raw := range info.Values {
		v, ok := c.convert(raw)
		if !ok {
			continue
		}
		if c.filter != nil && !c.filter(v) {
			continue
		}
		values = append(values, v)
	}
	return values, nil
}

// GetCurrent returns the current value.
func (c *Capability[T]) GetCurrent() (T, error) {
	var zero T
	info, err := c.read()
	if err != nil {
		return zero, err
	}
	if !info.Supported {
		return zero, xerrors.Errorf("%s: %w", c.ID(), scanerr.ErrUnsupported)
	}
	v, ok := c.convert(info.Current)
	if !ok {
		return zero, xerrors.Errorf("%s: unexpected current value %v (%T)", c.ID(), info.Current, info.Current)
	}
	return v, nil
}

// SetValue writes v to every underlying capability. It is only permitted in
// SourceOpen; it fails with ErrUnsupported if the source does not support the
// capability and ErrRejected if the source declines the value or GetValues
// would not list it.
func (c *Capability[T]) SetValue(v T) error {
	return c.guard.RequestTransition(session.OpNegotiate, func() error {
		info, err := c.query()
		if err != nil {
			return err
		}
		if !info.Supported {
			return xerrors.Errorf("set %s: %w", c.ID(), scanerr.ErrUnsupported)
		}
		if c.filter != nil && !c.filter(v) {
			return xerrors.Errorf("set %s=%v: not an offered value: %w", c.ID(), v, scanerr.ErrRejected)
		}
		src := c.guard.Source()
		// Check every axis first so a value listed on one but not another
		// leaves the source untouched.
		for _, id := range c.ids {
			info, err := src.QueryCapability(id)
			if err != nil {
				return xerrors.Errorf("query %s: %w", id, err)
			}
			if len(info.Values) > 0 && !c.listed(info.Values, v) {
				return xerrors.Errorf("set %s=%v: not offered by the source: %w", id, v, scanerr.ErrRejected)
			}
		}
		for _, id := range c.ids {
			if err := src.SetCapability(id, v); err != nil {
				if errors.Is(err, scanerr.ErrRejected) {
					return xerrors.Errorf("set %s=%v: %w", id, v, err)
				}
				return xerrors.Errorf("set %s=%v: %v: %w", id, v, err, scanerr.ErrRejected)
			}
		}
		return nil
	})
}

func (c *Capability[T]) listed(values []any, v T) bool {
	for _, raw := range values {
		if x, ok := c.convert(raw); ok && x == v {
			return true
		}
	}
	return false
}

// --- converters ---

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint16:
		return float64(n), true
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func toPixelType(v any) (device.PixelType, bool) {
	p, ok := v.(device.PixelType)
	return p, ok
}

func toPaperSize(v any) (device.PaperSize, bool) {
	p, ok := v.(device.PaperSize)
	return p, ok
}
