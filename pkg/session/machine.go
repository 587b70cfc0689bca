// Package session owns the device-session lifecycle and validates every
// device call against the current state.
package session

import (
	"sync"

	"duplexscan/pkg/device"
	"duplexscan/pkg/log"
	"duplexscan/pkg/scanerr"

	"golang.org/x/xerrors"
)

// Machine is the session state machine. Device-control calls are serialised
// through opMu; the state itself is guarded separately so that the source's
// delivery goroutine can report SourceDisabled while a control call is in
// flight.
type Machine struct {
	mgr device.Manager

	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	source   device.Source
	onChange func(State)
	// enabling is set while src.Enable runs; a SourceDisabled arriving in
	// that window is held in disabledEarly until Enable returns.
	enabling      bool
	disabledEarly bool
}

// NewMachine creates a machine in the Closed state.
func NewMachine(mgr device.Manager) *Machine {
	return &Machine{mgr: mgr, state: Closed}
}

// OnStateChanged registers the state listener. It is called from whichever
// goroutine caused the transition.
func (m *Machine) OnStateChanged(f func(State)) {
	m.mu.Lock()
	m.onChange = f
	m.mu.Unlock()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Source returns the open source, or nil below SourceOpen.
func (m *Machine) Source() device.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	f := m.onChange
	m.mu.Unlock()
	if prev != s {
		log.Debug("Session state %s -> %s", prev, s)
		if f != nil {
			f(s)
		}
	}
}

// RequestTransition runs action only if the current state satisfies op.
// Otherwise it returns ErrPreconditionNotMet and action is not called.
func (m *Machine) RequestTransition(op Operation, action func() error) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.guarded(op, action)
}

func (m *Machine) guarded(op Operation, action func() error) error {
	if s := m.State(); !op.Allows(s) {
		return scanerr.Precondition(op.Name, s)
	}
	return action()
}

// Load initialises the protocol library: Closed -> Loaded.
func (m *Machine) Load() error {
	return m.RequestTransition(OpLoad, func() error {
		if err := m.mgr.Load(); err != nil {
			return xerrors.Errorf("load protocol library: %w", err)
		}
		m.setState(Loaded)
		return nil
	})
}

// OpenManager connects to the source manager: Loaded -> Opened.
func (m *Machine) OpenManager() error {
	return m.RequestTransition(OpOpenManager, func() error {
		if err := m.mgr.Open(); err != nil {
			return xerrors.Errorf("open source manager: %w", err)
		}
		m.setState(Opened)
		return nil
	})
}

// Sources lists the available sources.
func (m *Machine) Sources() ([]string, error) {
	var names []string
	err := m.RequestTransition(OpListSources, func() error {
		var err error
		names, err = m.mgr.Sources()
		return err
	})
	return names, err
}

// OpenSource opens the named source: Opened -> SourceOpen. If a different
// source is already open it is closed first. A source that cannot be opened
// yields ErrDeviceUnavailable and the machine stays in Opened.
func (m *Machine) OpenSource(name string) error {
	return m.RequestTransition(OpOpenSource, func() error {
		if cur := m.Source(); cur != nil {
			if cur.Name() == name {
				return nil
			}
			if err := m.closeSource(cur); err != nil {
				return err
			}
		}
		src, err := m.mgr.OpenSource(name)
		if err != nil {
			return xerrors.Errorf("open source %q: %v: %w", name, err, scanerr.ErrDeviceUnavailable)
		}
		m.mu.Lock()
		m.source = src
		m.mu.Unlock()
		m.setState(SourceOpen)
		return nil
	})
}

// CloseSource closes the open source: SourceOpen -> Opened.
func (m *Machine) CloseSource() error {
	return m.RequestTransition(OpCloseSource, func() error {
		return m.closeSource(m.Source())
	})
}

func (m *Machine) closeSource(src device.Source) error {
	if err := src.Close(); err != nil {
		return xerrors.Errorf("close source %q: %w", src.Name(), err)
	}
	m.mu.Lock()
	m.source = nil
	m.mu.Unlock()
	m.setState(Opened)
	return nil
}

// Enable starts capture on the open source: SourceOpen -> Transferring.
// The state only advances once the source has accepted the enable; on
// failure it is untouched and ErrEnableFailed returned. A batch that ended
// before Enable returned is reported as Transferring then SourceOpen.
func (m *Machine) Enable(mode device.EnableMode, events device.Events) error {
	return m.RequestTransition(OpEnable, func() error {
		src := m.Source()
		m.mu.Lock()
		m.enabling, m.disabledEarly = true, false
		m.mu.Unlock()

		err := src.Enable(mode, events)

		m.mu.Lock()
		early := m.disabledEarly
		m.enabling, m.disabledEarly = false, false
		if err != nil {
			m.mu.Unlock()
			return xerrors.Errorf("enable %q: %v: %w", src.Name(), err, scanerr.ErrEnableFailed)
		}
		m.state = Transferring
		if early {
			m.state = SourceOpen
		}
		f := m.onChange
		m.mu.Unlock()

		log.Debug("Session state %s -> %s", SourceOpen, Transferring)
		if f != nil {
			f(Transferring)
		}
		if early {
			log.Debug("Session state %s -> %s", Transferring, SourceOpen)
			if f != nil {
				f(SourceOpen)
			}
		}
		return nil
	})
}

// ShowSettings opens the source's settings-only dialog. The machine stays
// in SourceOpen.
func (m *Machine) ShowSettings(events device.Events) error {
	return m.RequestTransition(OpShowSettings, func() error {
		src := m.Source()
		if err := src.Enable(device.ShowUIOnly, events); err != nil {
			return xerrors.Errorf("show settings %q: %v: %w", src.Name(), err, scanerr.ErrEnableFailed)
		}
		return nil
	})
}

// SourceDisabled records the end of a batch: Transferring -> SourceOpen. It
// reports whether a transition happened.
func (m *Machine) SourceDisabled() bool {
	m.mu.Lock()
	if m.enabling {
		m.disabledEarly = true
		m.mu.Unlock()
		return true
	}
	if m.state != Transferring {
		m.mu.Unlock()
		return false
	}
	m.state = SourceOpen
	f := m.onChange
	m.mu.Unlock()
	log.Debug("Session state %s -> %s", Transferring, SourceOpen)
	if f != nil {
		f(SourceOpen)
	}
	return true
}
