package session

import (
	"fmt"

	"duplexscan/pkg/log"
	"duplexscan/pkg/scanerr"

	"golang.org/x/xerrors"
)

// TeardownStep is the outcome of one step of a forced teardown.
type TeardownStep struct {
	Name      string
	Attempted bool
	Err       error
}

// TeardownReport describes a completed teardown. Teardown always completes;
// faults are reported, never returned.
type TeardownReport struct {
	From  State
	Steps []TeardownStep
}

// Faults returns the errors of the steps that failed.
func (r TeardownReport) Faults() []error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errs
}

func (r TeardownReport) String() string {
	return fmt.Sprintf("teardown from %s: %d steps, %d faults", r.From, len(r.Steps), len(r.Faults()))
}

// Teardown forcibly steps the session down to Closed, walking
// close source -> close manager -> unload. Each step runs only if the state
// is at or above the one it releases. A failing or panicking step is logged,
// moves the machine to Faulted, and the walk continues; the machine always
// ends in Closed.
func (m *Machine) Teardown() TeardownReport {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	report := TeardownReport{From: m.State()}

	step := func(name string, floor State, to State, f func() error) {
		if m.State() < floor {
			report.Steps = append(report.Steps, TeardownStep{Name: name})
			return
		}
		err := protect(name, f)
		if err != nil {
			log.Warn("Teardown step %q failed, continuing: %v", name, err)
			m.setState(Faulted)
		}
		report.Steps = append(report.Steps, TeardownStep{Name: name, Attempted: true, Err: err})
		m.setState(to)
	}

	step("close source", SourceOpen, Opened, func() error {
		src := m.Source()
		m.mu.Lock()
		m.source = nil
		m.mu.Unlock()
		if src == nil {
			return nil
		}
		return src.Close()
	})
	step("close manager", Opened, Loaded, m.mgr.Close)
	step("unload", Loaded, Closed, m.mgr.Unload)

	log.Info("Session %s", report)
	return report
}

// protect runs f, converting both errors and panics into ErrTeardownFault.
func protect(name string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("%s panicked: %v: %w", name, r, scanerr.ErrTeardownFault)
		}
	}()
	if ferr := f(); ferr != nil {
		return xerrors.Errorf("%s: %v: %w", name, ferr, scanerr.ErrTeardownFault)
	}
	return nil
}
