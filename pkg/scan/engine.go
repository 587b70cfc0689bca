// Package scan is the scan-session engine: it owns the device session, the
// capability negotiator and the per-run transfer pipeline, and reports every
// operator-visible effect to a Listener on a single UI loop.
package scan

import (
	"fmt"
	"sync"
	"time"

	"duplexscan/pkg/capability"
	"duplexscan/pkg/device"
	"duplexscan/pkg/log"
	"duplexscan/pkg/metrics"
	"duplexscan/pkg/result"
	"duplexscan/pkg/scanerr"
	"duplexscan/pkg/session"
	"duplexscan/pkg/stats"
	"duplexscan/pkg/store"
	"duplexscan/pkg/uiloop"

	"golang.org/x/xerrors"
)

// Listener receives the engine's notifications. Calls are made one at a
// time, in order, from the engine's UI loop.
type Listener interface {
	OnStateChanged(s session.State)
	OnLogLine(line string)
	OnCapabilitiesRefreshed(s capability.Snapshot)
	OnRunCompleted(pagesWritten, pagesFailed int)
}

// NopListener ignores every notification. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) OnStateChanged(session.State)                {}
func (NopListener) OnLogLine(string)                            {}
func (NopListener) OnCapabilitiesRefreshed(capability.Snapshot) {}
func (NopListener) OnRunCompleted(int, int)                     {}

// Options configure an Engine.
type Options struct {
	Listener Listener
	// DB stores capability profiles and run history. Optional; the engine
	// does not close it.
	DB store.DB
	// Threshold is the initial blank-page threshold.
	Threshold float64
	// Workers bounds the goroutines used to score a page.
	Workers int
	// ForceUI enables the source with its own dialog even when it can scan
	// without one.
	ForceUI bool
	// DrainTimeout bounds how long Close waits for the source to finish the
	// page in transfer. Zero means DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// DefaultDrainTimeout is used when Options.DrainTimeout is zero.
const DefaultDrainTimeout = 5 * time.Second

// Engine drives one scanner session.
type Engine struct {
	machine  *session.Machine
	caps     *capability.Negotiator
	analyzer *stats.Analyzer
	ui       *uiloop.Loop
	listener Listener
	db       store.DB
	forceUI  bool
	drain    time.Duration

	mu  sync.Mutex
	run *Run
}

// NewEngine loads the protocol library and opens the source manager. On
// failure the partial session is torn down.
func NewEngine(mgr device.Manager, opts Options) (*Engine, error) {
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	e := &Engine{
		machine:  session.NewMachine(mgr),
		analyzer: stats.NewAnalyzer(opts.Threshold, opts.Workers),
		ui:       uiloop.New(),
		listener: opts.Listener,
		db:       opts.DB,
		forceUI:  opts.ForceUI,
		drain:    opts.DrainTimeout,
	}
	if e.drain <= 0 {
		e.drain = DefaultDrainTimeout
	}
	e.caps = capability.NewNegotiator(e.machine)
	e.machine.OnStateChanged(func(s session.State) {
		e.ui.Post(func() { e.listener.OnStateChanged(s) })
	})

	if err := e.machine.Load(); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.machine.OpenManager(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// State returns the session state.
func (e *Engine) State() session.State {
	return e.machine.State()
}

// notice reports a line outside of any run.
func (e *Engine) notice(format string, args ...any) {
	log.Info(format, args...)
	line := fmt.Sprintf(format, args...)
	e.ui.Post(func() { e.listener.OnLogLine(line) })
}

// ListDevices lists the sources known to the manager.
func (e *Engine) ListDevices() ([]string, error) {
	return e.machine.Sources()
}

// SelectDevice opens the named source, closing any other, reapplies its
// stored profile and publishes its capabilities.
func (e *Engine) SelectDevice(name string) error {
	if err := e.machine.OpenSource(name); err != nil {
		e.notice("Cannot open %s: %v", name, err)
		return err
	}
	e.notice("Selected %s", name)
	e.applyProfile(name)
	e.refreshCapabilities()
	return nil
}

func (e *Engine) applyProfile(name string) {
	if e.db == nil {
		return
	}
	p, found, err := e.db.LoadProfile(name)
	if err != nil {
		log.Warn("Loading profile of %s: %v", name, err)
		return
	}
	if !found {
		return
	}
	for _, err := range e.caps.Apply(p.Snapshot()) {
		log.Warn("Profile of %s not fully applied: %v", name, err)
	}
	log.Info("Applied profile of %s saved %s", name, p.Saved.Format(time.RFC3339))
}

// SetCapability sets a capability by name. While a refresh is being
// published to the listener the call is ignored.
func (e *Engine) SetCapability(name, value string) error {
	return e.caps.Set(name, value)
}

// GetCapabilitySnapshot reads every capability of the open source.
func (e *Engine) GetCapabilitySnapshot() (capability.Snapshot, error) {
	return e.caps.Snapshot()
}

// refreshCapabilities reads the source's capabilities and publishes them
// inside a suppress scope so that the listener's widget updates do not
// write back to the source.
func (e *Engine) refreshCapabilities() {
	snap, err := e.caps.Snapshot()
	if err != nil {
		log.Debug("Capability refresh skipped: %v", err)
		return
	}
	e.ui.Post(func() {
		release := e.caps.Suppress()
		defer release()
		e.listener.OnCapabilitiesRefreshed(snap)
	})
}

// SetThreshold changes the blank-page threshold. It takes effect on the
// next classified page; the current run keeps its output directory.
func (e *Engine) SetThreshold(v float64) {
	e.analyzer.SetThreshold(v)
}

// StartRun enables the source for a batch. It fails with
// ErrPreconditionNotMet unless the session is SourceOpen.
func (e *Engine) StartRun(opts RunOptions) (*Run, error) {
	if s := e.machine.State(); !session.OpEnable.Allows(s) {
		return nil, scanerr.Precondition("start run", s)
	}
	snap, err := e.caps.Snapshot()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.run != nil && !e.run.Finished() {
		e.mu.Unlock()
		return nil, xerrors.Errorf("start run: a run is in progress: %w", scanerr.ErrPreconditionNotMet)
	}
	run := newRun(opts, snap.Device, snap.Resolution.Current, func(line string) {
		e.ui.Post(func() { e.listener.OnLogLine(line) })
	})
	e.run = run
	e.mu.Unlock()

	e.analyzer.SetThreshold(opts.Threshold)
	if e.db != nil {
		if err := e.db.SaveProfile(store.ProfileFromSnapshot(snap, time.Now())); err != nil {
			log.Warn("Saving profile of %s: %v", snap.Device, err)
		}
	}

	mode := device.ShowUI
	if snap.UIControllable && !e.forceUI {
		mode = device.NoUI
	}
	run.log.Append("Start scanning... (threshold %g)", opts.Threshold)
	log.Info("Starting run %s on %s into %s, mode %s", run.ID, snap.Device, run.Dir, mode)

	if err := e.machine.Enable(mode, &coordinator{engine: e, run: run}); err != nil {
		run.log.Append("Cannot start scanning: %v", err)
		e.mu.Lock()
		e.run = nil
		e.mu.Unlock()
		return nil, err
	}
	return run, nil
}

// StopRun requests that the current run stop before the next transfer.
func (e *Engine) StopRun() {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	if run != nil && !run.Finished() {
		log.Info("Stop requested")
		run.RequestStop()
	}
}

// ShowSettings opens the source's settings dialog without scanning and
// republishes the capabilities afterwards.
func (e *Engine) ShowSettings() error {
	if err := e.machine.ShowSettings(settingsEvents{}); err != nil {
		return err
	}
	e.refreshCapabilities()
	return nil
}

// settingsEvents receives the notifications of a settings-only session,
// which never transfers.
type settingsEvents struct{}

func (settingsEvents) TransferReady() bool             { return true }
func (settingsEvents) DataTransferred(device.Transfer) {}
func (settingsEvents) TransferError(error)             {}
func (settingsEvents) SourceDisabled()                 {}

// CanClose reports whether the host may close without interrupting a
// capture.
func (e *Engine) CanClose() bool {
	return e.machine.State() < session.Transferring
}

// Close stops any run and tears the session down. It always completes. A
// run interrupted by the teardown gets up to the drain timeout for the page
// in transfer to finish, and is then finalised with what it has; later
// deliveries are dropped. Close must not be called from a Listener callback.
func (e *Engine) Close() session.TeardownReport {
	e.StopRun()
	report := e.machine.Teardown()

	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	if run != nil && !run.Finished() {
		select {
		case <-run.batchDone:
		case <-time.After(e.drain):
			log.Warn("Source did not end run %s within %s, finalising without it", run.ID, e.drain)
		}
		e.ui.Invoke(func() { e.finishRun(run) })
	}
	e.ui.Close()
	return report
}

// finishRun finalises a run on the UI loop: end marker, persisted log and
// timings, capability refresh, history and completion notice.
func (e *Engine) finishRun(run *Run) {
	run.finish.Do(func() {
		run.seal()
		run.log.StopAndLog(run.stopwatch, "End scanning")

		logPath, err := run.log.SaveTo(run.Dir)
		if err != nil {
			log.Error("Saving run log: %v", err)
		}
		if _, err := result.NewWriter(run.Dir).WriteTimings(metrics.Analyze(run.recorder)); err != nil {
			log.Error("Saving timings: %v", err)
		}

		e.refreshCapabilities()

		written, failed := run.Counts()
		run.summary = Summary{
			Written: written,
			Failed:  failed,
			Stopped: run.StopRequested(),
			Dir:     run.Dir,
			LogPath: logPath,
			Elapsed: run.stopwatch.Elapsed(),
		}
		if e.db != nil {
			rec := &store.RunRecord{
				RunID:      run.ID,
				Device:     run.Device,
				Started:    run.Started,
				Ended:      time.Now(),
				Threshold:  run.Options.Threshold,
				Resolution: run.Resolution,
				OutputDir:  run.Dir,
				Written:    written,
				Failed:     failed,
				Stopped:    run.summary.Stopped,
			}
			if err := e.db.SaveRun(rec); err != nil {
				log.Warn("Saving run history: %v", err)
			}
		}
		log.Info("Run finished: %d written, %d failed in %s", written, failed, run.summary.Elapsed)
		// Queued behind the log lines and refresh posted above.
		e.ui.Post(func() {
			e.listener.OnRunCompleted(written, failed)
			close(run.done)
		})
	})
}
