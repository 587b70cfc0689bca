package scan

import (
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"duplexscan/pkg/export"
	"duplexscan/pkg/metrics"
	"duplexscan/pkg/paging"
	"duplexscan/pkg/runlog"

	"github.com/google/uuid"
)

// RunOptions configure one capture batch. They are read once at StartRun.
type RunOptions struct {
	Threshold  float64
	OutputRoot string
	Image      bool
	Document   bool
	Unit       metrics.Unit
}

// Destinations lists the enabled export destinations.
func (o RunOptions) Destinations() []export.Destination {
	var ds []export.Destination
	if o.Image {
		ds = append(ds, export.ImageOut)
	}
	if o.Document {
		ds = append(ds, export.DocumentOut)
	}
	return ds
}

// RunDir returns root/<resolution>_<threshold as integer>.
func RunDir(root string, resolution, threshold float64) string {
	name := strconv.FormatFloat(resolution, 'f', -1, 64) + "_" + strconv.Itoa(int(threshold))
	return filepath.Join(root, name)
}

// Summary is the outcome of a completed run.
type Summary struct {
	Written int
	Failed  int
	Stopped bool
	Dir     string
	LogPath string
	Elapsed time.Duration
}

// Run is one capture batch. Its counters and paging sequence start fresh
// with every StartRun and are never shared between runs.
type Run struct {
	ID         string
	Options    RunOptions
	Device     string
	Resolution float64
	Dir        string
	Started    time.Time

	stop atomic.Bool

	seq       *paging.Sequencer
	log       *runlog.Log
	recorder  *metrics.Recorder
	router    *export.Router
	stopwatch *metrics.Stopwatch

	mu       sync.Mutex
	pending  *sync.Cond
	written  int
	failed   int
	inflight int
	sealed   bool

	batchOnce sync.Once
	batchDone chan struct{}

	finish  sync.Once
	done    chan struct{}
	summary Summary
}

func newRun(opts RunOptions, deviceName string, resolution float64, sink func(string)) *Run {
	r := &Run{
		ID:         uuid.NewString(),
		Options:    opts,
		Device:     deviceName,
		Resolution: resolution,
		Dir:        RunDir(opts.OutputRoot, resolution, opts.Threshold),
		Started:    time.Now(),
		seq:        paging.NewSequencer(),
		log:        runlog.New(opts.Unit, sink),
		recorder:   metrics.NewRecorder(),
		stopwatch:  metrics.StartStopwatch(),
		done:       make(chan struct{}),
		batchDone:  make(chan struct{}),
	}
	r.pending = sync.NewCond(&r.mu)
	var exporters []export.Exporter
	if opts.Image {
		exporters = append(exporters, &export.ImageExporter{RunDir: r.Dir})
	}
	if opts.Document {
		exporters = append(exporters, export.NewDocumentExporter(r.Dir))
	}
	r.router = export.NewRouter(r.log, r.recorder, exporters...)
	return r
}

// RequestStop asks the source to cancel the remaining transfers. The page
// being transferred, if any, completes normally.
func (r *Run) RequestStop() {
	r.stop.Store(true)
}

// StopRequested reports whether a stop has been requested.
func (r *Run) StopRequested() bool {
	return r.stop.Load()
}

// Counts returns the pages written and failed so far.
func (r *Run) Counts() (written, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.failed
}

func (r *Run) pageWritten() {
	r.mu.Lock()
	r.written++
	r.mu.Unlock()
}

func (r *Run) pageFailed() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

// beginPage admits one delivery into the run. It fails once the run has
// been sealed for finalisation.
func (r *Run) beginPage() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return false
	}
	r.inflight++
	return true
}

func (r *Run) endPage() {
	r.mu.Lock()
	r.inflight--
	r.mu.Unlock()
	r.pending.Broadcast()
}

// seal stops admitting deliveries and waits for the admitted ones to
// finish, so that the counts no longer change.
func (r *Run) seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	for r.inflight > 0 {
		r.pending.Wait()
	}
}

// endBatch records that the source has stopped delivering.
func (r *Run) endBatch() {
	r.batchOnce.Do(func() { close(r.batchDone) })
}

// Log returns the run log.
func (r *Run) Log() *runlog.Log { return r.log }

// Recorder returns the run's measurement tree.
func (r *Run) Recorder() *metrics.Recorder { return r.recorder }

// Done is closed once the run has been finalised.
func (r *Run) Done() <-chan struct{} { return r.done }

// Finished reports whether the run has been finalised.
func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Summary returns the outcome. It is only meaningful after Done.
func (r *Run) Summary() Summary {
	<-r.done
	return r.summary
}
