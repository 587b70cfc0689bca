// Package metrics times the stages of a scan run: a hierarchical recorder of
// wall-clock and CPU time per named stage, summary statistics over a run,
// and the stopwatch used for operator-facing timings.
package metrics

import (
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"
)

// MeasurementType defines the measurement observed.
type MeasurementType uint

const (
	MLogic MeasurementType = iota
	MDecode
	MAnalyze
	MDiskWrite
)

func (mt MeasurementType) String() string {
	switch mt {
	case MLogic:
		return "Logic"
	case MDecode:
		return "Decode"
	case MAnalyze:
		return "Analyze"
	case MDiskWrite:
		return "DiskWrite"
	default:
		return "Unknown"
	}
}

// TimeTotals groups the three clocks of a measurement.
type TimeTotals struct {
	WallClock, UserTime, SystemTime time.Duration
}

// Measurement is a node in the measurement tree.
type Measurement struct {
	ConceptualName string
	Type           MeasurementType
	Depth          int
	Inclusive      TimeTotals
	Children       []*Measurement

	startTime      time.Time
	startRUsage    syscall.Rusage
	startRChildren syscall.Rusage
}

// Recorder builds the measurement tree for a single run. Measurements nest
// in call order, so a Recorder must only be driven from one goroutine at a
// time; the mutex protects readers on other goroutines.
type Recorder struct {
	mu               sync.Mutex
	rootMeasurements []*Measurement
	activeStack      []*Measurement
}

// NewRecorder creates a new, empty recorder for a single run.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record measures f under conceptualName. The measurement is stopped even
// when f fails; f's error is returned unchanged.
func (r *Recorder) Record(conceptualName string, mType MeasurementType, f func() error) (err error) {
	if err = r.start(conceptualName, mType); err != nil {
		return fmt.Errorf("could not start timer for '%s': %w", conceptualName, err)
	}
	defer func() {
		stopErr := r.stop(conceptualName)
		if stopErr != nil {
			if err != nil {
				err = fmt.Errorf("op error for '%s' (%w) and stop error (%w)", conceptualName, err, stopErr)
			} else {
				err = stopErr
			}
		}
	}()
	return f()
}

func (r *Recorder) start(conceptualName string, mType MeasurementType) error {
	m := &Measurement{ConceptualName: conceptualName, Type: mType}

	var err error
	m.startRUsage, err = getRUsage(syscall.RUSAGE_SELF)
	if err != nil {
		return err
	}
	m.startRChildren, err = getRUsage(syscall.RUSAGE_CHILDREN)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.activeStack); n > 0 {
		parent := r.activeStack[n-1]
		m.Depth = parent.Depth + 1
		parent.Children = append(parent.Children, m)
	} else {
		r.rootMeasurements = append(r.rootMeasurements, m)
	}
	r.activeStack = append(r.activeStack, m)
	m.startTime = time.Now()
	return nil
}

func (r *Recorder) stop(conceptualName string) error {
	endTime := time.Now()
	endRUsage, err := getRUsage(syscall.RUSAGE_SELF)
	if err != nil {
		return err
	}
	endRChildren, err := getRUsage(syscall.RUSAGE_CHILDREN)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.activeStack) == 0 {
		return fmt.Errorf("cannot stop '%s': no active measurements", conceptualName)
	}
	m := r.activeStack[len(r.activeStack)-1]
	if m.ConceptualName != conceptualName {
		return fmt.Errorf("cannot stop '%s': the active measurement is '%s'", conceptualName, m.ConceptualName)
	}
	m.Inclusive.WallClock = endTime.Sub(m.startTime)
	m.Inclusive.UserTime = rtimeDifference(m.startRUsage.Utime, endRUsage.Utime) + rtimeDifference(m.startRChildren.Utime, endRChildren.Utime)
	m.Inclusive.SystemTime = rtimeDifference(m.startRUsage.Stime, endRUsage.Stime) + rtimeDifference(m.startRChildren.Stime, endRChildren.Stime)

	r.activeStack = r.activeStack[:len(r.activeStack)-1]
	return nil
}

// RootMeasurements returns the top-level measurements in start order.
func (r *Recorder) RootMeasurements() []*Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Measurement, len(r.rootMeasurements))
	copy(out, r.rootMeasurements)
	return out
}

// PrintTree writes the measurement tree up to maxDepth levels; -1 prints
// everything.
func (r *Recorder) PrintTree(w io.Writer, maxDepth int) {
	fmt.Fprintf(w, "--- Measurement Tree (Depth <= %d) ---\n", maxDepth)
	if maxDepth == -1 {
		maxDepth = 1000
	}
	roots := r.RootMeasurements()
	for i, root := range roots {
		printNode(w, root, "", i == len(roots)-1, maxDepth)
	}
}

func printNode(w io.Writer, m *Measurement, prefix string, isLast bool, maxDepth int) {
	if m.Depth > maxDepth {
		return
	}

	fmt.Fprint(w, prefix)
	if isLast {
		fmt.Fprint(w, "└── ")
		prefix += "    "
	} else {
		fmt.Fprint(w, "├── ")
		prefix += "│   "
	}
	fmt.Fprintf(w, "%s (%s) - %s\n", m.ConceptualName, m.Type, m.Inclusive.WallClock.Round(time.Microsecond))

	if m.Depth < maxDepth {
		for i, child := range m.Children {
			printNode(w, child, prefix, i == len(m.Children)-1, maxDepth)
		}
	} else if len(m.Children) > 0 {
		fmt.Fprintf(w, "%s└── [... %d hidden ...]\n", prefix, len(m.Children))
	}
}

// --- OS and Time Utilities ---
func getRUsage(who int) (syscall.Rusage, error) {
	var rusage syscall.Rusage
	err := syscall.Getrusage(who, &rusage)
	return rusage, err
}

func rtimeDifference(start, end syscall.Timeval) time.Duration {
	startDuration := time.Duration(start.Sec)*time.Second + time.Duration(start.Usec)*time.Microsecond
	endDuration := time.Duration(end.Sec)*time.Second + time.Duration(end.Usec)*time.Microsecond
	return endDuration - startDuration
}
