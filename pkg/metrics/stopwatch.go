package metrics

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Unit is the operator's choice of how elapsed times are shown in the run log.
type Unit int

const (
	Seconds Unit = iota
	Milliseconds
)

func (u Unit) String() string {
	if u == Milliseconds {
		return "msec"
	}
	return "sec"
}

// ParseUnit accepts "sec", "s", "seconds", "msec", "ms" or "milliseconds".
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sec", "s", "seconds", "":
		return Seconds, nil
	case "msec", "ms", "milliseconds":
		return Milliseconds, nil
	}
	return Seconds, fmt.Errorf("unknown time unit %q", s)
}

// Format renders d in the unit at millisecond resolution, e.g. "1.25 sec"
// or "1250 msec".
func (u Unit) Format(d time.Duration) string {
	ms := d.Milliseconds()
	if u == Milliseconds {
		return strconv.FormatInt(ms, 10) + " msec"
	}
	return strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64) + " sec"
}

// Stopwatch measures one wall-clock interval. Stop is idempotent; the first
// call fixes the elapsed time.
type Stopwatch struct {
	mu      sync.Mutex
	start   time.Time
	elapsed time.Duration
	stopped bool
	now     func() time.Time
}

// StartStopwatch starts a stopwatch.
func StartStopwatch() *Stopwatch {
	return startStopwatch(time.Now)
}

func startStopwatch(now func() time.Time) *Stopwatch {
	return &Stopwatch{start: now(), now: now}
}

// Stop stops the stopwatch and returns the elapsed time.
func (s *Stopwatch) Stop() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.elapsed = s.now().Sub(s.start)
		s.stopped = true
	}
	return s.elapsed
}

// Elapsed returns the running or stopped elapsed time.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return s.elapsed
	}
	return s.now().Sub(s.start)
}
