// Package runlog accumulates the operator-visible log of a scan run.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"duplexscan/pkg/log"
	"duplexscan/pkg/metrics"
)

// FileName is the name of the persisted run log.
const FileName = "Log.txt"

// Log is the text of one run. Every line is forwarded to the sink, which the
// engine binds to the UI loop, and mirrored to the process log.
type Log struct {
	mu    sync.Mutex
	lines []string
	unit  metrics.Unit
	sink  func(line string)
}

// New creates an empty run log. sink may be nil.
func New(unit metrics.Unit, sink func(line string)) *Log {
	return &Log{unit: unit, sink: sink}
}

// Unit returns the unit used by StopAndLog.
func (l *Log) Unit() metrics.Unit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unit
}

// Append adds a formatted line.
func (l *Log) Append(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.lines = append(l.lines, line)
	sink := l.sink
	l.mu.Unlock()

	log.Debug("run: %s", line)
	if sink != nil {
		sink(line)
	}
}

// StopAndLog stops sw and appends message followed by the elapsed time in
// the log's unit. A nil stopwatch is ignored.
func (l *Log) StopAndLog(sw *metrics.Stopwatch, message string) {
	if sw == nil {
		return
	}
	elapsed := sw.Stop()
	l.Append("%s %s", message, l.Unit().Format(elapsed))
}

// Lines returns a copy of the lines so far.
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Text returns the log as newline-terminated lines.
func (l *Log) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) == 0 {
		return ""
	}
	return strings.Join(l.lines, "\n") + "\n"
}

// SaveTo writes the log to dir/Log.txt, creating dir if needed. An empty log
// is not written and the returned path is empty.
func (l *Log) SaveTo(dir string) (string, error) {
	text := l.Text()
	if text == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("failed to write run log %s: %w", path, err)
	}
	return path, nil
}
