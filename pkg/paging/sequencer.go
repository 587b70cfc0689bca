// Package paging assigns duplex-aware identities to delivered pages.
package paging

import (
	"fmt"
	"sync"
)

// Side is the face of a sheet.
type Side int

const (
	Front Side = 1
	Back  Side = 2
)

func (s Side) String() string {
	switch s {
	case Front:
		return "Front"
	case Back:
		return "Back"
	default:
		return "Unknown"
	}
}

// Identity locates a delivered page on its sheet.
type Identity struct {
	Delivery int // 1-based delivery number within the run
	Sheet    int
	Side     Side
}

// Filename returns the base name used by every destination, "{sheet}_{side}".
func (id Identity) Filename() string {
	return fmt.Sprintf("%d_%d", id.Sheet, int(id.Side))
}

func (id Identity) String() string {
	return fmt.Sprintf("delivery %d (sheet %d, %s)", id.Delivery, id.Sheet, id.Side)
}

// Sequencer counts deliveries for one run. Odd deliveries open a new sheet
// and are fronts, even deliveries are backs. The pairing does not depend on
// whether duplex is enabled on the source, so a simplex run consumes two
// identities per sheet: 1_1, 1_2, 2_1, ...
type Sequencer struct {
	mu         sync.Mutex
	deliveries int
	sheet      int
}

// NewSequencer returns a sequencer with both counters at zero.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next records a delivery and returns its identity.
func (s *Sequencer) Next() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries++
	side := Back
	if s.deliveries%2 != 0 {
		s.sheet++
		side = Front
	}
	return Identity{Delivery: s.deliveries, Sheet: s.sheet, Side: side}
}

// Deliveries returns the number of deliveries recorded so far.
func (s *Sequencer) Deliveries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries
}
