// Package clock provides the time source used for processing-time
// accounting and a monotonic id sequence.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System is the wall clock.
var System Clock = systemClock{}

// Manual is a Clock that moves only when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Sequence hands out strictly increasing ids, safe for concurrent use.
type Sequence struct {
	atomic.Uint64
}

func NewSequence(init uint64) *Sequence {
	var s Sequence
	s.Store(init)
	return &s
}

// Val returns the last id handed out.
func (s *Sequence) Val() uint64 {
	return s.Load()
}

// Next returns a new id.
func (s *Sequence) Next() uint64 {
	return s.Add(1)
}
