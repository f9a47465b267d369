// Package clock supplies the whole-second timestamps the coordinator uses
// for rate windows and expiry.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns monotonic whole seconds. Values never decrease.
type Clock interface {
	Now() int64
}

// Monotonic counts whole seconds since it was created.
type Monotonic struct {
	start time.Time
}

// NewMonotonic starts a clock at zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Now returns the number of whole seconds elapsed since NewMonotonic.
func (m *Monotonic) Now() int64 {
	return int64(time.Since(m.start) / time.Second)
}

// Manual is a clock moved by hand, used by tests and simulations.
type Manual struct {
	now atomic.Int64
}

// NewManual returns a clock reading start.
func NewManual(start int64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

func (m *Manual) Now() int64 { return m.now.Load() }

// Advance moves the clock forward by d whole seconds.
func (m *Manual) Advance(d int64) {
	if d > 0 {
		m.now.Add(d)
	}
}

// Set jumps to t if t is not in the past.
func (m *Manual) Set(t int64) {
	for {
		cur := m.now.Load()
		if t < cur || m.now.CompareAndSwap(cur, t) {
			return
		}
	}
}
