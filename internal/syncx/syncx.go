// Package syncx provides the synchronization primitives the pipeline needs
// beyond the standard library: copy-on-write snapshots for configuration
// read from real-time goroutines, and single-flight gates for slow device
// operations.
package syncx

import (
	"errors"
	"sync/atomic"
)

// ErrBusy is returned by Gate.Do when the gated operation is already running.
var ErrBusy = errors.New("operation already in progress")

// Snapshot holds an immutable value replaced wholesale on update, so a
// reader always observes one complete, consistent copy. Readers never take
// a lock; writers pay for the copy.
type Snapshot[T any] struct {
	p atomic.Pointer[T]
}

// NewSnapshot creates a snapshot holding v.
func NewSnapshot[T any](v T) *Snapshot[T] {
	s := &Snapshot[T]{}
	s.p.Store(&v)
	return s
}

// Load returns the current value.
func (s *Snapshot[T]) Load() T {
	return *s.p.Load()
}

// Store replaces the value.
func (s *Snapshot[T]) Store(v T) {
	s.p.Store(&v)
}

// Update applies fn to a copy of the current value and installs the result,
// retrying until the swap wins. fn must be pure. Returns the installed value.
func (s *Snapshot[T]) Update(fn func(T) T) T {
	for {
		old := s.p.Load()
		next := fn(*old)
		if s.p.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// Gate serializes an operation that must not run concurrently with itself,
// such as device reselection. Acquisition never waits: callers either get
// the gate or are told it is held.
type Gate struct {
	busy atomic.Bool
}

// TryAcquire takes the gate, reporting false if it is already held.
func (g *Gate) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the gate.
func (g *Gate) Release() {
	g.busy.Store(false)
}

// Held reports whether the gate is currently taken.
func (g *Gate) Held() bool {
	return g.busy.Load()
}

// Do runs fn while holding the gate, or returns ErrBusy without running it.
func (g *Gate) Do(fn func() error) error {
	if !g.TryAcquire() {
		return ErrBusy
	}
	defer g.Release()
	return fn()
}
