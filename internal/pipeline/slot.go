// Package pipeline drives a telemetry source on a dedicated goroutine and
// publishes the latest frame and session metadata into single-slot
// broadcast values that any number of readers can poll or wait on without
// ever applying back-pressure to the read loop.
package pipeline

import "sync"

// Slot holds the most recently published value of T and lets any number of
// goroutines observe it without blocking the writer. Unlike a per-client
// fan-out broadcaster, a Slot has exactly one value: a late reader simply
// sees the newest one, never a backlog.
type Slot[T any] struct {
	mu      sync.Mutex
	val     T
	version uint64
	closed  bool
	waiters []chan struct{}
}

// NewSlot returns an empty Slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{}
}

// Set publishes val, bumping the slot's version and waking any goroutines
// blocked in Wait.
func (s *Slot[T]) Set(val T) {
	s.mu.Lock()
	s.val = val
	s.version++
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Get returns the current value and the version it was published under.
func (s *Slot[T]) Get() (T, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val, s.version
}

// Close marks the slot closed and releases any pending waiters. Get
// continues to return the last published value after Close.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	s.closed = true
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Wait blocks until the slot's version advances past since, the slot is
// closed, or ctx is done, then returns the current value, its version, and
// whether the slot is closed.
func (s *Slot[T]) Wait(ctx waiter, since uint64) (T, uint64, bool) {
	s.mu.Lock()
	if s.version != since || s.closed {
		val, ver, closed := s.val, s.version, s.closed
		s.mu.Unlock()
		return val, ver, closed
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val, s.version, s.closed
}

// waiter is the narrow slice of context.Context that Wait needs, so tests
// can drive it without importing context for trivial cases.
type waiter interface {
	Done() <-chan struct{}
}
