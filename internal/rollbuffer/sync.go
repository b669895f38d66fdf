package rollbuffer

import (
	"runtime"
	"sync"
)

// Status is the two-bit cancel/reset signal carried by a SyncRollBuffer.
// Status bits are only ever mutated while holding the buffer's mutex.
// Cancel is monotonic once set (stays set until the buffer is torn down).
// Reset is one-shot: the consumer clears it on ReleaseAndSignal.
type Status struct {
	Cancel bool
	Reset  bool
}

// Flagged reports whether either bit is set.
func (s Status) Flagged() bool { return s.Cancel || s.Reset }

// SyncRollBuffer wraps a RollBuffer with a mutex, a condition variable, a
// broadcast-vs-signal policy, and a Status. It is single-producer /
// single-consumer: the producer's Append never blocks; the consumer blocks
// in WaitAtLeast for a configurable minimum fill.
type SyncRollBuffer[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buf       *RollBuffer[T]
	status    Status
	broadcast bool // true: Cond.Broadcast on signal; false: Cond.Signal
}

// NewSync creates a SyncRollBuffer with the given fixed capacity. broadcast
// selects whether produced data wakes all waiters (true) or exactly one
// (false) — every stage in this system has exactly one consumer, so false
// is the common case; broadcast is for multi-waiter fan-out.
func NewSync[T any](capacity int, broadcast bool) *SyncRollBuffer[T] {
	s := &SyncRollBuffer[T]{
		buf:       New[T](capacity),
		broadcast: broadcast,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// wake signals or broadcasts depending on policy. Caller must hold the lock.
func (s *SyncRollBuffer[T]) wake() {
	if s.broadcast {
		s.cond.Broadcast()
	} else {
		s.cond.Signal()
	}
}

// Append is the producer-side call: shift-append under lock, unlock, then
// signal and yield. Never blocks.
func (s *SyncRollBuffer[T]) Append(xs []T) {
	s.mu.Lock()
	s.buf.Append(xs)
	s.mu.Unlock()
	s.mu.Lock()
	s.wake()
	s.mu.Unlock()
	runtime.Gosched()
}

// AppendOne is the single-element specialisation of Append.
func (s *SyncRollBuffer[T]) AppendOne(x T) {
	s.Append([]T{x})
}

// Reset acquires the mutex, discards the buffered data, sets the reset bit,
// releases, and signals. Waiters wake immediately and observe the flag.
// Idempotent.
func (s *SyncRollBuffer[T]) Reset() {
	s.mu.Lock()
	s.buf.Reset()
	s.status.Reset = true
	s.mu.Unlock()
	s.mu.Lock()
	s.wake()
	s.mu.Unlock()
}

// Cancel acquires the mutex, sets the cancel bit (monotonic), releases, and
// signals. Does not discard buffered data, but forbids further production
// being meaningfully consumed downstream.
func (s *SyncRollBuffer[T]) Cancel() {
	s.mu.Lock()
	s.status.Cancel = true
	s.mu.Unlock()
	s.mu.Lock()
	s.wake()
	s.mu.Unlock()
}

// Status returns a snapshot of the current status bits.
func (s *SyncRollBuffer[T]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Locked is a guard over the SyncRollBuffer's critical section, returned by
// WaitAtLeast. It must be released on every exit path via Release or
// ReleaseAndSignal; callers must not hold it across blocking I/O.
type Locked[T any] struct {
	owner *SyncRollBuffer[T]
}

// Get returns the valid elements under the held lock.
func (l *Locked[T]) Get() []T { return l.owner.buf.Get() }

// Len returns the current fill under the held lock.
func (l *Locked[T]) Len() int { return l.owner.buf.Len() }

// Append appends under the already-held lock (no separate locking/signal —
// use the owner's Append for producer-side writes from outside the guard).
func (l *Locked[T]) Append(xs []T) { l.owner.buf.Append(xs) }

// Shift shifts the buffer under the already-held lock.
func (l *Locked[T]) Shift(n int) { l.owner.buf.Shift(n) }

// Reset resets the buffer under the already-held lock (does not touch the
// status bits — see SyncRollBuffer.Reset for the signalling variant).
func (l *Locked[T]) Reset() { l.owner.buf.Reset() }

// Status returns the owner's status bits under the held lock.
func (l *Locked[T]) Status() Status { return l.owner.status }

// Release drops the mutex without touching status or waking anyone.
func (l *Locked[T]) Release() {
	l.owner.mu.Unlock()
}

// ReleaseAndSignal clears the one-shot reset bit the consumer has now
// acknowledged, drops the mutex, then signals. Cancel is left set, since it
// is monotonic.
func (l *Locked[T]) ReleaseAndSignal() {
	l.owner.status.Reset = false
	l.owner.mu.Unlock()
	l.owner.mu.Lock()
	l.owner.wake()
	l.owner.mu.Unlock()
}

// ClearReset clears the one-shot reset bit under the held lock. Call before
// ReleaseAndSignal once the consumer has acted on the reset.
func (l *Locked[T]) ClearReset() {
	l.owner.status.Reset = false
}

// WaitAtLeast acquires the mutex, then waits while head < n and status is
// not flagged, then returns a Locked guard over the buffer. The caller must
// release the guard (Release or ReleaseAndSignal) before doing any blocking
// I/O or risk deadlock.
func (s *SyncRollBuffer[T]) WaitAtLeast(n int) *Locked[T] {
	s.mu.Lock()
	for s.buf.Len() < n && !s.status.Flagged() {
		s.cond.Wait()
	}
	return &Locked[T]{owner: s}
}
