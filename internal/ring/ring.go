// Package ring provides a bounded channel with overwrite-oldest semantics.
//
// Telemetry fan-out must never let a slow consumer back-pressure the radio
// path, so producers always succeed: when a buffer is full the oldest
// element is discarded and counted.
package ring

import "sync/atomic"

// Ring wraps a buffered channel so that producers never block indefinitely.
// Consumers read from C() like a normal channel until it is closed.
type Ring[T any] struct {
	ch       chan T
	pushed   atomic.Int64
	dropped  atomic.Int64
	received atomic.Int64
}

// Stats is a snapshot of ring counters. Received is only tracked through
// Receive; reads via C() bypass it.
type Stats struct {
	Pushed   int64
	Dropped  int64
	Received int64
}

// New creates a Ring with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ring: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// Put inserts v, discarding the oldest buffered element when full.
// It never blocks. Returns true when an element was discarded.
// Put panics if the ring is closed.
func (r *Ring[T]) Put(v T) bool {
	dropped := false
	for {
		select {
		case r.ch <- v:
			r.pushed.Add(1)
			return dropped
		default:
		}
		// Full: evict one and retry. The retry loop keeps this safe with
		// concurrent producers, where a single evict-then-send could block.
		select {
		case <-r.ch:
			r.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// TryPut inserts v only if there is room. Returns false when full.
func (r *Ring[T]) TryPut(v T) bool {
	select {
	case r.ch <- v:
		r.pushed.Add(1)
		return true
	default:
		return false
	}
}

// C returns the receive side. Consumers may range over it until Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Receive blocks until a value is available or the ring is closed.
func (r *Ring[T]) Receive() (v T, ok bool) {
	v, ok = <-r.ch
	if ok {
		r.received.Add(1)
	}
	return
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return len(r.ch) }

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int { return cap(r.ch) }

// Close closes the ring. Put after Close panics, as for any Go channel.
func (r *Ring[T]) Close() { close(r.ch) }

// Stats returns a snapshot of the counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Pushed:   r.pushed.Load(),
		Dropped:  r.dropped.Load(),
		Received: r.received.Load(),
	}
}
