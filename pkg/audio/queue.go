package audio

import (
	"errors"
	"sync/atomic"
)

// ErrOverflow is reported when a bounded queue was full and its oldest entry
// had to be dropped to make room.
var ErrOverflow = errors.New("audio: queue overflow, oldest entry dropped")

// Queue is a bounded FIFO handoff between two goroutines that never blocks
// the producer. When the queue is full, Push evicts the oldest entry: keeping
// latency bounded takes priority over completeness.
//
// The queue is backed by a buffered channel, so its length can never exceed
// the configured capacity. It is intended for a single producer and a single
// consumer; with more producers it stays safe but may evict more than once
// per Push.
type Queue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity entries. A capacity below
// one is raised to one.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Push appends v without blocking. If the queue was full, the oldest entry is
// removed and returned with evicted set to true so the caller can recycle it.
func (q *Queue[T]) Push(v T) (old T, evicted bool) {
	for {
		select {
		case q.ch <- v:
			return old, evicted
		default:
		}
		select {
		case old = <-q.ch:
			evicted = true
			q.dropped.Add(1)
		default:
			// The consumer emptied a slot between the two selects.
		}
	}
}

// Pop removes and returns the oldest entry. ok is false if the queue is empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	select {
	case v = <-q.ch:
		return v, true
	default:
		return v, false
	}
}

// C exposes the receive side so consumers can wait for entries in a select.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue bound.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Dropped returns how many entries were evicted since creation.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Clear removes all queued entries, passing each to fn if fn is non-nil.
// It returns the number of entries removed.
func (q *Queue[T]) Clear(fn func(T)) int {
	n := 0
	for {
		select {
		case v := <-q.ch:
			n++
			if fn != nil {
				fn(v)
			}
		default:
			return n
		}
	}
}
