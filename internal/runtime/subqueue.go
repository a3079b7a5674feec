package runtime

import (
	"sync"
)

// Delivery is what a subscriber reads from a SubQueue. Missed is the number of
// older events that were dropped from this subscriber's queue since the
// previous delivery.
type Delivery[T any] struct {
	Value  T
	Missed int
}

// SubQueue is a per-subscriber queue feeding a single consumer channel.
// With a positive capacity the queue is bounded and drops its oldest entry
// when full, so a slow consumer always resumes from the freshest events and
// is told how many it skipped.
type SubQueue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []T
	capacity int
	missed   int
	dropped  uint64
	closed   bool

	outCh  chan Delivery[T] // consumer reads from this
	done   chan struct{}
	paused bool // gate dispatch until the subscriber is registered
}

// NewSubQueue creates a paused queue. capacity <= 0 means unbounded.
func NewSubQueue[T any](capacity int) *SubQueue[T] {
	sq := &SubQueue[T]{
		capacity: capacity,
		outCh:    make(chan Delivery[T]),
		done:     make(chan struct{}),
		paused:   true,
	}
	sq.cond = sync.NewCond(&sq.mu)
	go sq.dispatch()
	return sq
}

// Channel exposed to subscriber.
func (sq *SubQueue[T]) Chan() <-chan Delivery[T] { return sq.outCh }

// Enqueue appends to the in-memory queue and wakes dispatcher. When the queue
// is at capacity the oldest queued event is discarded first.
func (sq *SubQueue[T]) Enqueue(ev T) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.closed {
		return
	}
	if sq.capacity > 0 && len(sq.queue) >= sq.capacity {
		var zero T
		sq.queue[0] = zero
		sq.queue = sq.queue[1:]
		sq.missed++
		sq.dropped++
	}
	sq.queue = append(sq.queue, ev)
	sq.cond.Signal()
}

// Dropped returns the total number of events discarded by overflow.
func (sq *SubQueue[T]) Dropped() uint64 {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.dropped
}

// Pause/Resume gates dispatching.
func (sq *SubQueue[T]) SetPaused(v bool) {
	sq.mu.Lock()
	sq.paused = v
	sq.cond.Broadcast()
	sq.mu.Unlock()
}

// Close stops the dispatcher and closes the out channel. Queued events that
// were not yet read are discarded.
func (sq *SubQueue[T]) Close() {
	sq.mu.Lock()
	if !sq.closed {
		sq.closed = true
		close(sq.done)
	}
	sq.cond.Broadcast()
	sq.mu.Unlock()
}

func (sq *SubQueue[T]) dispatch() {
	defer close(sq.outCh)
	for {
		sq.mu.Lock()
		for !sq.closed && (sq.paused || len(sq.queue) == 0) {
			sq.cond.Wait()
		}
		if sq.closed {
			sq.mu.Unlock()
			return
		}
		d := Delivery[T]{Value: sq.queue[0], Missed: sq.missed}
		// pop
		var zero T
		sq.queue[0] = zero
		sq.queue = sq.queue[1:]
		sq.missed = 0
		sq.mu.Unlock()

		// Send to subscriber (blocks only on the reader).
		select {
		case sq.outCh <- d:
		case <-sq.done:
			return
		}
	}
}
