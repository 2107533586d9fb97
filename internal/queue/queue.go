// Package queue provides an unbounded-by-default FIFO used between the
// session loop and its consumers.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once the queue is closed and empty.
var ErrClosed = errors.New("queue closed")

// Queue is a thread-safe ring buffer that doubles its capacity when full.
// With a non-zero limit it stops growing at the limit and drops the oldest
// item to make room, counting each drop.
type Queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int // read position
	count  int
	limit  int
	closed bool

	ready chan struct{} // holds a token while items may be available
	done  chan struct{} // closed by Close

	// Stats
	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// New creates a queue with the given initial capacity. A limit of 0 means
// the queue grows without bound.
func New[T any](initialCapacity, limit int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit > 0 && initialCapacity > limit {
		initialCapacity = limit
	}
	return &Queue[T]{
		buf:   make([]T, initialCapacity),
		limit: limit,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if q.count == len(q.buf) {
		if q.limit > 0 && len(q.buf) >= q.limit {
			q.popLocked()
			q.popped--
			q.dropped++
		} else {
			q.grow()
		}
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.pushed++
	q.signal()
	return true
}

// Pop removes the oldest item, waiting until one is available, the queue is
// closed and drained (ErrClosed), or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if q.count > 0 {
			item := q.popLocked()
			if q.count > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()

		var zero T
		if closed {
			return zero, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryPop removes the oldest item without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// Drain removes up to max items (all when max <= 0).
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.popLocked()
	}
	return out
}

// Close stops further pushes. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:    q.count,
		Capacity: len(q.buf),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// Stats contains queue statistics.
type Stats struct {
	Count    int   `json:"count"`
	Capacity int   `json:"capacity"`
	Pushed   int64 `json:"pushed"`
	Popped   int64 `json:"popped"`
	Dropped  int64 `json:"dropped"`
	Resizes  int   `json:"resizes"`
}

// popLocked removes the head item. Must be called with lock held and count > 0.
func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.popped++
	return item
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// grow doubles the capacity, bounded by limit. Must be called with lock held.
func (q *Queue[T]) grow() {
	newCap := len(q.buf) * 2
	if q.limit > 0 && newCap > q.limit {
		newCap = q.limit
	}
	newBuf := make([]T, newCap)

	// Unwrap [head...end) + [0...tail) into the front of the new buffer.
	n := copy(newBuf, q.buf[q.head:])
	if n < q.count {
		copy(newBuf[n:], q.buf[:q.count-n])
	}

	q.buf = newBuf
	q.head = 0
	q.resizes++
}
