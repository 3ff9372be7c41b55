package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// MPSC is a lock-free multi-producer single-consumer queue. Producers append to
// a linked list with atomic operations, a single goroutine moves the items to
// the channel returned by Recv.
//
// Guarantees:
//   - Unbounded: Push never blocks
//   - Items of one producer are delivered in the order they were pushed
//   - Items pushed before Close are still delivered, then the channel is closed
type MPSC[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan T
	closed atomic.Bool
	done   chan struct{}

	// wakes the consumer when it waits for new items
	mu   sync.Mutex
	cond *sync.Cond
}

// NewMPSC creates a new queue and starts its consumer goroutine
func NewMPSC[T any]() *MPSC[T] {
	sentinel := &node[T]{}

	q := &MPSC[T]{
		out:  make(chan T),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()
	return q
}

// Push appends an item. It returns false if the queue is closed.
//
// Thread-safety: safe for concurrent use.
func (q *MPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	n := &node[T]{value: value}
	var backoff uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// may fail if another producer already moved the tail forward
				q.tail.CompareAndSwap(tail, n)
				q.signal()
				return true
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// spin first, then yield under contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// Recv returns the channel the items are delivered on
func (q *MPSC[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting items. Items already pushed are still delivered.
func (q *MPSC[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// Done is closed once the consumer delivered every item and closed Recv
func (q *MPSC[T]) Done() <-chan struct{} {
	return q.done
}

// IsClosed reports whether Close was called
func (q *MPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len counts the queued items. O(n), for diagnostics only.
func (q *MPSC[T]) Len() int {
	count := 0
	for cur := q.head.Load().next.Load(); cur != nil; cur = cur.next.Load() {
		count++
	}
	return count
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// signal wakes the consumer. Holding the lock avoids a lost wakeup between the
// consumer's emptiness check and its Wait.
func (q *MPSC[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume moves items from the linked list to the output channel
func (q *MPSC[T]) consume() {
	defer close(q.done)
	defer close(q.out)

	var zero T
	for {
		head := q.head.Load()
		next := head.next.Load()
		if next != nil {
			value := next.value
			q.head.Store(next)
			q.out <- value
			// release the value for the gc, next is the new sentinel
			next.value = zero
			continue
		}

		q.mu.Lock()
		for q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		empty := q.head.Load().next.Load() == nil
		q.mu.Unlock()

		if empty && q.closed.Load() {
			return
		}
	}
}
