package kv

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	futurePending uint32 = iota
	futureCompleted
)

// Future is the single completion primitive handed to callers of the core.
// It transitions exactly once from pending to completed, either with a result
// or with an error. Every further attempt to complete it is ignored, which is
// what makes late and duplicate responses harmless.
//
// Thread-safety: all methods are safe for concurrent use.
type Future struct {
	state atomic.Uint32
	done  chan struct{}

	// written once before done is closed
	result *Result
	err    error

	mu        sync.Mutex
	fired     bool
	callbacks []func(*Result, error)
}

// NewFuture creates a new pending future.
func NewFuture() *Future {
	return &Future{
		done: make(chan struct{}),
	}
}

// Complete resolves the future. It returns false if the future was already
// completed, in which case nothing changes. Continuations registered with
// OnComplete run before Done is closed, so a waiter never observes a future
// whose continuations are still pending.
func (f *Future) Complete(res *Result, err error) bool {
	if !f.state.CompareAndSwap(futurePending, futureCompleted) {
		return false
	}

	if err != nil {
		res = nil
	}
	f.result = res
	f.err = err

	f.mu.Lock()
	callbacks := f.callbacks
	f.callbacks = nil
	f.fired = true
	f.mu.Unlock()

	// run continuations outside the lock
	for _, cb := range callbacks {
		cb(res, err)
	}
	close(f.done)
	return true
}

// Cancel completes the future with a Cancelled error.
// It returns false if the future was already completed.
func (f *Future) Cancel() bool {
	return f.Complete(nil, NewError(KindCancelled, "request cancelled by caller"))
}

// Done returns a channel that is closed once the future is completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future is completed.
func (f *Future) IsDone() bool {
	return f.state.Load() == futureCompleted
}

// Wait blocks until the future is completed or the context is done.
// Returning because of the context does not cancel the request, use Cancel for that.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get blocks until the future is completed.
func (f *Future) Get() (*Result, error) {
	<-f.done
	return f.result, f.err
}

// Result returns the outcome without blocking. ok is false while the future
// is still pending.
func (f *Future) Result() (res *Result, err error, ok bool) {
	select {
	case <-f.done:
		return f.result, f.err, true
	default:
		return nil, nil, false
	}
}

// OnComplete registers a continuation that runs once the future is completed.
// If the future is already completed, fn runs immediately on the calling goroutine.
// Continuations must not wait on the future itself.
func (f *Future) OnComplete(fn func(*Result, error)) {
	f.mu.Lock()
	if f.fired {
		f.mu.Unlock()
		fn(f.result, f.err)
		return
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}
