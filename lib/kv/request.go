package kv

import (
	"sync"
	"sync/atomic"
	"time"
)

// --------------------------------------------------------------------------
// Retry Contract
// --------------------------------------------------------------------------

// RetryState is the retry bookkeeping attached to an in-flight request.
// It is only mutated by the retry orchestrator.
type RetryState struct {
	Attempts   int           // attempts made so far (the first attempt counts)
	Elapsed    time.Duration // time since the request was created
	LastKind   ErrorKind     // classification of the last failure
	LastErr    error         // last failure
	Idempotent bool          // whether the operation may be applied twice safely
}

// RetryDecision is the answer of a RetryStrategy.
type RetryDecision struct {
	Retry bool
	After time.Duration
}

// GiveUp is the decision not to retry.
var GiveUp = RetryDecision{}

// RetryAfter is the decision to retry after d.
func RetryAfter(d time.Duration) RetryDecision {
	return RetryDecision{Retry: true, After: d}
}

// RetryStrategy decides whether a failed attempt is retried.
// Implementations must be safe for concurrent use.
type RetryStrategy interface {
	ShouldRetry(state RetryState, kind ErrorKind) RetryDecision
}

// --------------------------------------------------------------------------
// Request
// --------------------------------------------------------------------------

// Request describes one operation. The caller fills in the exported fields and
// hands the request to the core; from then on the core owns it and the caller
// only holds the returned Future.
type Request struct {
	Keyspace   Keyspace
	Key        string
	Op         Operation
	Cas        uint64 // 0 = no CAS check
	Expiry     Expiry
	Durability DurabilityRequirement
	Timeout    time.Duration // budget measured from creation, 0 times out immediately
	Retry      RetryStrategy // nil = the core's default strategy
	Span       RequestSpan   // optional, ended by the core when the request completes
	Target     string        // fixed node, bypasses key routing when set

	createdAt time.Time
	cancelled atomic.Bool

	mu    sync.Mutex
	retry RetryState
}

// NewRequest creates a request and stamps its creation time. The timeout
// budget starts now, not when the request reaches the network.
func NewRequest(keyspace Keyspace, key string, op Operation) *Request {
	return &Request{
		Keyspace:  keyspace,
		Key:       key,
		Op:        op,
		createdAt: time.Now(),
		retry: RetryState{
			Idempotent: op.Kind.IsIdempotent(),
		},
	}
}

// CreatedAt returns the creation time of the request.
func (r *Request) CreatedAt() time.Time {
	return r.createdAt
}

// Deadline returns the point in time after which the request has timed out.
func (r *Request) Deadline() time.Time {
	return r.createdAt.Add(r.Timeout)
}

// Remaining returns the remaining timeout budget at now.
func (r *Request) Remaining(now time.Time) time.Duration {
	return r.Deadline().Sub(now)
}

// MarkCancelled flags the request as cancelled.
// It returns false if it was already flagged.
func (r *Request) MarkCancelled() bool {
	return r.cancelled.CompareAndSwap(false, true)
}

// IsCancelled reports whether the request was cancelled or timed out.
func (r *Request) IsCancelled() bool {
	return r.cancelled.Load()
}

// RetryState returns a snapshot of the retry state.
func (r *Request) RetryState() RetryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.retry
	s.Elapsed = time.Since(r.createdAt)
	return s
}

// RecordAttempt increments the attempt counter and returns the new count.
// The counter only ever increases.
func (r *Request) RecordAttempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retry.Attempts++
	return r.retry.Attempts
}

// RecordFailure stores the classification of the last failure.
func (r *Request) RecordFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retry.LastErr = err
	r.retry.LastKind = KindOf(err)
}

// ErrorContext builds the diagnostic context for this request.
func (r *Request) ErrorContext() ErrorContext {
	s := r.RetryState()
	return ErrorContext{
		Keyspace: r.Keyspace.String(),
		Key:      r.Key,
		Op:       r.Op.Kind,
		Attempts: s.Attempts,
		Elapsed:  s.Elapsed,
	}
}
