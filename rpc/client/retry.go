package client

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/kvcore/lib/kv"
)

// handleFailure records a failed attempt and asks the retry strategy of the
// request what to do. A retry keeps the original deadline: a backoff that
// would end after the deadline gives up right away.
func (c *Core) handleFailure(cl *call, err error, info attemptInfo) {
	if cl.future.IsDone() {
		return
	}
	req := cl.req

	cl.mu.Lock()
	cl.last = info
	cl.inFlight = 0
	cl.mu.Unlock()

	req.RecordFailure(err)
	state := req.RetryState()
	kind := kv.KindOf(err)

	decision := req.Retry.ShouldRetry(state, kind)
	if decision.Retry && time.Now().Add(decision.After).Before(req.Deadline()) {
		retriesTotal.Inc()
		req.Span.SetAttribute("kv.retry_reason", kind.String())
		Logger.Debugf("Retrying %s %q after attempt %d (%s) in %s", req.Op.Kind, req.Key, state.Attempts, kind, decision.After)
		cl.scheduleRetry(decision.After)
		return
	}

	if state.Attempts > 1 {
		err = giveUpError(err, state.Attempts)
	}
	Logger.Debugf("Giving up on %s %q after %d attempts: %v", req.Op.Kind, req.Key, state.Attempts, err)
	cl.fail(err)
}

// giveUpError wraps the last error with the number of attempts, the kind of
// the last error is kept
func giveUpError(err error, attempts int) error {
	return kv.WrapError(kv.KindOf(err), err, fmt.Sprintf("gave up after %d attempts", attempts))
}
