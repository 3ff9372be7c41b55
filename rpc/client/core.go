package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvcore/lib/durability"
	"github.com/ValentinKolb/kvcore/lib/kv"
	"github.com/ValentinKolb/kvcore/lib/retry"
	"github.com/ValentinKolb/kvcore/lib/topology"
	"github.com/ValentinKolb/kvcore/rpc/common"
	"github.com/ValentinKolb/kvcore/rpc/serializer"
	"github.com/ValentinKolb/kvcore/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("dispatch")

var (
	retriesTotal    = metrics.NewCounter("kvcore_retries_total")
	lateFramesTotal = metrics.NewCounter("kvcore_late_responses_total")
	pendingRequests = metrics.NewCounter("kvcore_pending_requests")
)

// maxKeyLength is the longest document id the protocol accepts
const maxKeyLength = 250

// --------------------------------------------------------------------------
// Core
// --------------------------------------------------------------------------

// Core dispatches requests to the cluster, matches the responses, retries
// failed attempts and verifies durability. It is the single shared service a
// client session owns: all collections of a session use the same Core.
//
// Thread-safety: all methods are safe for concurrent use.
type Core struct {
	id         string
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	router     topology.Router
	retry      kv.RetryStrategy
	tracer     kv.RequestTracer
	poller     *durability.Poller

	// pending holds one entry per attempt that was written to the wire, keyed
	// by correlation id. Ids are never reused.
	pending *xsync.MapOf[uint64, *pendingEntry]
	nextID  atomic.Uint64

	// calls holds every call that has not completed, including calls that
	// wait for a retry and have no pending entry
	calls  *xsync.MapOf[*call, struct{}]
	closed atomic.Bool
}

// pendingEntry is the pending response of one attempt
type pendingEntry struct {
	call      *call
	connID    uint64
	node      string
	partition uint16
	sentAt    time.Time
}

// CoreOption configures optional collaborators of a Core
type CoreOption func(*Core)

// WithRouter replaces the static topology built from the configuration
func WithRouter(router topology.Router) CoreOption {
	return func(c *Core) { c.router = router }
}

// WithRetryStrategy replaces the default best effort strategy
func WithRetryStrategy(strategy kv.RetryStrategy) CoreOption {
	return func(c *Core) { c.retry = strategy }
}

// WithTracer sets the tracer that creates a span per request
func WithTracer(tracer kv.RequestTracer) CoreOption {
	return func(c *Core) { c.tracer = tracer }
}

// NewCore creates a new client core and connects the transport.
// It takes a config, a transport and a serializer as parameters.
//
// Usage:
//
//	core, err := client.NewCore(
//		common.DefaultClientConfig("localhost:11210"),
//		tcp.NewTCPClientTransport(),
//		serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//		panic(err)
//	}
//	defer core.Close()
func NewCore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
	opts ...CoreOption,
) (*Core, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	c := &Core{
		id:         uuid.NewString(),
		config:     config,
		transport:  transport,
		serializer: serializer,
		tracer:     kv.NoopTracer{},
		pending:    xsync.NewMapOf[uint64, *pendingEntry](),
		calls:      xsync.NewMapOf[*call, struct{}](),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.router == nil {
		m, err := topology.NewMap(config.Transport.Endpoints, config.NumPartitions, config.NumReplicas)
		if err != nil {
			return nil, fmt.Errorf("failed to create topology: %w", err)
		}
		c.router = topology.NewProvider(m)
	}
	if c.retry == nil {
		c.retry = retry.NewBestEffort(retry.BestEffortConfig{
			InitialBackoff: config.Retry.InitialBackoff,
			MaxBackoff:     config.Retry.MaxBackoff,
			MaxAttempts:    config.Retry.MaxAttempts,
		})
	}
	c.poller = durability.NewPoller(c, durability.Config{
		PollInterval:            config.Durability.PollInterval,
		MaxOutstandingPerTarget: config.Durability.MaxOutstandingPerTarget,
	})

	if err := transport.Connect(config.Transport, c.handleFrame, c.handleConnLost); err != nil {
		return nil, fmt.Errorf("failed to connect transport: %w", err)
	}

	Logger.Infof("Created client core %s", c.id)
	Logger.Debugf("%s", config.String())
	return c, nil
}

// ID returns the id of the core, it is part of every error context
func (c *Core) ID() string {
	return c.id
}

// Router returns the topology the core routes with
func (c *Core) Router() topology.Router {
	return c.router
}

// Config returns the configuration of the core
func (c *Core) Config() common.ClientConfig {
	return c.config
}

// Submit hands req to the core and returns the future of its result. It never
// blocks on I/O: validation failures and immediate timeouts complete the
// future before Submit returns, everything else completes asynchronously.
//
// The core owns req from now on. Cancelling the future cancels the request.
func (c *Core) Submit(req *kv.Request) *kv.Future {
	cl := c.newCall(req)

	if c.closed.Load() {
		cl.fail(kv.NewError(kv.KindCancelled, "client is closed"))
		return cl.future
	}
	if err := c.validate(req); err != nil {
		cl.fail(err)
		return cl.future
	}

	// the deadline is armed once and never restarted by retries
	remaining := req.Remaining(time.Now())
	if remaining <= 0 {
		cl.timeout()
		return cl.future
	}
	cl.armDeadline(remaining)

	c.dispatch(cl)
	return cl.future
}

// Ping sends a noop to node and waits for the answer
func (c *Core) Ping(ctx context.Context, node string) (time.Duration, error) {
	req := kv.NewRequest(kv.Keyspace{Bucket: c.config.Bucket}, "", kv.Operation{Kind: kv.OpNoop})
	req.Target = node
	req.Timeout = c.timeoutFor(ctx)
	req.Retry = retry.FailFast{}

	start := time.Now()
	if _, err := await(ctx, c.Submit(req)); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Close fails all requests that have not completed, in flight or waiting for
// a retry, and closes the transport
func (c *Core) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.calls.Range(func(cl *call, _ struct{}) bool {
		cl.fail(kv.NewError(kv.KindCancelled, "client is closed"))
		return true
	})
	Logger.Infof("Closing client core %s", c.id)
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see durability.Observer)
// --------------------------------------------------------------------------

func (c *Core) ObserveSeqNo(ctx context.Context, node string, token kv.MutationToken) (durability.ObserveResult, error) {
	keyspace, err := kv.ParseKeyspace(token.Keyspace)
	if err != nil {
		keyspace = kv.Keyspace{Bucket: c.config.Bucket}
	}

	req := kv.NewRequest(keyspace, "", kv.Operation{Kind: kv.OpObserveSeqNo, Token: token})
	req.Target = node
	req.Timeout = c.timeoutFor(ctx)
	req.Retry = retry.FailFast{}

	res, err := await(ctx, c.Submit(req))
	if err != nil {
		return durability.ObserveResult{}, err
	}
	return durability.ObserveResult{
		Node:           node,
		PartitionUUID:  res.Observe.PartitionUUID,
		CurrentSeqNo:   res.Observe.CurrentSeqNo,
		PersistedSeqNo: res.Observe.PersistedSeqNo,
	}, nil
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// validate checks a request before anything is sent
func (c *Core) validate(req *kv.Request) error {
	kind := req.Op.Kind
	switch {
	case kind == kv.OpUnknown || kind > kv.OpNoop:
		return kv.Errorf(kv.KindInvalidArgument, "unknown operation %d", kind)
	case kind.IsKeyed() && req.Key == "":
		return kv.NewError(kv.KindInvalidArgument, "document id must not be empty")
	case len(req.Key) > maxKeyLength:
		return kv.Errorf(kv.KindInvalidArgument, "document id is %d bytes long, the limit is %d", len(req.Key), maxKeyLength)
	case kind.RequiresValue() && req.Op.Value.Data == nil:
		return kv.Errorf(kv.KindInvalidArgument, "%s requires a value", kind)
	case !kind.IsKeyed() && req.Target == "":
		return kv.Errorf(kv.KindInvalidArgument, "%s requires a target node", kind)
	case kind == kv.OpUnlock && req.Cas == 0:
		return kv.NewError(kv.KindInvalidArgument, "unlock requires the cas returned by get and lock")
	}

	if !req.Durability.IsNone() && !kind.IsMutation() {
		return kv.Errorf(kv.KindInvalidArgument, "durability %s is not allowed on %s", req.Durability, kind)
	}
	if err := req.Durability.Validate(c.router.NumReplicas()); err != nil {
		return err
	}
	return nil
}

// dispatch sends one attempt of cl. Failures before the frame is written take
// the same retry path as failures reported by the node.
func (c *Core) dispatch(cl *call) {
	if cl.future.IsDone() {
		return
	}
	if c.closed.Load() {
		cl.fail(kv.NewError(kv.KindCancelled, "client is closed"))
		return
	}
	req := cl.req
	attempt := req.RecordAttempt()

	// Route the request
	partition, node, err := c.route(req)
	if err != nil {
		c.handleFailure(cl, err, attemptInfo{node: node})
		return
	}
	info := attemptInfo{node: node, partition: partition}
	req.Span.SetAttribute("kv.attempt", attempt)
	req.Span.SetAttribute("kv.node", node)

	// Encode the request
	payload, err := c.serializer.Serialize(*encodeRequest(req, c.config.Bucket, time.Now()))
	if err != nil {
		c.handleFailure(cl, kv.WrapError(kv.KindEncodingFailure, err, "failed to serialize request"), info)
		return
	}

	// Borrow a connection
	conn, err := c.transport.Acquire(node)
	if err != nil {
		c.handleFailure(cl, kv.WrapError(kv.KindNodeUnavailable, err, "no connection"), info)
		return
	}
	defer c.transport.Release(conn)
	if !conn.Healthy() {
		c.handleFailure(cl, kv.Errorf(kv.KindNodeUnavailable, "connection %d to %s is broken", conn.ID(), node), info)
		return
	}

	// Register the pending entry before the write, the response may arrive
	// before WriteFrame returns
	id := c.nextID.Add(1)
	info.correlationID = id
	c.pending.Store(id, &pendingEntry{
		call:      cl,
		connID:    conn.ID(),
		node:      node,
		partition: partition,
		sentAt:    time.Now(),
	})
	cl.setInFlight(id)

	// a cancel between registering and here may have missed the entry
	if cl.future.IsDone() {
		c.pending.Delete(id)
		return
	}

	// a failed write may still have put part or all of the frame on the wire
	if err := conn.WriteFrame(partition, id, payload); err != nil {
		if _, ok := c.pending.LoadAndDelete(id); ok {
			c.handleFailure(cl, kv.WrapError(kv.KindRetryable, err, "failed to write request"), info)
		}
	}
}

// route resolves the node and partition of a request
func (c *Core) route(req *kv.Request) (uint16, string, error) {
	switch {
	case req.Op.Kind == kv.OpObserveSeqNo:
		return req.Op.Token.PartitionID, req.Target, nil
	case req.Target != "" && !req.Op.Kind.IsKeyed():
		return 0, req.Target, nil
	case req.Target != "":
		return topology.PartitionForKey([]byte(req.Key), c.config.NumPartitions), req.Target, nil
	default:
		return c.router.RouteKey([]byte(req.Key))
	}
}

// timeoutFor derives a request timeout from the deadline of ctx
func (c *Core) timeoutFor(ctx context.Context) time.Duration {
	timeout := c.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	return timeout
}

// --------------------------------------------------------------------------
// Call
// --------------------------------------------------------------------------

// call is the state the core keeps for one submitted request across all of
// its attempts
type call struct {
	core   *Core
	req    *kv.Request
	future *kv.Future
	start  time.Time

	// durable is set once the mutation succeeded and durability is polled,
	// from then on the deadline yields a DurabilityTimeout
	durable atomic.Bool

	mu       sync.Mutex
	deadline *time.Timer
	backoff  *time.Timer
	inFlight uint64 // correlation id of the current attempt, 0 = none
	last     attemptInfo
}

// attemptInfo describes where the last attempt went
type attemptInfo struct {
	node          string
	partition     uint16
	correlationID uint64
	status        common.Status
	body          []byte
}

// newCall wraps req and installs the completion hook
func (c *Core) newCall(req *kv.Request) *call {
	if req.Retry == nil {
		req.Retry = c.retry
	}
	if req.Span == nil {
		req.Span = c.tracer.RequestSpan(req.Op.Kind.String(), nil)
	}

	cl := &call{
		core:   c,
		req:    req,
		future: kv.NewFuture(),
		start:  time.Now(),
	}
	pendingRequests.Inc()
	c.calls.Store(cl, struct{}{})

	// runs exactly once, for success, failure, timeout and cancellation alike
	cl.future.OnComplete(cl.finish)
	return cl
}

// armDeadline starts the request deadline timer
func (cl *call) armDeadline(d time.Duration) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.future.IsDone() {
		return
	}
	cl.deadline = time.AfterFunc(d, cl.timeout)
}

// setInFlight records the correlation id of the current attempt
func (cl *call) setInFlight(id uint64) {
	cl.mu.Lock()
	cl.inFlight = id
	cl.mu.Unlock()
}

// scheduleRetry re-enters dispatch after d unless the call completes first
func (cl *call) scheduleRetry(d time.Duration) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.future.IsDone() {
		return
	}
	cl.backoff = time.AfterFunc(d, func() { cl.core.dispatch(cl) })
}

// timeout completes the call with a Timeout, or a DurabilityTimeout if the
// mutation was already applied
func (cl *call) timeout() {
	cl.mu.Lock()
	last := cl.last
	cl.mu.Unlock()

	kind := kv.KindTimeout
	msg := fmt.Sprintf("request timed out after %s", cl.req.Timeout)
	if cl.durable.Load() {
		kind = kv.KindDurabilityTimeout
		msg = fmt.Sprintf("mutation was applied but durability %s was not reached within %s", cl.req.Durability, cl.req.Timeout)
	}

	// the last failure is only reported in the message, as a cause it would
	// make the timeout match a second error kind
	if lastErr := cl.req.RetryState().LastErr; lastErr != nil {
		msg = fmt.Sprintf("%s, last attempt failed with: %v", msg, lastErr)
	}
	err := kv.NewError(kind, msg).WithContext(cl.errorContext(last))
	cl.req.MarkCancelled()
	cl.future.Complete(nil, err)
}

// fail completes the call with err, adding the request context
func (cl *call) fail(err error) {
	cl.mu.Lock()
	last := cl.last
	cl.mu.Unlock()

	e, ok := err.(*kv.Error)
	if !ok {
		e = kv.WrapError(kv.KindOf(err), err, "")
	}
	cl.future.Complete(nil, e.WithContext(cl.errorContext(last)))
}

// finish releases everything the call holds. It runs once, on the goroutine
// that completed the future.
func (cl *call) finish(res *kv.Result, err error) {
	cl.mu.Lock()
	if cl.deadline != nil {
		cl.deadline.Stop()
	}
	if cl.backoff != nil {
		cl.backoff.Stop()
	}
	inFlight := cl.inFlight
	cl.mu.Unlock()

	// a response that still arrives for the attempt is discarded as late
	if inFlight != 0 {
		cl.core.pending.Delete(inFlight)
	}
	cl.core.calls.Delete(cl)
	if kv.KindOf(err) == kv.KindCancelled {
		cl.req.MarkCancelled()
	}

	pendingRequests.Dec()
	outcome := "success"
	if err != nil {
		outcome = kv.KindOf(err).String()
	}
	op := cl.req.Op.Kind.String()
	metrics.GetOrCreateCounter(fmt.Sprintf(`kvcore_requests_total{op=%q,outcome=%q}`, op, outcome)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`kvcore_request_duration_seconds{op=%q}`, op)).UpdateDuration(cl.start)

	cl.req.Span.SetAttribute("kv.outcome", outcome)
	cl.req.Span.End()
}

// errorContext builds the diagnostic context of the call
func (cl *call) errorContext(last attemptInfo) kv.ErrorContext {
	ctx := cl.req.ErrorContext()
	ctx.ClientID = cl.core.id
	ctx.Node = last.node
	ctx.CorrelationID = last.correlationID
	ctx.Status = uint16(last.status)
	ctx.Body = last.body
	return ctx
}

// await waits for f, cancelling the request when ctx is done first
func await(ctx context.Context, f *kv.Future) (*kv.Result, error) {
	select {
	case <-f.Done():
	case <-ctx.Done():
		f.Complete(nil, kv.WrapError(kv.KindCancelled, context.Cause(ctx), "request cancelled by context"))
	}
	return f.Get()
}
