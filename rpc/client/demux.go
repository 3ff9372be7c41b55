package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/kvcore/lib/durability"
	"github.com/ValentinKolb/kvcore/lib/kv"
	"github.com/ValentinKolb/kvcore/rpc/common"
	"github.com/ValentinKolb/kvcore/rpc/transport"
)

// --------------------------------------------------------------------------
// Frame handling (called by the transport)
// --------------------------------------------------------------------------

// handleFrame matches a response frame to its pending entry. The entry is
// removed before anything else happens, so a duplicate or late frame for the
// same correlation id finds nothing and is dropped.
func (c *Core) handleFrame(conn transport.IConnection, partition uint16, correlationID uint64, payload []byte) {
	entry, ok := c.pending.LoadAndDelete(correlationID)
	if !ok {
		lateFramesTotal.Inc()
		Logger.Debugf("Discarding response %d from %s: no pending request", correlationID, conn.Endpoint())
		return
	}

	info := attemptInfo{node: entry.node, partition: entry.partition, correlationID: correlationID}

	var resp common.Packet
	if err := c.serializer.Deserialize(payload, &resp); err != nil {
		c.handleFailure(entry.call, kv.WrapError(kv.KindProtocolError, err, "malformed response"), info)
		return
	}
	if resp.Magic != common.MagicResponse {
		c.handleFailure(entry.call, kv.Errorf(kv.KindProtocolError, "unexpected magic 0x%02x in response", uint8(resp.Magic)), info)
		return
	}

	info.status = resp.Status
	if err := classify(entry.call.req, &resp); err != nil {
		if kv.KindOf(err) == kv.KindProtocolError {
			info.body = resp.Value
		}
		c.handleFailure(entry.call, err, info)
		return
	}

	c.handleSuccess(entry.call, &resp, info)
}

// handleConnLost fails every attempt that was written on the broken
// connection. Attempts on other connections to the same node are unaffected.
//
// The node may have applied a written attempt before the connection broke, so
// the failure is Retryable: the strategy only repeats it for idempotent
// operations unless the caller opted in.
func (c *Core) handleConnLost(conn transport.IConnection, cause error) {
	lost := 0
	c.pending.Range(func(id uint64, entry *pendingEntry) bool {
		if entry.connID != conn.ID() {
			return true
		}
		if entry, ok := c.pending.LoadAndDelete(id); ok {
			lost++
			info := attemptInfo{node: entry.node, partition: entry.partition, correlationID: id}
			c.handleFailure(entry.call, kv.WrapError(kv.KindRetryable, cause, "connection lost after the request was written"), info)
		}
		return true
	})
	if lost > 0 {
		Logger.Warningf("Connection %d to %s lost with %d requests in flight", conn.ID(), conn.Endpoint(), lost)
	}
}

// --------------------------------------------------------------------------
// Success path
// --------------------------------------------------------------------------

// handleSuccess completes the call or hands it to the durability poller
func (c *Core) handleSuccess(cl *call, resp *common.Packet, info attemptInfo) {
	req := cl.req
	res := decodeResponse(req, resp, info.partition)
	res.Attempts = req.RetryState().Attempts

	if req.Durability.IsNone() || !req.Op.Kind.IsMutation() {
		cl.future.Complete(res, nil)
		return
	}

	if res.Token == nil {
		cl.mu.Lock()
		cl.last = info
		cl.mu.Unlock()
		cl.fail(kv.Errorf(kv.KindProtocolError, "%s succeeded without a mutation token, durability %s cannot be verified", req.Op.Kind, req.Durability))
		return
	}

	// the poll must not block the reader goroutine of the connection
	cl.durable.Store(true)
	go c.awaitDurability(cl, res)
}

// awaitDurability polls until the durability requirement of the call is met.
// The poll shares the deadline of the request and stops when the call
// completes for any other reason.
func (c *Core) awaitDurability(cl *call, res *kv.Result) {
	ctx, cancel := context.WithDeadline(context.Background(), cl.req.Deadline())
	defer cancel()
	cl.future.OnComplete(func(*kv.Result, error) { cancel() })

	token := *res.Token
	requirement := durability.RequirementFor(cl.req.Durability, c.router.NumReplicas())
	active, replicas := c.router.NodesFor(token.PartitionID)

	outcome, err := c.poller.Run(ctx, token, requirement, durability.Targets(active, replicas))
	cl.req.Span.SetAttribute("kv.durability_rounds", outcome.Rounds)
	if err != nil {
		cl.fail(err)
		return
	}
	cl.future.Complete(res, nil)
}

// --------------------------------------------------------------------------
// Status classification
// --------------------------------------------------------------------------

// classify maps the status of a response to the error a caller sees.
// It returns nil for a successful response.
func classify(req *kv.Request, resp *common.Packet) error {
	kind := req.Op.Kind
	switch resp.Status {
	case common.StatusSuccess:
		return nil

	case common.StatusKeyExists:
		if kind == kv.OpInsert || req.Cas == 0 {
			return kv.NewError(kv.KindDocumentExists, "document already exists")
		}
		return kv.Errorf(kv.KindCasMismatch, "cas %d does not match the current cas", req.Cas)

	case common.StatusKeyNotFound:
		return kv.NewError(kv.KindDocumentNotFound, "document does not exist")

	case common.StatusNotStored:
		if kind == kv.OpAppend || kind == kv.OpPrepend {
			return kv.NewError(kv.KindDocumentNotFound, "document does not exist")
		}
		return protocolError(resp)

	case common.StatusTmpFail, common.StatusOutOfMemory, common.StatusBusy, common.StatusLocked,
		common.StatusNotInitialized, common.StatusSyncWriteInProgress, common.StatusSyncWriteReCommitInProgress:
		return kv.Errorf(kv.KindRetryable, "server reported %s", resp.Status)

	case common.StatusNotMyVBucket:
		return kv.Errorf(kv.KindNodeUnavailable, "node is not active for the partition")

	default:
		return protocolError(resp)
	}
}

// protocolError creates the error for an unexpected status
func protocolError(resp *common.Packet) error {
	if len(resp.Value) > 0 {
		return kv.Errorf(kv.KindProtocolError, "unexpected status %s: %s", resp.Status, resp.Value)
	}
	return kv.NewError(kv.KindProtocolError, fmt.Sprintf("unexpected status %s", resp.Status))
}
