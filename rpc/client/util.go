package client

import (
	"time"

	"github.com/ValentinKolb/kvcore/lib/encoding"
	"github.com/ValentinKolb/kvcore/lib/kv"
	"github.com/ValentinKolb/kvcore/rpc/common"
)

// opcodes maps every operation kind to the opcode it is sent as
var opcodes = map[kv.OpKind]common.Opcode{
	kv.OpGet:          common.OpGet,
	kv.OpGetAndLock:   common.OpGetLocked,
	kv.OpUnlock:       common.OpUnlockKey,
	kv.OpTouch:        common.OpTouch,
	kv.OpInsert:       common.OpAdd,
	kv.OpUpsert:       common.OpSet,
	kv.OpReplace:      common.OpReplace,
	kv.OpRemove:       common.OpDelete,
	kv.OpAppend:       common.OpAppend,
	kv.OpPrepend:      common.OpPrepend,
	kv.OpIncrement:    common.OpIncrement,
	kv.OpDecrement:    common.OpDecrement,
	kv.OpObserveSeqNo: common.OpObserveSeqNo,
	kv.OpNoop:         common.OpNoop,
}

// encodeRequest converts a request into the packet of one attempt
func encodeRequest(req *kv.Request, defaultBucket string, now time.Time) *common.Packet {
	op := req.Op
	pkt := common.NewRequest(opcodes[op.Kind], req.Key)

	pkt.Bucket = req.Keyspace.Bucket
	if pkt.Bucket == "" {
		pkt.Bucket = defaultBucket
	}
	pkt.Scope = req.Keyspace.Scope
	if pkt.Scope == "" {
		pkt.Scope = kv.DefaultScope
	}
	pkt.Collection = req.Keyspace.Collection
	if pkt.Collection == "" {
		pkt.Collection = kv.DefaultCollection
	}

	pkt.Cas = req.Cas
	pkt.Durability = uint8(req.Durability.Level)

	switch op.Kind {
	case kv.OpInsert, kv.OpUpsert, kv.OpReplace:
		pkt.Value = op.Value.Data
		pkt.Flags = op.Value.Flags
		pkt.Expiry = req.Expiry.Encode(now)
		if encoding.FormatOf(op.Value.Flags) == encoding.FormatJSON {
			pkt.Datatype = common.DatatypeJSON
		}
	case kv.OpAppend, kv.OpPrepend:
		pkt.Value = op.Value.Data
	case kv.OpIncrement, kv.OpDecrement:
		pkt.Delta = op.Delta
		pkt.Initial = op.Initial
		pkt.Expiry = req.Expiry.Encode(now)
	case kv.OpTouch:
		pkt.Expiry = req.Expiry.Encode(now)
	case kv.OpGetAndLock:
		pkt.LockTime = lockSeconds(op.LockTime)
	case kv.OpObserveSeqNo:
		pkt.PartitionUUID = op.Token.PartitionUUID
	}
	return pkt
}

// decodeResponse converts a successful response into a result
func decodeResponse(req *kv.Request, resp *common.Packet, partition uint16) *kv.Result {
	res := &kv.Result{Cas: resp.Cas}

	switch req.Op.Kind {
	case kv.OpGet, kv.OpGetAndLock:
		res.Value = kv.EncodedValue{Data: resp.Value, Flags: resp.Flags}
	case kv.OpIncrement, kv.OpDecrement:
		res.Counter = resp.Counter
	case kv.OpObserveSeqNo:
		res.Observe = kv.ObserveState{
			PartitionUUID:  resp.PartitionUUID,
			CurrentSeqNo:   resp.SeqNo,
			PersistedSeqNo: resp.PersistedSeqNo,
		}
	}

	if req.Op.Kind.IsMutation() && (resp.PartitionUUID != 0 || resp.SeqNo != 0) {
		res.Token = &kv.MutationToken{
			PartitionID:   partition,
			PartitionUUID: resp.PartitionUUID,
			SeqNo:         resp.SeqNo,
			Keyspace:      req.Keyspace.String(),
		}
	}
	return res
}

// lockSeconds converts a lock time into whole seconds, rounding up
func lockSeconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return uint32(secs)
}
