package server

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/kvcore/lib/store"
	"github.com/ValentinKolb/kvcore/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

// NewIStoreServerAdapter creates the adapter that serves the document
// operations of one node. Requests for other buckets are rejected.
func NewIStoreServerAdapter(node, bucket string) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{node: node, bucket: bucket}
}

type iStoreServerAdapterImpl struct {
	node   string
	bucket string
}

func (adapter *iStoreServerAdapterImpl) Handle(partition uint16, req *common.Packet, s store.IStore) *common.Packet {
	resp := adapter.handle(partition, req, s)
	metrics.GetOrCreateCounter(fmt.Sprintf(`kvcore_server_requests_total{node=%q,opcode=%q,status=%q}`,
		adapter.node, req.Opcode, resp.Status)).Inc()
	return resp
}

func (adapter *iStoreServerAdapterImpl) handle(partition uint16, req *common.Packet, s store.IStore) *common.Packet {
	// Check for nil store
	if s == nil {
		return common.NewErrorResponse(req.Opcode, common.StatusInternalError, "handler: store is nil")
	}
	if req.Magic != common.MagicRequest {
		return common.NewErrorResponse(req.Opcode, common.StatusInvalidArgs, fmt.Sprintf("unexpected magic 0x%02x", uint8(req.Magic)))
	}
	if req.Opcode == common.OpNoop {
		return common.NewResponse(req, common.StatusSuccess)
	}
	if req.Bucket != adapter.bucket {
		return common.NewErrorResponse(req.Opcode, common.StatusInvalidArgs, fmt.Sprintf("unknown bucket %q", req.Bucket))
	}

	key := store.Key{Scope: req.Scope, Collection: req.Collection, ID: req.Key}
	doc := store.Document{Value: req.Value, Flags: req.Flags, Datatype: req.Datatype, Expiry: req.Expiry}

	// Handle different opcodes
	switch req.Opcode {
	case common.OpGet:
		d, st := s.Get(partition, key)
		return documentResponse(req, d, st)
	case common.OpGetLocked:
		d, st := s.GetAndLock(partition, key, time.Duration(req.LockTime)*time.Second)
		return documentResponse(req, d, st)
	case common.OpUnlockKey:
		return statusResponse(req, s.Unlock(partition, key, req.Cas))
	case common.OpTouch:
		info, st := s.Touch(partition, key, req.Expiry)
		return mutationResponse(req, info, st)
	case common.OpAdd:
		info, st := s.Add(partition, key, doc)
		return mutationResponse(req, info, st)
	case common.OpSet:
		info, st := s.Set(partition, key, doc, req.Cas)
		return mutationResponse(req, info, st)
	case common.OpReplace:
		info, st := s.Replace(partition, key, doc, req.Cas)
		return mutationResponse(req, info, st)
	case common.OpDelete:
		info, st := s.Delete(partition, key, req.Cas)
		return mutationResponse(req, info, st)
	case common.OpAppend:
		info, st := s.Append(partition, key, req.Value, req.Cas)
		return mutationResponse(req, info, st)
	case common.OpPrepend:
		info, st := s.Prepend(partition, key, req.Value, req.Cas)
		return mutationResponse(req, info, st)
	case common.OpIncrement, common.OpDecrement:
		value, info, st := s.Counter(partition, key, req.Delta, req.Opcode == common.OpDecrement, req.Initial, req.Expiry)
		resp := mutationResponse(req, info, st)
		if st == store.StatusOK {
			resp.Counter = value
		}
		return resp
	case common.OpObserveSeqNo:
		obs, st := s.ObserveSeqNo(partition, req.PartitionUUID)
		resp := statusResponse(req, st)
		if st == store.StatusOK {
			resp.PartitionUUID = obs.PartitionUUID
			resp.SeqNo = obs.CurrentSeqNo
			resp.PersistedSeqNo = obs.PersistedSeqNo
		}
		return resp
	default:
		return common.NewErrorResponse(req.Opcode, common.StatusUnknownCommand,
			fmt.Sprintf("IStoreAdapter - unsupported opcode: %s", req.Opcode))
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// statusResponse creates a response carrying only the status
func statusResponse(req *common.Packet, st store.Status) *common.Packet {
	status := toWireStatus(st)
	if status == common.StatusSuccess {
		return common.NewResponse(req, status)
	}
	return common.NewErrorResponse(req.Opcode, status, st.String())
}

// documentResponse creates the response of a read
func documentResponse(req *common.Packet, d store.Document, st store.Status) *common.Packet {
	resp := statusResponse(req, st)
	if st == store.StatusOK {
		resp.Value = d.Value
		resp.Flags = d.Flags
		resp.Datatype = d.Datatype
		resp.Cas = d.Cas
	}
	return resp
}

// mutationResponse creates the response of a mutation including its token
func mutationResponse(req *common.Packet, info store.MutationInfo, st store.Status) *common.Packet {
	resp := statusResponse(req, st)
	if st == store.StatusOK {
		resp.Cas = info.Cas
		resp.PartitionUUID = info.PartitionUUID
		resp.SeqNo = info.SeqNo
	}
	return resp
}

// toWireStatus maps a store status to the protocol status
func toWireStatus(st store.Status) common.Status {
	switch st {
	case store.StatusOK:
		return common.StatusSuccess
	case store.StatusKeyNotFound:
		return common.StatusKeyNotFound
	case store.StatusKeyExists:
		return common.StatusKeyExists
	case store.StatusNotStored:
		return common.StatusNotStored
	case store.StatusLocked:
		return common.StatusLocked
	case store.StatusBadDelta:
		return common.StatusBadDelta
	case store.StatusNotMyPartition:
		return common.StatusNotMyVBucket
	case store.StatusInvalidArgs:
		return common.StatusInvalidArgs
	case store.StatusTmpFail:
		return common.StatusTmpFail
	default:
		return common.StatusInternalError
	}
}
