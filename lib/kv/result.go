package kv

import (
	"fmt"
)

// MutationToken identifies one specific mutation within a partition.
// It is the convergence target of the durability poller.
type MutationToken struct {
	PartitionID   uint16
	PartitionUUID uint64
	SeqNo         uint64
	Keyspace      string
}

// IsZero reports whether the token is unset.
func (t MutationToken) IsZero() bool {
	return t.PartitionUUID == 0 && t.SeqNo == 0
}

// String returns the string representation of a MutationToken.
func (t MutationToken) String() string {
	return fmt.Sprintf("%s:%d:%x:%d", t.Keyspace, t.PartitionID, t.PartitionUUID, t.SeqNo)
}

// Result is the outcome of a successful request.
// Which fields are set depends on the operation.
type Result struct {
	Cas      uint64         // Set for all document operations
	Token    *MutationToken // Set for mutations when the server returned one
	Value    EncodedValue   // Used for: Get, GetAndLock
	Counter  uint64         // Used for: Increment, Decrement
	Observe  ObserveState   // Used for: ObserveSeqNo
	Attempts int            // Number of attempts it took
}

// ObserveState is the per-node answer to an ObserveSeqNo request.
type ObserveState struct {
	PartitionUUID  uint64
	CurrentSeqNo   uint64
	PersistedSeqNo uint64
}
