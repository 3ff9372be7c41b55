package store

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the server side view of a single cluster node. Every operation is
// addressed to a partition and returns a Status instead of an error: the
// status is sent back to the client as is.
//
// Mutations are only accepted on the node that is active for the partition.
// Each accepted mutation is assigned a new CAS and the next sequence number of
// the partition, the returned MutationInfo carries both.
type IStore interface {
	// Get returns a document
	Get(partition uint16, key Key) (Document, Status)
	// GetAndLock returns a document and locks it for lockTime. While locked,
	// mutations must present the CAS returned here.
	GetAndLock(partition uint16, key Key, lockTime time.Duration) (Document, Status)
	// Unlock releases a lock taken with GetAndLock
	Unlock(partition uint16, key Key, cas uint64) Status
	// Touch updates the expiry of a document
	Touch(partition uint16, key Key, expiry uint32) (MutationInfo, Status)

	// Add stores doc if the key does not exist yet
	Add(partition uint16, key Key, doc Document) (MutationInfo, Status)
	// Set stores doc. A non-zero cas must match the current CAS of the document.
	Set(partition uint16, key Key, doc Document, cas uint64) (MutationInfo, Status)
	// Replace stores doc if the key exists. A non-zero cas must match.
	Replace(partition uint16, key Key, doc Document, cas uint64) (MutationInfo, Status)
	// Delete removes a document. A non-zero cas must match.
	Delete(partition uint16, key Key, cas uint64) (MutationInfo, Status)
	// Append appends value to an existing document. A non-zero cas must match.
	Append(partition uint16, key Key, value []byte, cas uint64) (MutationInfo, Status)
	// Prepend prepends value to an existing document. A non-zero cas must match.
	Prepend(partition uint16, key Key, value []byte, cas uint64) (MutationInfo, Status)
	// Counter adds delta to (or subtracts it from) a decimal counter document.
	// A decrement never goes below zero. If the document does not exist it is
	// created with initial, or StatusKeyNotFound is returned when initial is nil.
	Counter(partition uint16, key Key, delta uint64, decrement bool, initial *uint64, expiry uint32) (uint64, MutationInfo, Status)

	// ObserveSeqNo reports the sequence numbers of a partition on this node.
	// It is answered by the active node and the replicas of the partition.
	ObserveSeqNo(partition uint16, partitionUUID uint64) (ObserveInfo, Status)
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Key addresses a document within a bucket
type Key struct {
	Scope      string
	Collection string
	ID         string
}

// String returns the string representation of a Key.
func (k Key) String() string {
	return fmt.Sprintf("%s.%s/%s", k.Scope, k.Collection, k.ID)
}

// Document is a stored document
type Document struct {
	Value    []byte
	Flags    uint32
	Datatype uint8
	Cas      uint64
	Expiry   uint32 // encoded expiry as sent on the wire, 0 = none
}

// MutationInfo describes an accepted mutation
type MutationInfo struct {
	Cas           uint64
	PartitionUUID uint64
	SeqNo         uint64
}

// ObserveInfo is the state of a partition on one node
type ObserveInfo struct {
	Active         bool
	PartitionUUID  uint64
	CurrentSeqNo   uint64
	PersistedSeqNo uint64
}

// --------------------------------------------------------------------------
// Status Codes
// --------------------------------------------------------------------------

// Status is the outcome of a store operation
type Status uint8

const (
	StatusOK             Status = iota // 0: Operation executed successfully.
	StatusKeyNotFound                  // 1: The document does not exist.
	StatusKeyExists                    // 2: The document exists or the CAS did not match.
	StatusNotStored                    // 3: Append, prepend or unlock found nothing to work on.
	StatusLocked                       // 4: The document is locked by someone else.
	StatusBadDelta                     // 5: The document is not a counter.
	StatusNotMyPartition               // 6: This node is not active for the partition.
	StatusInvalidArgs                  // 7: The request is malformed.
	StatusTmpFail                      // 8: The node is temporarily unable to serve the request.
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusKeyNotFound:
		return "key not found"
	case StatusKeyExists:
		return "key exists"
	case StatusNotStored:
		return "not stored"
	case StatusLocked:
		return "locked"
	case StatusBadDelta:
		return "bad delta"
	case StatusNotMyPartition:
		return "not my partition"
	case StatusInvalidArgs:
		return "invalid arguments"
	case StatusTmpFail:
		return "temporary failure"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

// relativeExpiryLimit is the largest expiry that is read as relative seconds
const relativeExpiryLimit = 30 * 24 * 60 * 60

// ExpiryTime converts a wire expiry into an absolute time. Values up to 30 days
// are seconds relative to now, larger values are unix timestamps. The zero
// time means the document never expires.
func ExpiryTime(expiry uint32, now time.Time) time.Time {
	switch {
	case expiry == 0:
		return time.Time{}
	case expiry <= relativeExpiryLimit:
		return now.Add(time.Duration(expiry) * time.Second)
	default:
		return time.Unix(int64(expiry), 0)
	}
}
