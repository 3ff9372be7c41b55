package kv

import (
	"time"
)

// --------------------------------------------------------------------------
// Operation Kinds
// --------------------------------------------------------------------------

// OpKind is the closed set of operations the core can dispatch.
type OpKind uint8

const (
	OpUnknown      OpKind = iota
	OpGet                 // Read a document
	OpGetAndLock          // Read a document and lock it for LockTime
	OpUnlock              // Unlock a locked document (requires CAS)
	OpTouch               // Update the expiry of a document
	OpInsert              // Create a document, fails if it exists
	OpUpsert              // Create or replace a document
	OpReplace             // Replace an existing document
	OpRemove              // Delete a document
	OpAppend              // Append raw bytes to a document
	OpPrepend             // Prepend raw bytes to a document
	OpIncrement           // Increment a counter document
	OpDecrement           // Decrement a counter document
	OpObserveSeqNo        // Query persistence/replication state of a partition
	OpNoop                // Round trip to a fixed node, used for diagnostics
)

// String returns the string representation of an OpKind.
func (o OpKind) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpGetAndLock:
		return "get_and_lock"
	case OpUnlock:
		return "unlock"
	case OpTouch:
		return "touch"
	case OpInsert:
		return "insert"
	case OpUpsert:
		return "upsert"
	case OpReplace:
		return "replace"
	case OpRemove:
		return "remove"
	case OpAppend:
		return "append"
	case OpPrepend:
		return "prepend"
	case OpIncrement:
		return "increment"
	case OpDecrement:
		return "decrement"
	case OpObserveSeqNo:
		return "observe_seqno"
	case OpNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// IsMutation reports whether the operation changes a document and therefore
// produces a mutation token that durability can be verified against.
func (o OpKind) IsMutation() bool {
	switch o {
	case OpInsert, OpUpsert, OpReplace, OpRemove, OpAppend, OpPrepend, OpIncrement, OpDecrement:
		return true
	default:
		return false
	}
}

// IsIdempotent reports whether applying the operation twice has the same
// effect as applying it once.
func (o OpKind) IsIdempotent() bool {
	switch o {
	case OpGet, OpTouch, OpObserveSeqNo, OpNoop, OpUpsert:
		return true
	default:
		return false
	}
}

// IsKeyed reports whether the operation targets a document id.
func (o OpKind) IsKeyed() bool {
	return o != OpNoop && o != OpObserveSeqNo && o != OpUnknown
}

// RequiresValue reports whether the operation carries a document body.
func (o OpKind) RequiresValue() bool {
	switch o {
	case OpInsert, OpUpsert, OpReplace, OpAppend, OpPrepend:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Operation Payload
// --------------------------------------------------------------------------

// EncodedValue is a document body together with its format flags.
type EncodedValue struct {
	Data  []byte
	Flags uint32
}

// Operation is the tagged variant describing what a request does.
// Which payload fields are used depends on the kind.
type Operation struct {
	Kind OpKind

	Value    EncodedValue  // Used for: Insert, Upsert, Replace, Append, Prepend
	Delta    uint64        // Used for: Increment, Decrement
	Initial  *uint64       // Used for: Increment, Decrement (nil = fail if the counter does not exist)
	LockTime time.Duration // Used for: GetAndLock
	Token    MutationToken // Used for: ObserveSeqNo
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

// relativeExpiryLimit is the largest expiry the protocol interprets as relative
// to now. Larger values are interpreted as absolute unix timestamps.
const relativeExpiryLimit = 30 * 24 * time.Hour

// Expiry describes when a document expires. The zero value means no expiry.
type Expiry struct {
	relative time.Duration
	absolute time.Time
}

// ExpiryIn creates an expiry relative to the time the request is encoded.
func ExpiryIn(d time.Duration) Expiry {
	return Expiry{relative: d}
}

// ExpiryAt creates an absolute expiry.
func ExpiryAt(t time.Time) Expiry {
	return Expiry{absolute: t}
}

// IsZero reports whether no expiry is set.
func (e Expiry) IsZero() bool {
	return e.relative <= 0 && e.absolute.IsZero()
}

// Encode converts the expiry into the protocol representation.
// Relative expiries below 30 days are sent in seconds, everything else as an
// absolute unix timestamp. Sub-second relative expiries round up to one second
// so that they do not turn into "never expires".
func (e Expiry) Encode(now time.Time) uint32 {
	if !e.absolute.IsZero() {
		return uint32(e.absolute.Unix())
	}
	if e.relative <= 0 {
		return 0
	}
	if e.relative < relativeExpiryLimit {
		secs := uint32(e.relative / time.Second)
		if e.relative%time.Second != 0 {
			secs++
		}
		return secs
	}
	return uint32(now.Add(e.relative).Unix())
}
