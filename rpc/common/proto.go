package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Packet Structure
// --------------------------------------------------------------------------

// Packet represents a single key-value protocol packet used for both requests
// and responses. Which fields are used depends on the opcode and the magic.
// The partition id and the correlation id are not part of the packet, they are
// carried by the transport frame header.
type Packet struct {
	// Header
	Magic    Magic  `json:"magic"`
	Opcode   Opcode `json:"opcode"`
	Status   Status `json:"status,omitempty"`   // Responses only
	Datatype uint8  `json:"datatype,omitempty"` // DatatypeJSON if the value is a JSON document

	// Keyspace reference
	Bucket     string `json:"bucket,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Collection string `json:"collection,omitempty"`

	// Document
	Key    string `json:"key,omitempty"`
	Cas    uint64 `json:"cas,omitempty"`    // Request: expected CAS (0 = none), Response: new CAS
	Expiry uint32 `json:"expiry,omitempty"` // Used for: Add, Set, Replace, Touch, Incr, Decr
	Flags  uint32 `json:"flags,omitempty"`  // Used for: Add, Set, Replace (request), Get (response)
	Value  []byte `json:"value,omitempty"`  // Used for: Add, Set, Replace, Append, Prepend (request), Get (response), error body

	// Extras
	Delta      uint64  `json:"delta,omitempty"`      // Used for: Incr, Decr
	Initial    *uint64 `json:"initial,omitempty"`    // Used for: Incr, Decr (nil = fail if missing)
	Counter    uint64  `json:"counter,omitempty"`    // Used for: Incr, Decr responses
	LockTime   uint32  `json:"lockTime,omitempty"`   // Used for: GetLocked (seconds)
	Durability uint8   `json:"durability,omitempty"` // Durability level requested from the server

	// Sequence numbers
	PartitionUUID  uint64 `json:"partitionUuid,omitempty"`  // Used for: ObserveSeqNo (request), mutation token + ObserveSeqNo (response)
	SeqNo          uint64 `json:"seqNo,omitempty"`          // Used for: mutation token, ObserveSeqNo current seqno (response)
	PersistedSeqNo uint64 `json:"persistedSeqNo,omitempty"` // Used for: ObserveSeqNo (response)
}

// DatatypeJSON marks a packet value as a JSON document.
const DatatypeJSON uint8 = 0x01

// --------------------------------------------------------------------------
// Packet Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates a new request packet for the given opcode and key.
func NewRequest(op Opcode, key string) *Packet {
	return &Packet{
		Magic:  MagicRequest,
		Opcode: op,
		Key:    key,
	}
}

// NewResponse creates a new response to req with the given status.
func NewResponse(req *Packet, status Status) *Packet {
	return &Packet{
		Magic:  MagicResponse,
		Opcode: req.Opcode,
		Status: status,
	}
}

// NewErrorResponse creates a new response with a non-success status and a
// human readable body.
func NewErrorResponse(op Opcode, status Status, body string) *Packet {
	return &Packet{
		Magic:  MagicResponse,
		Opcode: op,
		Status: status,
		Value:  []byte(body),
	}
}

// --------------------------------------------------------------------------
// Magic
// --------------------------------------------------------------------------

// Magic marks a packet as request or response.
type Magic uint8

const (
	MagicRequest  Magic = 0x80
	MagicResponse Magic = 0x81
)

// --------------------------------------------------------------------------
// Opcode Definition
// --------------------------------------------------------------------------

// Opcode defines the operation a packet carries.
type Opcode uint8

const (
	OpGet          Opcode = 0x00 // Read a document
	OpSet          Opcode = 0x01 // Create or replace a document
	OpAdd          Opcode = 0x02 // Create a document if it does not exist
	OpReplace      Opcode = 0x03 // Replace an existing document
	OpDelete       Opcode = 0x04 // Delete a document
	OpIncrement    Opcode = 0x05 // Increment a counter
	OpDecrement    Opcode = 0x06 // Decrement a counter
	OpNoop         Opcode = 0x0a // Round trip without side effects
	OpAppend       Opcode = 0x0e // Append to a document
	OpPrepend      Opcode = 0x0f // Prepend to a document
	OpTouch        Opcode = 0x1c // Update the expiry of a document
	OpObserveSeqNo Opcode = 0x91 // Query persistence and replication state of a partition
	OpGetLocked    Opcode = 0x94 // Read and lock a document
	OpUnlockKey    Opcode = 0x95 // Unlock a locked document
)

// String returns the string representation of an Opcode.
func (o Opcode) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpAdd:
		return "add"
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	case OpIncrement:
		return "increment"
	case OpDecrement:
		return "decrement"
	case OpNoop:
		return "noop"
	case OpAppend:
		return "append"
	case OpPrepend:
		return "prepend"
	case OpTouch:
		return "touch"
	case OpObserveSeqNo:
		return "observeSeqNo"
	case OpGetLocked:
		return "getLocked"
	case OpUnlockKey:
		return "unlockKey"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(o))
	}
}

// IsMutation reports whether the opcode changes a document.
func (o Opcode) IsMutation() bool {
	switch o {
	case OpSet, OpAdd, OpReplace, OpDelete, OpIncrement, OpDecrement, OpAppend, OpPrepend:
		return true
	default:
		return false
	}
}

// MarshalJSON implements the json.Marshaller interface for Opcode.
// This allows Opcode to be serialized as a string in JSON.
func (o Opcode) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Opcode.
// This allows Opcode to be deserialized from a string in JSON.
func (o *Opcode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, op := range allOpcodes {
		if op.String() == s {
			*o = op
			return nil
		}
	}
	return fmt.Errorf("unknown opcode: %s", s)
}

var allOpcodes = []Opcode{
	OpGet, OpSet, OpAdd, OpReplace, OpDelete, OpIncrement, OpDecrement, OpNoop,
	OpAppend, OpPrepend, OpTouch, OpObserveSeqNo, OpGetLocked, OpUnlockKey,
}

// --------------------------------------------------------------------------
// Status Definition
// --------------------------------------------------------------------------

// Status is the status code of a response packet.
type Status uint16

const (
	StatusSuccess                     Status = 0x00
	StatusKeyNotFound                 Status = 0x01
	StatusKeyExists                   Status = 0x02
	StatusTooBig                      Status = 0x03
	StatusInvalidArgs                 Status = 0x04
	StatusNotStored                   Status = 0x05
	StatusBadDelta                    Status = 0x06
	StatusNotMyVBucket                Status = 0x07
	StatusLocked                      Status = 0x09
	StatusNotInitialized              Status = 0x25
	StatusUnknownCommand              Status = 0x81
	StatusOutOfMemory                 Status = 0x82
	StatusNotSupported                Status = 0x83
	StatusInternalError               Status = 0x84
	StatusBusy                        Status = 0x85
	StatusTmpFail                     Status = 0x86
	StatusDurabilityInvalidLevel      Status = 0xa0
	StatusDurabilityImpossible        Status = 0xa1
	StatusSyncWriteInProgress         Status = 0xa2
	StatusSyncWriteAmbiguous          Status = 0xa3
	StatusSyncWriteReCommitInProgress Status = 0xa4
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusKeyNotFound:
		return "key not found"
	case StatusKeyExists:
		return "key exists"
	case StatusTooBig:
		return "too big"
	case StatusInvalidArgs:
		return "invalid arguments"
	case StatusNotStored:
		return "not stored"
	case StatusBadDelta:
		return "bad delta"
	case StatusNotMyVBucket:
		return "not my vbucket"
	case StatusLocked:
		return "locked"
	case StatusNotInitialized:
		return "not initialized"
	case StatusUnknownCommand:
		return "unknown command"
	case StatusOutOfMemory:
		return "out of memory"
	case StatusNotSupported:
		return "not supported"
	case StatusInternalError:
		return "internal error"
	case StatusBusy:
		return "busy"
	case StatusTmpFail:
		return "temporary failure"
	case StatusDurabilityInvalidLevel:
		return "invalid durability level"
	case StatusDurabilityImpossible:
		return "durability impossible"
	case StatusSyncWriteInProgress:
		return "sync write in progress"
	case StatusSyncWriteAmbiguous:
		return "sync write ambiguous"
	case StatusSyncWriteReCommitInProgress:
		return "sync write re-commit in progress"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint16(s))
	}
}
