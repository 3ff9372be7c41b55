package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/kvcore/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Fixed header layout:
// - 1 byte: magic
// - 1 byte: opcode
// - 2 bytes: status
// - 1 byte: datatype
// - 1 byte: durability level
// - 2 bytes: presence flags of the optional fields
const headerSize = 8

// Bit flags to indicate which optional fields are present
const (
	hasBucket         uint16 = 1 << 0
	hasScope          uint16 = 1 << 1
	hasCollection     uint16 = 1 << 2
	hasKey            uint16 = 1 << 3
	hasCas            uint16 = 1 << 4
	hasExpiry         uint16 = 1 << 5
	hasFlags          uint16 = 1 << 6
	hasValue          uint16 = 1 << 7
	hasDelta          uint16 = 1 << 8
	hasInitial        uint16 = 1 << 9
	hasCounter        uint16 = 1 << 10
	hasLockTime       uint16 = 1 << 11
	hasPartitionUUID  uint16 = 1 << 12
	hasSeqNo          uint16 = 1 << 13
	hasPersistedSeqNo uint16 = 1 << 14
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(p common.Packet) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, b.sizeBytes(p))

	// Write fixed header
	result[0] = byte(p.Magic)
	result[1] = byte(p.Opcode)
	binary.BigEndian.PutUint16(result[2:4], uint16(p.Status))
	result[4] = p.Datatype
	result[5] = p.Durability

	var flags uint16
	pos := headerSize

	// Keyspace and key
	if p.Bucket != "" {
		flags |= hasBucket
		pos = putBytes(result, pos, []byte(p.Bucket))
	}
	if p.Scope != "" {
		flags |= hasScope
		pos = putBytes(result, pos, []byte(p.Scope))
	}
	if p.Collection != "" {
		flags |= hasCollection
		pos = putBytes(result, pos, []byte(p.Collection))
	}
	if p.Key != "" {
		flags |= hasKey
		pos = putBytes(result, pos, []byte(p.Key))
	}

	// Document meta
	if p.Cas != 0 {
		flags |= hasCas
		binary.BigEndian.PutUint64(result[pos:pos+8], p.Cas)
		pos += 8
	}
	if p.Expiry != 0 {
		flags |= hasExpiry
		binary.BigEndian.PutUint32(result[pos:pos+4], p.Expiry)
		pos += 4
	}
	if p.Flags != 0 {
		flags |= hasFlags
		binary.BigEndian.PutUint32(result[pos:pos+4], p.Flags)
		pos += 4
	}

	// Value (an empty but non-nil value is preserved)
	if p.Value != nil {
		flags |= hasValue
		pos = putBytes(result, pos, p.Value)
	}

	// Counter extras
	if p.Delta != 0 {
		flags |= hasDelta
		binary.BigEndian.PutUint64(result[pos:pos+8], p.Delta)
		pos += 8
	}
	if p.Initial != nil {
		flags |= hasInitial
		binary.BigEndian.PutUint64(result[pos:pos+8], *p.Initial)
		pos += 8
	}
	if p.Counter != 0 {
		flags |= hasCounter
		binary.BigEndian.PutUint64(result[pos:pos+8], p.Counter)
		pos += 8
	}
	if p.LockTime != 0 {
		flags |= hasLockTime
		binary.BigEndian.PutUint32(result[pos:pos+4], p.LockTime)
		pos += 4
	}

	// Sequence numbers
	if p.PartitionUUID != 0 {
		flags |= hasPartitionUUID
		binary.BigEndian.PutUint64(result[pos:pos+8], p.PartitionUUID)
		pos += 8
	}
	if p.SeqNo != 0 {
		flags |= hasSeqNo
		binary.BigEndian.PutUint64(result[pos:pos+8], p.SeqNo)
		pos += 8
	}
	if p.PersistedSeqNo != 0 {
		flags |= hasPersistedSeqNo
		binary.BigEndian.PutUint64(result[pos:pos+8], p.PersistedSeqNo)
		pos += 8
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[6:8], flags)

	return result[:pos], nil
}

func (b binarySerializerImpl) Deserialize(data []byte, p *common.Packet) error {
	// Check minimum size
	if len(data) < headerSize {
		return fmt.Errorf("data too short for packet header")
	}

	// Read fixed header
	p.Magic = common.Magic(data[0])
	p.Opcode = common.Opcode(data[1])
	p.Status = common.Status(binary.BigEndian.Uint16(data[2:4]))
	p.Datatype = data[4]
	p.Durability = data[5]
	flags := binary.BigEndian.Uint16(data[6:8])

	r := reader{data: data, pos: headerSize}

	p.Bucket = ""
	if flags&hasBucket != 0 {
		p.Bucket = string(r.bytes("bucket"))
	}
	p.Scope = ""
	if flags&hasScope != 0 {
		p.Scope = string(r.bytes("scope"))
	}
	p.Collection = ""
	if flags&hasCollection != 0 {
		p.Collection = string(r.bytes("collection"))
	}
	p.Key = ""
	if flags&hasKey != 0 {
		p.Key = string(r.bytes("key"))
	}

	p.Cas = 0
	if flags&hasCas != 0 {
		p.Cas = r.uint64("cas")
	}
	p.Expiry = 0
	if flags&hasExpiry != 0 {
		p.Expiry = r.uint32("expiry")
	}
	p.Flags = 0
	if flags&hasFlags != 0 {
		p.Flags = r.uint32("flags")
	}

	// Read value - create an empty slice (not nil) if length is 0
	p.Value = nil
	if flags&hasValue != 0 {
		if v := r.bytes("value"); v != nil {
			p.Value = append(make([]byte, 0, len(v)), v...)
		}
	}

	p.Delta = 0
	if flags&hasDelta != 0 {
		p.Delta = r.uint64("delta")
	}
	p.Initial = nil
	if flags&hasInitial != 0 {
		initial := r.uint64("initial")
		p.Initial = &initial
	}
	p.Counter = 0
	if flags&hasCounter != 0 {
		p.Counter = r.uint64("counter")
	}
	p.LockTime = 0
	if flags&hasLockTime != 0 {
		p.LockTime = r.uint32("lock time")
	}

	p.PartitionUUID = 0
	if flags&hasPartitionUUID != 0 {
		p.PartitionUUID = r.uint64("partition uuid")
	}
	p.SeqNo = 0
	if flags&hasSeqNo != 0 {
		p.SeqNo = r.uint64("seqno")
	}
	p.PersistedSeqNo = 0
	if flags&hasPersistedSeqNo != 0 {
		p.PersistedSeqNo = r.uint64("persisted seqno")
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the upper bound of the size needed for serialization
func (b binarySerializerImpl) sizeBytes(p common.Packet) int {
	size := headerSize

	// 4 bytes length prefix + data for variable length fields
	size += 4 + len(p.Bucket)
	size += 4 + len(p.Scope)
	size += 4 + len(p.Collection)
	size += 4 + len(p.Key)
	size += 4 + len(p.Value)

	// cas, delta, initial, counter, partition uuid, seqno, persisted seqno
	size += 7 * 8
	// expiry, flags, lock time
	size += 3 * 4

	return size
}

// putBytes writes a length prefixed byte slice at pos and returns the new position
func putBytes(dst []byte, pos int, data []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(data)))
	pos += 4
	copy(dst[pos:pos+len(data)], data)
	return pos + len(data)
}

// reader reads fields from a serialized packet and remembers the first error
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *reader) uint64(field string) uint64 {
	if !r.need(8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v
}

func (r *reader) uint32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

// bytes returns a sub slice of the input, callers copy it if they keep it
func (r *reader) bytes(field string) []byte {
	if !r.need(4, field+" length") {
		return nil
	}
	n := int(binary.BigEndian.Uint32(r.data[r.pos : r.pos+4]))
	r.pos += 4
	if !r.need(n, field+" data") {
		return nil
	}
	v := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return v
}
