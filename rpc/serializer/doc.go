// Package serializer turns a common.Packet into the bytes of a frame payload
// and back. Client and nodes must be configured with the same serializer.
//
// Implementations (select with New or the --serializer flag):
//
//   - binary: fixed 8 byte header (magic, opcode, status, datatype, durability
//     level, presence flags) followed by the optional fields whose presence bit
//     is set. Strings and the value are length prefixed, numbers are big
//     endian. This is the default and the only format that keeps request
//     headers small enough for pipelined traffic.
//
//   - json: the packet as a JSON object. Slow, but readable in a packet dump.
//
//   - gob: encoding/gob. Kept for comparison in the benchmarks, it is the
//     slowest and largest of the three.
//
// All implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	s, err := serializer.New("binary")
//	data, err := s.Serialize(common.Packet{Magic: common.MagicRequest, Opcode: common.OpGet, Key: "k"})
//
//	var p common.Packet
//	err = s.Deserialize(data, &p)
package serializer
