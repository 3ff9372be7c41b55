package serializer

import (
	"testing"

	"github.com/ValentinKolb/kvcore/rpc/common"
	"github.com/google/go-cmp/cmp"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}

// testPackets creates a set of test packets with different fields filled
func testPackets() []common.Packet {
	return []common.Packet{
		// Noop request, just a header
		{Magic: common.MagicRequest, Opcode: common.OpNoop},

		// Get request
		{
			Magic:      common.MagicRequest,
			Opcode:     common.OpGet,
			Bucket:     "default",
			Scope:      "_default",
			Collection: "_default",
			Key:        "test-key",
		},

		// Get response
		{
			Magic:  common.MagicResponse,
			Opcode: common.OpGet,
			Cas:    1717171717,
			Flags:  0x02000000,
			Value:  []byte(`{"name":"test"}`),
		},

		// Insert request with durability
		{
			Magic:      common.MagicRequest,
			Opcode:     common.OpAdd,
			Datatype:   common.DatatypeJSON,
			Bucket:     "travel",
			Scope:      "inventory",
			Collection: "hotel",
			Key:        "hotel::1",
			Expiry:     60,
			Flags:      0x02000000,
			Value:      []byte(`{}`),
			Durability: 1,
		},

		// Mutation response with token
		{
			Magic:         common.MagicResponse,
			Opcode:        common.OpSet,
			Cas:           99,
			PartitionUUID: 0xdeadbeef,
			SeqNo:         42,
		},

		// Counter request and response
		{
			Magic:   common.MagicRequest,
			Opcode:  common.OpIncrement,
			Key:     "counter",
			Delta:   5,
			Initial: uint64Ptr(10),
			Expiry:  3600,
		},
		{
			Magic:   common.MagicResponse,
			Opcode:  common.OpIncrement,
			Cas:     7,
			Counter: 15,
			SeqNo:   3,
		},

		// Observe response
		{
			Magic:          common.MagicResponse,
			Opcode:         common.OpObserveSeqNo,
			PartitionUUID:  11,
			SeqNo:          20,
			PersistedSeqNo: 18,
		},

		// Error response
		{
			Magic:  common.MagicResponse,
			Opcode: common.OpReplace,
			Status: common.StatusKeyExists,
			Value:  []byte("cas mismatch"),
		},

		// Get and lock
		{
			Magic:    common.MagicRequest,
			Opcode:   common.OpGetLocked,
			Key:      "lock",
			LockTime: 15,
		},
	}
}

// TestSerializerRoundTrip tests that packets can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	packets := testPackets()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, p := range packets {
				data, err := serializer.Serialize(p)
				if err != nil {
					t.Errorf("Failed to serialize packet %d: %v", i, err)
					continue
				}

				var result common.Packet
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize packet %d: %v", i, err)
					continue
				}

				if diff := cmp.Diff(p, result); diff != "" {
					t.Errorf("Packet %d doesn't match after round trip (-want +got):\n%s", i, diff)
				}
			}
		})
	}
}

// TestOpcodes tests each opcode with each serializer
func TestOpcodes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for _, op := range allOpcodesForTest() {
				p := common.Packet{Magic: common.MagicRequest, Opcode: op, Key: "k"}

				data, err := serializer.Serialize(p)
				if err != nil {
					t.Errorf("Failed to serialize opcode %s: %v", op, err)
					continue
				}

				var result common.Packet
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize opcode %s: %v", op, err)
					continue
				}

				if result.Opcode != op {
					t.Errorf("Opcode doesn't match after round trip: Expected %s, got %s", op, result.Opcode)
				}
			}
		})
	}
}

func allOpcodesForTest() []common.Opcode {
	return []common.Opcode{
		common.OpGet, common.OpSet, common.OpAdd, common.OpReplace, common.OpDelete,
		common.OpIncrement, common.OpDecrement, common.OpNoop, common.OpAppend,
		common.OpPrepend, common.OpTouch, common.OpObserveSeqNo, common.OpGetLocked,
		common.OpUnlockKey,
	}
}

// TestDeserializeResetsPacket tests that a reused packet does not keep stale fields
func TestDeserializeResetsPacket(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			full := testPackets()[3]
			small := common.Packet{Magic: common.MagicResponse, Opcode: common.OpNoop}

			data, err := serializer.Serialize(small)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			result := full
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}
			if diff := cmp.Diff(small, result); diff != "" {
				t.Errorf("stale fields after deserialize (-want +got):\n%s", diff)
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		p    common.Packet
	}{
		{
			name: "Empty packet",
			p:    common.Packet{},
		},
		{
			name: "Empty value slice but not nil",
			p: common.Packet{
				Magic:  common.MagicRequest,
				Opcode: common.OpAppend,
				Key:    "test",
				Value:  []byte{},
			},
		},
		{
			name: "Zero initial value",
			p: common.Packet{
				Magic:   common.MagicRequest,
				Opcode:  common.OpDecrement,
				Key:     "counter",
				Delta:   1,
				Initial: uint64Ptr(0),
			},
		},
		{
			name: "Unknown status",
			p: common.Packet{
				Magic:  common.MagicResponse,
				Opcode: common.OpGet,
				Status: common.Status(0x1234),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.p)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Packet
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			if diff := cmp.Diff(tc.p, result); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			if (tc.p.Value == nil) != (result.Value == nil) {
				t.Errorf("Value nil/non-nil mismatch: expected %v, got %v", tc.p.Value, result.Value)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{0x80, 0x00, 0x00},
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{0x80, 0x0a, 0, 0, 0, 0, 0, 0},
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{0x80, 0x00, 0, 0, 0, 0, 0, 0x08, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Missing cas",
			data:        []byte{0x81, 0x00, 0, 0, 0, 0, 0, 0x10, 0, 0, 0},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var p common.Packet
			err := serializer.Deserialize(tc.data, &p)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

// TestNew tests the serializer lookup by name
func TestNew(t *testing.T) {
	for _, name := range []string{"binary", "json", "gob", ""} {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q) error = %v", name, err)
		}
	}
	if _, err := New("xml"); err == nil {
		t.Errorf("New(\"xml\") expected error")
	}
}
