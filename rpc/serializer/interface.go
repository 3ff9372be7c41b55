package serializer

import (
	"fmt"

	"github.com/ValentinKolb/kvcore/rpc/common"
)

// IRPCSerializer is the interface for all packet serializers
type IRPCSerializer interface {
	// Serialize serializes a Packet into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(p common.Packet) ([]byte, error)
	// Deserialize deserializes a byte array into a Packet
	// It takes a byte array and a pointer to a Packet as parameters
	// It returns an error if any
	Deserialize(b []byte, p *common.Packet) error
}

// New creates a serializer by name (binary, json, gob)
func New(name string) (IRPCSerializer, error) {
	switch name {
	case "binary", "":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer: %s (expected binary, json, gob)", name)
	}
}
