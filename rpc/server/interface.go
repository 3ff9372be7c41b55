package server

import (
	"github.com/ValentinKolb/kvcore/lib/store"
	"github.com/ValentinKolb/kvcore/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request for a partition and returns a response
	// It takes the request packet and the store of the node as parameters.
	// A failed operation is reported in the status of the response
	Handle(partition uint16, req *common.Packet, s store.IStore) (resp *common.Packet)
}
