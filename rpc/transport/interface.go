package transport

import (
	"errors"

	"github.com/ValentinKolb/kvcore/rpc/common"
)

// ErrNoConnection is returned by Acquire when no healthy connection to the
// requested endpoint exists.
var ErrNoConnection = errors.New("no healthy connection")

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes a partition and a request as parameters and returns a response
type ServerHandleFunc func(partition uint16, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer of one node
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and serves incoming requests on the
	// endpoint until Close is called. It blocks.
	Listen(endpoint string) error
	// Started returns a channel that is closed once Listen accepts connections
	// or failed to create its listener
	Started() <-chan struct{}
	// Close stops listening and closes all connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// FrameHandler is called by the reader goroutine of a connection for every
// frame that arrives. Frames of one connection are handed over one at a time,
// frames of different connections concurrently.
type FrameHandler func(conn IConnection, partition uint16, correlationID uint64, payload []byte)

// ConnLostHandler is called once when a connection breaks. The transport
// reconnects on its own, the callback only has to fail what was written on
// the broken connection.
type ConnLostHandler func(conn IConnection, err error)

// IConnection is a single multiplexed connection borrowed from the pool
type IConnection interface {
	// ID identifies the connection (unique per transport, never reused)
	ID() uint64
	// Endpoint returns the endpoint the connection belongs to
	Endpoint() string
	// WriteFrame writes one frame. Concurrent calls are serialized.
	WriteFrame(partition uint16, correlationID uint64, payload []byte) error
	// Healthy reports whether the connection can currently be written to
	Healthy() bool
}

// IRPCClientTransport is the interface for the RPC client transport. It owns
// the per-node connection pools.
type IRPCClientTransport interface {
	// Connect initializes the pools with the given configuration. Frames are
	// delivered to onFrame, broken connections are reported to onLost.
	Connect(config common.ClientTransportConf, onFrame FrameHandler, onLost ConnLostHandler) error
	// Acquire borrows a healthy connection to endpoint or returns ErrNoConnection
	Acquire(endpoint string) (IConnection, error)
	// Release returns a borrowed connection to the pool
	Release(conn IConnection)
	// Close closes all connections
	Close() error
}
