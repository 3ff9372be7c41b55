// Package transport defines the interfaces of the frame based communication
// between the client core and the cluster nodes. Every frame carries the
// partition and the correlation id of a request next to the serialized packet,
// so many requests can be in flight on one connection.
//
// The package focuses on:
//   - Clear interfaces for client and server transport layers
//   - Asynchronous delivery: responses are pushed to a FrameHandler instead of
//     being returned from a send call
//   - Multiple transport implementations (TCP, Unix sockets, in-process pipes)
//
// Key Components:
//
//   - IRPCClientTransport: Owns the per-node connection pools. Acquire borrows a
//     healthy IConnection, broken connections are reported to the
//     ConnLostHandler and re-dialed in the background.
//
//   - IConnection: One multiplexed connection with a unique id, so requests
//     written on a broken connection can be told apart from requests written
//     on its replacement.
//
//   - IRPCServerTransport: Serves one node endpoint and hands every request
//     frame to the registered ServerHandleFunc.
package transport
