// Package rpc is the communication layer between the client core and the
// cluster nodes. Requests and responses are protocol packets, carried as
// frames over multiplexed connections.
//
// The package is organized into several subpackages:
//
//   - common: The protocol packet (opcodes, status codes), the configuration
//     structures of client and server and the named loggers.
//
//   - transport: Frame based communication with pluggable implementations
//     (TCP, Unix sockets, in-process pipes).
//
//   - serializer: Packet serialization with multiple format options (Binary, JSON, GOB).
//
//   - client: The client core. Routes requests to the nodes owning their keys,
//     matches responses, retries and verifies durability. Also the typed
//     collection API and the document locker on top of it.
//
//   - server: Serves a simulated cluster, one transport per node, with an
//     adapter translating packets into store operations.
package rpc
