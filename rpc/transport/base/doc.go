// Package base provides the foundation of the socket based transports,
// independent of the specific network protocol (TCP, Unix sockets, pipes). It
// is extended with protocol-specific connectors.
//
// The package focuses on:
//   - Protocol-agnostic client and server transport implementations
//   - Connection pooling per endpoint with background reconnects
//   - Frame-based message protocol with partition and correlation id
//   - Out of order responses, the server processes the requests of one
//     connection concurrently
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Keeps a fixed number of connection slots per endpoint and
//     hands them out round robin. A reader goroutine per connection delivers
//     frames to the FrameHandler. When a connection breaks, the ConnLostHandler
//     is called once and the slot dials a replacement with exponential backoff.
//
//   - serverTransport: Accepts connections and dispatches every frame to a
//     bounded worker pool of the connection. Responses carry the correlation id
//     of their request and are written as soon as they are ready.
//
// Performance Optimizations:
//
//   - Connection Pooling: Multiple connections per endpoint improve throughput
//     for large messages. For small messages a single connection per endpoint
//     may perform better due to reduced overhead.
//
//   - Buffer Pooling: The server uses a sync.Pool to reuse read buffers, reducing
//     GC pressure and memory allocations.
//
//   - Frame Batching: The transport uses net.Buffers to reduce syscalls when
//     writing frames, combining header and payload into a single write operation.
//
// Thread Safety:
//
//	All public methods are thread-safe. Frame writes of one connection are
//	serialized with a mutex, frames of one connection are delivered one at a
//	time.
package base
