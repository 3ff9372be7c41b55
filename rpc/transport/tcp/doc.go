// Package tcp implements the TCP transport of the key-value protocol. It
// provides the connectors for the base package and applies the socket options
// (no delay, keep alive, linger, buffer sizes) of common.SocketConf.
//
// See the base package documentation for connection pooling, reconnects and
// the frame format.
//
// Key Components:
//
//   - NewTCPClientTransport: client transport dialing host:port endpoints
//
//   - NewTCPServerTransport: server transport of one node, it matches
//     server.TransportFactory
package tcp
