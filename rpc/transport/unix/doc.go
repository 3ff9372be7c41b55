// Package unix implements the transport of the key-value protocol over Unix
// domain sockets, for client and cluster running on the same machine. The
// endpoints are socket paths, a stale socket file is removed before listening.
//
// This package extends the base transport layer with Unix socket-specific
// connectors while inheriting connection pooling, reconnects and the frame
// format from the base package.
//
// Key Components:
//
//   - NewUnixClientTransport: client transport dialing socket paths
//
//   - NewUnixServerTransport: server transport of one node, it matches
//     server.TransportFactory
package unix
