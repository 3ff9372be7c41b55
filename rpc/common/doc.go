// Package common provides the data structures shared by the client core, the
// transport layer and the simulated cluster nodes.
//
// The package focuses on:
//   - The key-value protocol packet (opcodes, status codes, extras)
//   - Configuration structures for the client core and the simulated cluster
//   - Custom logging implementation based on dragonboats logger package
//
// Key Components:
//
//   - Packet: the single structure used for requests and responses. Partition and
//     correlation id travel in the transport frame header, not in the packet.
//
//   - Opcode / Status: the memcached style binary protocol constants. Status codes
//     are interpreted by the response demultiplexer of the client core.
//
//   - ClientConfig: endpoints, keyspace layout, default timeout, retry backoff and
//     durability polling of the client core.
//
//   - ServerConfig: node endpoints, keyspace layout and persistence/replication
//     delays of the simulated cluster.
//
//   - Logger: named loggers (dispatch, durability, transport/rpc, server, store)
//     with a consistent "LEVEL | name | message" format.
package common
