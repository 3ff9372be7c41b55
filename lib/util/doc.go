// Package util provides small shared building blocks.
//
// The package contains:
//   - mpsc: a lock-free Multi-Producer Single-Consumer queue with an unbounded
//     buffer, used by the simulated nodes to hand mutations to their
//     persistence and replication workers
//   - mapheap: a min-heap with access by key, used as the expiry queue of the
//     expiry pager of the simulated nodes
//   - functions: random seeds for partition uuids and CAS values
package util
