// Package store defines the server side contract of a cluster node: the
// document operations of the key-value protocol, addressed by partition.
//
// Key Components:
//
//   - IStore Interface: the operations a node serves (get, get-and-lock,
//     unlock, touch, add, set, replace, delete, append, prepend, counter and
//     observe-seqno). Operations return a Status instead of an error, the
//     status is translated one to one into the protocol status of the response.
//
//   - Status Codes: the outcomes of the operations. The rpc server maps them to
//     protocol status codes, the client core classifies those into its error
//     kinds.
//
//   - Expiry: ExpiryTime decodes the protocol expiry, where values up to 30
//     days are relative seconds and larger values are unix timestamps.
//
// Implementations:
//
//	- Local Cluster (lstore): in-memory nodes with per partition sequence
//	  numbers and asynchronous persistence and replication. Available in the
//	  "github.com/ValentinKolb/kvcore/lib/store/lstore" package.
package store
