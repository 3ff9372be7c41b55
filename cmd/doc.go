// Package cmd implements the command-line interface of kvcore. It provides a
// hierarchical command structure for running a simulated cluster and for
// talking to it through the client core.
//
// The package is organized into several subpackages:
//
//   - kv: Document operations (get, insert, upsert, replace, remove, append,
//     prepend, incr, decr, touch), ping and the perf load generator
//   - lock: Pessimistic locking of documents (acquire, release)
//   - serve: Starts a simulated cluster with one endpoint per node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Flags can be set through environment variables with the KVCORE_ prefix
// (e.g. KVCORE_ENDPOINTS), .env and .env.local files are loaded on start.
//
// See kvcore -help for a list of all commands.
package cmd
