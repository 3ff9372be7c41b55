// Package kv holds the public vocabulary of the client core: keyspaces,
// operations, requests, results, errors and futures.
//
// Every request completes exactly once through its Future, either with a
// Result or with an *Error. Errors carry an ErrorKind, which callers match
// with errors.Is against the Err* sentinels:
//
//	res, err := fut.Wait(ctx)
//	if errors.Is(err, kv.ErrDocumentNotFound) {
//		...
//	}
//
// A DurabilityTimeout also matches ErrTimeout.
package kv
