// Package client implements the client core of the key-value protocol: it
// dispatches requests to the nodes that own their keys, matches responses to
// pending requests, retries failed attempts and verifies durability.
//
// The package focuses on:
//   - Non-blocking submission: every request completes through a single kv.Future
//   - At most once completion, late and duplicate responses are discarded
//   - A request deadline that is armed once and survives all retries
//   - Client verified durability by polling the observe state of the nodes
//
// Key Components:
//
//   - Core: The shared service of a client session. Submit validates a
//     kv.Request, routes it with the topology, encodes it into a protocol packet
//     and writes it as one frame on a pooled connection. One pending entry per
//     attempt is kept in a concurrent map keyed by correlation id.
//
//   - Demultiplexer: The transport hands every response frame to the core. The
//     pending entry is removed with LoadAndDelete before the status is mapped
//     to a result or an error kind, so a correlation id completes at most once.
//     A broken connection fails only the attempts written on it.
//
//   - Retry orchestration: Failures are classified and passed to the retry
//     strategy of the request. A retry gets a fresh correlation id and keeps the
//     original deadline. Giving up reports the last error with the attempt count.
//
//   - Durability: A successful mutation with a durability requirement hands its
//     mutation token to a durability.Poller. The core itself is the observer of
//     the poller, observe requests take the same dispatch path as every other
//     request.
//
//   - Collection: The typed API (Get, Insert, Upsert, Replace, Remove, Append,
//     Prepend, Increment, Decrement, Touch, GetAndLock, Unlock) on top of the
//     core, converting values with an encoding.Transcoder.
//
//   - Locker: Pessimistic locks on documents based on get-and-lock and unlock.
//
// Usage Example:
//
//	core, err := client.NewCore(
//		common.DefaultClientConfig("localhost:11210", "localhost:11211"),
//		tcp.NewTCPClientTransport(),
//		serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//		panic(err)
//	}
//	defer core.Close()
//
//	col := core.Collection("", "")
//	res, err := col.Upsert(ctx, "user::1", user, &client.Options{
//		Durability: kv.DurabilityMajority,
//	})
//	if errors.Is(err, kv.ErrDurabilityTimeout) {
//		// the write happened, but was not acknowledged as durable in time
//	}
//
// Thread Safety:
//
//	Core, Collection and Locker are safe for concurrent use from multiple
//	goroutines without additional synchronization.
package client
