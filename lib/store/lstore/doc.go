// Package lstore implements an in-memory cluster of simulated nodes, each of
// which satisfies store.IStore. It exists to exercise the client core end to
// end: routing, status handling, CAS, locking and durability polling.
//
// Key Features:
//   - Partition layout taken from topology.NewMap, so client and cluster agree
//     on which node is active for a key
//   - Per partition sequence numbers and uuids, returned as mutation tokens
//   - Asynchronous persistence and replication with configurable delays
//   - Persistence and replication can be paused per node to simulate a lagging
//     disk or replica, and partitions can be failed over
//
// Implementation Details:
//
//   - Mutations: a mutation is only accepted by the active node of its
//     partition. Under the partition lock it is checked (existence, CAS, lock),
//     stored, assigned a new CAS and the next sequence number, and pushed to the
//     persistence queue of the node and the replication queues of the replicas.
//     Holding the lock while queueing keeps the queues in sequence number order.
//
//   - Workers: every node runs one persistence and one replication worker, each
//     consuming a util.MPSC queue. Items carry the time they are due, since the
//     delay of a queue is fixed the queue is also ordered by due time.
//
//   - Reads: documents are immutable values in an xsync map, readers load them
//     without taking the partition lock. Expired documents are treated as absent
//     and removed by the next mutation of the key.
//
//   - Expiry pager: every partition keeps a util.MapHeap of expiry times. A
//     third worker pops the due keys periodically and frees the documents that
//     are still expired.
//
// Usage Example:
//
//	cluster, err := lstore.NewCluster([]string{"n0", "n1", "n2"}, lstore.Config{
//		NumPartitions:  64,
//		NumReplicas:    2,
//		PersistDelay:   5 * time.Millisecond,
//		ReplicateDelay: 2 * time.Millisecond,
//	})
//	defer cluster.Close()
//
//	node := cluster.Node("n0")
//	node.SetPersistence(false) // n0 stops persisting
package lstore
