// Package server implements the RPC server of the simulated cluster. It serves
// every node of an lstore.Cluster on its own endpoint, so a client configured
// with the same endpoints sees a cluster of independent nodes.
//
// The package focuses on:
//   - Server-side handling of the key-value protocol packets
//   - Adapter pattern to decouple the protocol from the store implementation
//   - One transport per node, all nodes share one cluster state
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for server adapters,
//     with the Handle method that processes a request against a store.IStore.
//
//   - NewIStoreServerAdapter: Factory function creating the adapter that
//     translates packets into store.IStore calls and store statuses back into
//     protocol statuses. Mutations answer with the new CAS and the mutation
//     token, observe requests with the sequence numbers of the node.
//
//   - NewRPCServer: Factory function creating the cluster and a transport per
//     node with the given transport factory and serializer.
//
// Usage Example:
//
//	config := common.ServerConfig{
//		Transport: common.ServerTransportConf{
//			Endpoints: []string{"localhost:11210", "localhost:11211", "localhost:11212"},
//		},
//		Bucket:         "default",
//		NumPartitions:  64,
//		NumReplicas:    1,
//		PersistDelay:   5 * time.Millisecond,
//		ReplicateDelay: 2 * time.Millisecond,
//	}
//
//	s, err := server.NewRPCServer(config, tcp.NewTCPServerTransport, serializer.NewBinarySerializer())
//	if err != nil {
//		log.Fatalf("Server error: %v", err)
//	}
//	if err := s.Serve(); err != nil {
//		log.Fatalf("Server error: %v", err)
//	}
//
// A node only accepts document operations for the partitions it is active
// for, everything else is answered with NotMyVBucket. Observe requests are
// answered by the active node and the replicas of a partition.
//
// Thread Safety:
//
//	The server handles concurrent requests across multiple connections and
//	nodes. Serve should be called only once.
package server
