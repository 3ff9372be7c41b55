package server

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/ValentinKolb/kvcore/lib/store/lstore"
	"github.com/ValentinKolb/kvcore/rpc/common"
	"github.com/ValentinKolb/kvcore/rpc/serializer"
	"github.com/ValentinKolb/kvcore/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("server")

// TransportFactory creates the server transport of one node
type TransportFactory func(config common.ServerTransportConf) transport.IRPCServerTransport

// serverNode is a node of the cluster together with the transport serving it
// and the adapter that handles its requests
type serverNode struct {
	Endpoint  string
	Store     *lstore.Node
	Adapter   IRPCServerAdapter
	Transport transport.IRPCServerTransport
}

// RPCServer serves a simulated cluster, one transport per node. The node names
// are the endpoints, so a client configured with the same endpoints routes
// requests the way the cluster expects.
type RPCServer struct {
	config     common.ServerConfig
	serializer serializer.IRPCSerializer
	cluster    *lstore.Cluster
	nodes      []serverNode

	started   chan struct{}
	closeOnce sync.Once
	metrics   *http.Server
}

// NewRPCServer creates a new RPC server
// It takes a config, a transport factory and a serializer as parameters
//
// Usage:
//
//	s, err := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport,
//		serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//		panic(err)
//	}
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(config common.ServerConfig, newTransport TransportFactory, serializer serializer.IRPCSerializer) (*RPCServer, error) {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	endpoints := config.Transport.Endpoints
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints provided")
	}

	cluster, err := lstore.NewCluster(endpoints, lstore.Config{
		NumPartitions:  config.NumPartitions,
		NumReplicas:    config.NumReplicas,
		PersistDelay:   config.PersistDelay,
		ReplicateDelay: config.ReplicateDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	s := &RPCServer{
		config:     config,
		serializer: serializer,
		cluster:    cluster,
		started:    make(chan struct{}),
	}
	if config.MetricsEndpoint != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			metrics.WritePrometheus(w, true)
		})
		s.metrics = &http.Server{Addr: config.MetricsEndpoint, Handler: mux}
	}

	for _, endpoint := range endpoints {
		node := serverNode{
			Endpoint:  endpoint,
			Store:     cluster.Node(endpoint),
			Adapter:   NewIStoreServerAdapter(endpoint, config.Bucket),
			Transport: newTransport(config.Transport),
		}
		node.Transport.RegisterHandler(s.handler(node))
		s.nodes = append(s.nodes, node)
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", config.String())
	return s, nil
}

// Cluster returns the simulated cluster behind the server
func (s *RPCServer) Cluster() *lstore.Cluster {
	return s.cluster
}

// Started returns a channel that is closed once every node listens
func (s *RPCServer) Started() <-chan struct{} {
	return s.started
}

// Serve starts the transports of all nodes and the metrics endpoint. It blocks
// until Close is called or a transport fails.
func (s *RPCServer) Serve() error {
	if s.metrics != nil {
		s.serveMetrics()
	}

	var g errgroup.Group
	for _, node := range s.nodes {
		node := node
		g.Go(func() error {
			if err := node.Transport.Listen(node.Endpoint); err != nil {
				return fmt.Errorf("node %s: %w", node.Endpoint, err)
			}
			return nil
		})
	}

	go func() {
		for _, node := range s.nodes {
			<-node.Transport.Started()
		}
		close(s.started)
		Logger.Infof("kvcore cluster with %d nodes is up", len(s.nodes))
	}()

	return g.Wait()
}

// Close stops all transports, the metrics endpoint and the cluster
func (s *RPCServer) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		for _, node := range s.nodes {
			if err := node.Transport.Close(); err != nil {
				errs = append(errs, fmt.Errorf("node %s: %w", node.Endpoint, err))
			}
		}
		if s.metrics != nil {
			if err := s.metrics.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.cluster.Close()
	})
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handler decodes a request, lets the adapter of the node handle it and
// encodes the response
func (s *RPCServer) handler(node serverNode) transport.ServerHandleFunc {
	return func(partition uint16, req []byte) []byte {
		var pkt common.Packet
		var resp *common.Packet

		if err := s.serializer.Deserialize(req, &pkt); err != nil {
			resp = common.NewErrorResponse(pkt.Opcode, common.StatusInvalidArgs,
				fmt.Sprintf("failed to deserialize request: %s", err))
		} else if int(partition) >= s.config.NumPartitions {
			resp = common.NewErrorResponse(pkt.Opcode, common.StatusInvalidArgs,
				fmt.Sprintf("partition %d out of range", partition))
		} else {
			resp = node.Adapter.Handle(partition, &pkt, node.Store)
		}

		val, err := s.serializer.Serialize(*resp)
		if err != nil {
			Logger.Errorf("Failed to serialize response for %s: %v", pkt.Opcode, err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(pkt.Opcode, common.StatusInternalError, "failed to serialize response"))
		}
		return val
	}
}

// serveMetrics exposes the metrics in the prometheus text format
func (s *RPCServer) serveMetrics() {
	go func() {
		Logger.Infof("Serving metrics on http://%s/metrics", s.config.MetricsEndpoint)
		if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Metrics endpoint failed: %v", err)
		}
	}()
}
